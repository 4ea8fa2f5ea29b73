package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"dozenflow-api/domain"
)

const (
	tasksCacheKey      = "tasks:all"
	tasksGenerationKey = "tasks:generation"
)

var errStaleList = errors.New("task list changed while loading")

// Cache wraps a TaskStorage with a Redis-backed copy of the task list. Every
// successful write bumps a generation counter and evicts the cached list. A
// list loaded from the backing storage is only stored if the generation has
// not moved since the load started.
type Cache struct {
	base  domain.TaskStorage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided Redis client and TTL.
func NewCache(base domain.TaskStorage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListTasks(ctx context.Context) ([]domain.Task, error) {
	if tasks, ok := c.loadTasks(ctx); ok {
		return tasks, nil
	}

	gen, ok := c.generation(ctx)
	tasks, err := c.base.ListTasks(ctx)
	if err != nil {
		return nil, err
	}

	if ok {
		c.storeTasks(ctx, tasks, gen)
	}
	return tasks, nil
}

func (c *Cache) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return c.base.GetTask(ctx, id)
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	out, err := c.base.InsertTask(ctx, t)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return out, nil
}

func (c *Cache) ReplaceTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	out, err := c.base.ReplaceTask(ctx, id, fn)
	if err != nil {
		return domain.Task{}, err
	}
	c.evict(ctx)
	return out, nil
}

func (c *Cache) DeleteTask(ctx context.Context, id int64) error {
	if err := c.base.DeleteTask(ctx, id); err != nil {
		return err
	}
	c.evict(ctx)
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.base.Ping(ctx)
}

func (c *Cache) loadTasks(ctx context.Context) ([]domain.Task, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, tasksCacheKey).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, tasksCacheKey).Err()
		}
		return nil, false
	}
	var tasks []domain.Task
	if err := sonic.Unmarshal(data, &tasks); err != nil {
		_ = c.redis.Del(ctx, tasksCacheKey).Err()
		return nil, false
	}
	if tasks == nil {
		tasks = []domain.Task{}
	}
	return tasks, true
}

func (c *Cache) generation(ctx context.Context) (int64, bool) {
	if c.redis == nil {
		return 0, false
	}
	gen, err := c.redis.Get(ctx, tasksGenerationKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

// storeTasks writes the list under WATCH so a write that lands after gen was
// read makes the store a no-op.
func (c *Cache) storeTasks(ctx context.Context, tasks []domain.Task, gen int64) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(tasks)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, tasksGenerationKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStaleList
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, tasksCacheKey, data, c.ttl)
			return nil
		})
		return err
	}, tasksGenerationKey)
}

func (c *Cache) evict(ctx context.Context) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, tasksGenerationKey)
		pipe.Del(ctx, tasksCacheKey)
		return nil
	})
}
