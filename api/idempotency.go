package api

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	headerIdempotencyKey      = "Idempotency-Key"
	headerIdempotentReplayed  = "Idempotent-Replayed"
	idempotencyPending        = "pending"
	idempotencyKeyPrefix      = "idempotency:task-create:"
	defaultIdempotencyTimeout = 24 * time.Hour
	defaultPendingTimeout     = 30 * time.Second
)

// IdempotencyStore remembers which task a create request produced so a
// retried request returns the same task instead of creating another.
type IdempotencyStore interface {
	// Reserve records key as in flight. It returns false when the key was
	// seen before.
	Reserve(ctx context.Context, key string) (bool, error)
	// Complete binds key to the created task id.
	Complete(ctx context.Context, key string, id int64) error
	// Lookup returns the task id bound to key. done is false while the first
	// request is still in flight.
	Lookup(ctx context.Context, key string) (id int64, done bool, err error)
	// Release forgets key so the caller may retry after a failure.
	Release(ctx context.Context, key string) error
}

// RedisDeduper stores idempotency keys in Redis so all instances share them.
// An in-flight marker lives for pendingTTL only, so a request that dies
// between Reserve and Complete blocks its key briefly instead of for ttl.
type RedisDeduper struct {
	client     redis.UniversalClient
	ttl        time.Duration
	pendingTTL time.Duration
}

// NewRedisDeduper creates a deduper using the provided Redis client and TTL.
func NewRedisDeduper(client redis.UniversalClient, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = defaultIdempotencyTimeout
	}
	return &RedisDeduper{client: client, ttl: ttl, pendingTTL: min(defaultPendingTimeout, ttl)}
}

func (r *RedisDeduper) key(key string) string {
	return idempotencyKeyPrefix + key
}

func (r *RedisDeduper) Reserve(ctx context.Context, key string) (bool, error) {
	return r.client.SetNX(ctx, r.key(key), idempotencyPending, r.pendingTTL).Result()
}

func (r *RedisDeduper) Complete(ctx context.Context, key string, id int64) error {
	return r.client.Set(ctx, r.key(key), strconv.FormatInt(id, 10), r.ttl).Err()
}

func (r *RedisDeduper) Lookup(ctx context.Context, key string) (int64, bool, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if val == idempotencyPending {
		return 0, false, nil
	}
	id, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

func (r *RedisDeduper) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
