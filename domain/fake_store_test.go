package domain

import (
	"context"
	"sort"
	"sync"
)

type fakeStore struct {
	mu      sync.Mutex
	tasks   map[int64]Task
	nextID  int64
	listErr error
	pingErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[int64]Task{}}
}

func (f *fakeStore) ListTasks(ctx context.Context) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Task
	for _, t := range f.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (f *fakeStore) GetTask(ctx context.Context, id int64) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	return t, nil
}

func (f *fakeStore) InsertTask(ctx context.Context, t Task) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t.ID = f.nextID
	f.tasks[t.ID] = t
	return t, nil
}

func (f *fakeStore) ReplaceTask(ctx context.Context, id int64, fn func(*Task) error) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return Task{}, ErrTaskNotFound
	}
	if err := fn(&t); err != nil {
		return Task{}, err
	}
	t.ID = id
	f.tasks[id] = t
	return t, nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tasks[id]; !ok {
		return ErrTaskNotFound
	}
	delete(f.tasks, id)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return f.pingErr }

type recordingPublisher struct {
	mu     sync.Mutex
	events []TaskEvent
	err    error
}

func (r *recordingPublisher) Publish(ctx context.Context, ev TaskEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return r.err
}

func (r *recordingPublisher) Types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}
