package domain

import (
	"context"
	"time"
)

// EventType names a task change.
type EventType string

const (
	TaskCreated EventType = "task-created"
	TaskUpdated EventType = "task-updated"
	TaskDeleted EventType = "task-deleted"
)

// TaskEvent describes a committed change to a task. For TaskDeleted only
// Task.ID is set.
type TaskEvent struct {
	Type      EventType
	Task      Task
	Timestamp time.Time
}

// EventPublisher delivers task change events to interested consumers.
type EventPublisher interface {
	Publish(ctx context.Context, ev TaskEvent) error
}
