package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "dozenflow-api/domain"

// TaskStorage defines the persistence operations the service relies on.
// Implementations report unknown ids with ErrTaskNotFound.
type TaskStorage interface {
	// ListTasks returns every task ordered by Order, then ID.
	ListTasks(ctx context.Context) ([]Task, error)
	GetTask(ctx context.Context, id int64) (Task, error)
	// InsertTask stores t and returns it with the id assigned by storage.
	InsertTask(ctx context.Context, t Task) (Task, error)
	// ReplaceTask loads the task, passes it to fn and persists the result
	// atomically. If fn returns an error nothing is written.
	ReplaceTask(ctx context.Context, id int64, fn func(*Task) error) (Task, error)
	DeleteTask(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// TaskService implements the task operations on top of a TaskStorage.
type TaskService struct {
	store  TaskStorage
	board  *Board
	events EventPublisher
	log    *log.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewTaskService creates a service. events may be nil when change
// notifications are disabled.
func NewTaskService(store TaskStorage, board *Board, events EventPublisher, logger *log.Logger) *TaskService {
	if store == nil {
		panic("domain.NewTaskService: store is nil")
	}
	if board == nil {
		board = NewBoard(nil)
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{
		store:  store,
		board:  board,
		events: events,
		log:    logger,
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
}

// Board returns the columns the service validates against.
func (s *TaskService) Board() *Board { return s.board }

// Ping checks that storage is reachable.
func (s *TaskService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// List returns all tasks ordered ascending by Order.
func (s *TaskService) List(ctx context.Context) (tasks []Task, err error) {
	ctx, span := s.tracer.Start(ctx, "tasks.list")
	defer func() { endSpan(span, err) }()

	tasks, err = s.store.ListTasks(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	span.SetAttributes(attribute.Int("tasks.count", len(tasks)))
	return tasks, nil
}

// Get returns the task with the given id.
func (s *TaskService) Get(ctx context.Context, id int64) (task Task, err error) {
	ctx, span := s.tracer.Start(ctx, "tasks.get", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer func() { endSpan(span, err) }()

	task, err = s.store.GetTask(ctx, id)
	if err != nil {
		return Task{}, translate(id, "get task", err)
	}
	return task, nil
}

// Create validates the draft and stores a new task.
func (s *TaskService) Create(ctx context.Context, draft TaskDraft) (task Task, err error) {
	ctx, span := s.tracer.Start(ctx, "tasks.create")
	defer func() { endSpan(span, err) }()

	if err = s.board.Validate(draft); err != nil {
		return Task{}, err
	}
	task, err = s.store.InsertTask(ctx, draft.NewTask())
	if err != nil {
		return Task{}, fmt.Errorf("insert task: %w", err)
	}
	span.SetAttributes(attribute.Int64("task.id", task.ID))
	s.publish(ctx, TaskCreated, task)
	return task, nil
}

// Update overwrites every mutable field of an existing task. An unknown id is
// reported before the draft is validated.
func (s *TaskService) Update(ctx context.Context, id int64, draft TaskDraft) (task Task, err error) {
	ctx, span := s.tracer.Start(ctx, "tasks.update", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer func() { endSpan(span, err) }()

	task, err = s.store.ReplaceTask(ctx, id, func(t *Task) error {
		if err := s.board.Validate(draft); err != nil {
			return err
		}
		draft.Apply(t)
		return nil
	})
	if err != nil {
		return Task{}, translate(id, "replace task", err)
	}
	s.publish(ctx, TaskUpdated, task)
	return task, nil
}

// Delete removes the task with the given id.
func (s *TaskService) Delete(ctx context.Context, id int64) (err error) {
	ctx, span := s.tracer.Start(ctx, "tasks.delete", trace.WithAttributes(attribute.Int64("task.id", id)))
	defer func() { endSpan(span, err) }()

	if err = s.store.DeleteTask(ctx, id); err != nil {
		return translate(id, "delete task", err)
	}
	s.publish(ctx, TaskDeleted, Task{ID: id})
	return nil
}

func (s *TaskService) publish(ctx context.Context, typ EventType, task Task) {
	if s.events == nil {
		return
	}
	ev := TaskEvent{Type: typ, Task: task, Timestamp: s.now().UTC()}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.WithFields(log.Fields{
			"event":   string(typ),
			"task_id": task.ID,
		}).WithError(err).Warn("publish task event failed")
	}
}

// translate keeps classified errors as they are and turns storage not-found
// into a KindNotFound error naming the id.
func translate(id int64, op string, err error) error {
	var de *Error
	if errors.As(err, &de) {
		return err
	}
	if errors.Is(err, ErrTaskNotFound) {
		return NotFound(id)
	}
	return fmt.Errorf("%s %d: %w", op, id, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil && !IsKind(err, KindValidation) && !IsKind(err, KindNotFound) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if err != nil {
		span.SetAttributes(attribute.String("error.kind", string(KindOf(err))))
	}
	span.End()
}
