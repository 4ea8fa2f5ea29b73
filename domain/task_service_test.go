package domain

import (
	"context"
	"errors"
	"reflect"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newTestService(t *testing.T) (*TaskService, *fakeStore, *recordingPublisher) {
	t.Helper()
	store := newFakeStore()
	pub := &recordingPublisher{}
	logger, _ := test.NewNullLogger()
	return NewTaskService(store, NewBoard(nil), pub, logger), store, pub
}

func validDraft(title string, status Status, order int) TaskDraft {
	return TaskDraft{Title: title, Status: statusPtr(status), Order: intPtr(order)}
}

func TestListEmpty(t *testing.T) {
	svc, _, _ := newTestService(t)
	tasks, err := svc.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if tasks == nil || len(tasks) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", tasks)
	}
}

func TestListOrdersByOrder(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	for _, order := range []int{5, -1, 3, 0} {
		if _, err := svc.Create(ctx, validDraft("t", StatusTodo, order)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	tasks, err := svc.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []int
	for _, task := range tasks {
		got = append(got, task.Order)
	}
	if !reflect.DeepEqual(got, []int{-1, 0, 3, 5}) {
		t.Fatalf("unexpected order %v", got)
	}
}

func TestCreateThenGet(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()

	draft := validDraft("Write spec", StatusTodo, 1)
	created, err := svc.Create(ctx, draft)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == 0 {
		t.Fatalf("expected id to be assigned")
	}
	got, err := svc.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !reflect.DeepEqual(got, created) {
		t.Fatalf("get = %+v, want %+v", got, created)
	}
	if types := pub.Types(); !reflect.DeepEqual(types, []EventType{TaskCreated}) {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestCreateRejectsBlankTitle(t *testing.T) {
	svc, store, pub := newTestService(t)
	_, err := svc.Create(context.Background(), validDraft(" ", StatusTodo, 1))
	if !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(store.tasks) != 0 {
		t.Fatalf("nothing should be stored")
	}
	if len(pub.Types()) != 0 {
		t.Fatalf("no event expected on failure")
	}
}

func TestUpdateMovesTask(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validDraft("Write spec", StatusTodo, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := svc.Update(ctx, created.ID, validDraft("Write spec", StatusDone, 4))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ID != created.ID || updated.Status != StatusDone || updated.Order != 4 {
		t.Fatalf("unexpected updated task %+v", updated)
	}
	if types := pub.Types(); !reflect.DeepEqual(types, []EventType{TaskCreated, TaskUpdated}) {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestUpdateUnknownIDIsNotFoundRegardlessOfPayload(t *testing.T) {
	svc, _, _ := newTestService(t)
	for name, draft := range map[string]TaskDraft{
		"valid":   validDraft("x", StatusTodo, 1),
		"invalid": {},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Update(context.Background(), 99, draft)
			var de *Error
			if !errors.As(err, &de) || de.Kind != KindNotFound {
				t.Fatalf("expected not found, got %v", err)
			}
			if de.Msg != "Task not found with id: 99" {
				t.Fatalf("unexpected message %q", de.Msg)
			}
		})
	}
}

func TestUpdateInvalidDraftLeavesTaskUntouched(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validDraft("keep", StatusTodo, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Update(ctx, created.ID, TaskDraft{Title: ""}); !IsKind(err, KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.tasks[created.ID].Title != "keep" {
		t.Fatalf("task should not change on invalid update")
	}
}

func TestDeleteTwice(t *testing.T) {
	svc, _, pub := newTestService(t)
	ctx := context.Background()
	created, err := svc.Create(ctx, validDraft("x", StatusTodo, 1))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := svc.Delete(ctx, created.ID); !IsKind(err, KindNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
	if types := pub.Types(); !reflect.DeepEqual(types, []EventType{TaskCreated, TaskDeleted}) {
		t.Fatalf("unexpected events %v", types)
	}
}

func TestPublishFailureDoesNotFailRequest(t *testing.T) {
	store := newFakeStore()
	pub := &recordingPublisher{err: errors.New("queue down")}
	logger, hook := test.NewNullLogger()
	svc := NewTaskService(store, nil, pub, logger)

	if _, err := svc.Create(context.Background(), validDraft("x", StatusTodo, 1)); err != nil {
		t.Fatalf("create should succeed when publishing fails: %v", err)
	}
	entry := hook.LastEntry()
	if entry == nil || entry.Level != log.WarnLevel {
		t.Fatalf("expected a warning log, got %#v", entry)
	}
	if entry.Data["event"] != string(TaskCreated) {
		t.Fatalf("unexpected log fields %#v", entry.Data)
	}
}

func TestStorageErrorsAreWrapped(t *testing.T) {
	store := newFakeStore()
	boom := errors.New("disk full")
	store.listErr = boom
	svc := NewTaskService(store, nil, nil, nil)

	_, err := svc.List(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped storage error, got %v", err)
	}
	if KindOf(err) != KindInternal {
		t.Fatalf("storage errors should be internal, got %s", KindOf(err))
	}
}

func TestSpansRecorded(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		_ = tp.Shutdown(context.Background())
		otel.SetTracerProvider(prev)
	})

	store := newFakeStore()
	store.listErr = errors.New("boom")
	svc := NewTaskService(store, nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.Get(ctx, 3); !IsKind(err, KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.List(ctx); err == nil {
		t.Fatalf("expected list error")
	}

	spans := recorder.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	if spans[0].Name() != "tasks.get" || spans[1].Name() != "tasks.list" {
		t.Fatalf("unexpected span names %q, %q", spans[0].Name(), spans[1].Name())
	}
	if spans[0].Status().Code == codes.Error {
		t.Fatalf("not found should not mark the span as failed")
	}
	if spans[1].Status().Code != codes.Error {
		t.Fatalf("storage failure should mark the span as failed")
	}
}
