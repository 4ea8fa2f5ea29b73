package domain

import (
	"errors"
	"reflect"
	"testing"
)

func statusPtr(s Status) *Status { return &s }
func intPtr(i int) *int          { return &i }
func strPtr(s string) *string    { return &s }

func TestBoardValidate(t *testing.T) {
	board := NewBoard(nil)

	tests := []struct {
		name  string
		draft TaskDraft
		want  []string
	}{
		{
			name:  "valid",
			draft: TaskDraft{Title: "Write spec", Status: statusPtr(StatusTodo), Order: intPtr(0)},
		},
		{
			name:  "blank title",
			draft: TaskDraft{Title: "  \t", Status: statusPtr(StatusTodo), Order: intPtr(1)},
			want:  []string{"title: Title cannot be blank"},
		},
		{
			name:  "missing status and order",
			draft: TaskDraft{Title: "x"},
			want:  []string{"status: Status cannot be null", "order: Order cannot be null"},
		},
		{
			name:  "unknown status",
			draft: TaskDraft{Title: "x", Status: statusPtr("BLOCKED"), Order: intPtr(1)},
			want:  []string{"status: Status must be one of TODO, IN_PROGRESS, DONE"},
		},
		{
			name:  "everything missing",
			draft: TaskDraft{},
			want: []string{
				"title: Title cannot be blank",
				"status: Status cannot be null",
				"order: Order cannot be null",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := board.Validate(tt.draft)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("expected no error, got %v", err)
				}
				return
			}
			var de *Error
			if !errors.As(err, &de) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if de.Kind != KindValidation {
				t.Fatalf("unexpected kind %s", de.Kind)
			}
			got := make([]string, len(de.Fields))
			for i, f := range de.Fields {
				got[i] = f.String()
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("field errors = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoardCustomStatuses(t *testing.T) {
	board := NewBoard([]Status{"A_FAZER", "FAZENDO", "FEITO"})
	if !board.Allows("FAZENDO") {
		t.Fatalf("expected configured status to be allowed")
	}
	if board.Allows(StatusTodo) {
		t.Fatalf("default status should not be allowed on a custom board")
	}
	if got := board.Statuses(); len(got) != 3 || got[0] != "A_FAZER" {
		t.Fatalf("unexpected statuses: %v", got)
	}
}

func TestDraftApplyOverwritesAllFields(t *testing.T) {
	task := Task{ID: 7, Title: "old", Description: strPtr("old notes"), Status: StatusTodo, Order: 3}
	draft := TaskDraft{Title: "new", Status: statusPtr(StatusDone), Order: intPtr(0)}

	draft.Apply(&task)

	want := Task{ID: 7, Title: "new", Status: StatusDone, Order: 0}
	if !reflect.DeepEqual(task, want) {
		t.Fatalf("apply = %+v, want %+v", task, want)
	}
}

func TestErrorUnwrapAndKind(t *testing.T) {
	err := NotFound(42)
	if err.Msg != "Task not found with id: 42" {
		t.Fatalf("unexpected message %q", err.Msg)
	}
	if !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected errors.Is to match ErrTaskNotFound")
	}
	if KindOf(err) != KindNotFound {
		t.Fatalf("unexpected kind %s", KindOf(err))
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("unclassified errors should be internal")
	}
}
