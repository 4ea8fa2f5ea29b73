package domain

import (
	"strings"
)

// Status is the board column a task currently occupies.
type Status string

const (
	StatusTodo       Status = "TODO"
	StatusInProgress Status = "IN_PROGRESS"
	StatusDone       Status = "DONE"
)

// DefaultStatuses are the board columns used when none are configured.
var DefaultStatuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Task represents a single board item.
type Task struct {
	ID          int64
	Title       string
	Description *string
	Status      Status
	Order       int
}

// TaskDraft carries the client supplied fields of a task. Status and Order are
// pointers so that a missing value can be told apart from a zero value.
type TaskDraft struct {
	Title       string
	Description *string
	Status      *Status
	Order       *int
}

// Board holds the set of columns tasks may be placed in.
type Board struct {
	statuses []Status
	allowed  map[Status]struct{}
}

// NewBoard creates a board with the given columns. An empty list falls back
// to DefaultStatuses.
func NewBoard(statuses []Status) *Board {
	if len(statuses) == 0 {
		statuses = DefaultStatuses
	}
	b := &Board{
		statuses: append([]Status(nil), statuses...),
		allowed:  make(map[Status]struct{}, len(statuses)),
	}
	for _, s := range statuses {
		b.allowed[s] = struct{}{}
	}
	return b
}

// Statuses returns the configured columns in display order.
func (b *Board) Statuses() []Status {
	return append([]Status(nil), b.statuses...)
}

// Allows reports whether s is one of the board columns.
func (b *Board) Allows(s Status) bool {
	_, ok := b.allowed[s]
	return ok
}

// Validate checks the draft against the board and returns a KindValidation
// error listing every offending field, or nil.
func (b *Board) Validate(d TaskDraft) error {
	var fields []FieldError
	if strings.TrimSpace(d.Title) == "" {
		fields = append(fields, FieldError{Field: "title", Message: "Title cannot be blank"})
	}
	switch {
	case d.Status == nil:
		fields = append(fields, FieldError{Field: "status", Message: "Status cannot be null"})
	case !b.Allows(*d.Status):
		fields = append(fields, FieldError{Field: "status", Message: "Status must be one of " + b.joined()})
	}
	if d.Order == nil {
		fields = append(fields, FieldError{Field: "order", Message: "Order cannot be null"})
	}
	if len(fields) == 0 {
		return nil
	}
	return &Error{Kind: KindValidation, Msg: "Validation Error", Fields: fields}
}

func (b *Board) joined() string {
	names := make([]string, len(b.statuses))
	for i, s := range b.statuses {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

// Apply overwrites every mutable field of t with the draft. The draft must
// have passed Validate.
func (d TaskDraft) Apply(t *Task) {
	t.Title = d.Title
	t.Description = d.Description
	t.Status = *d.Status
	t.Order = *d.Order
}

// NewTask builds an unsaved task from a validated draft.
func (d TaskDraft) NewTask() Task {
	var t Task
	d.Apply(&t)
	return t
}
