package api

import (
	"context"

	"dozenflow-api/domain"
)

// TaskService is the behaviour handlers need from the service layer.
type TaskService interface {
	List(ctx context.Context) ([]domain.Task, error)
	Get(ctx context.Context, id int64) (domain.Task, error)
	Create(ctx context.Context, draft domain.TaskDraft) (domain.Task, error)
	Update(ctx context.Context, id int64, draft domain.TaskDraft) (domain.Task, error)
	Delete(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// taskRequest is the body accepted by create and update.
type taskRequest struct {
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Order       *int    `json:"order"`
}

func (r taskRequest) draft() domain.TaskDraft {
	d := domain.TaskDraft{
		Title:       r.Title,
		Description: r.Description,
		Order:       r.Order,
	}
	if r.Status != nil {
		s := domain.Status(*r.Status)
		d.Status = &s
	}
	return d
}

// taskResponse is the wire form of a task. Description is rendered as null
// when absent.
type taskResponse struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
	Order       int     `json:"order"`
}

func newTaskResponse(t domain.Task) taskResponse {
	return taskResponse{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Order:       t.Order,
	}
}

func newTaskResponses(tasks []domain.Task) []taskResponse {
	out := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, newTaskResponse(t))
	}
	return out
}

type healthResponse struct {
	Status string `json:"status"`
}
