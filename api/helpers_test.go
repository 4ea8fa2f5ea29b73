package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"

	"dozenflow-api/domain"
)

type memStore struct {
	mu      sync.Mutex
	tasks   map[int64]domain.Task
	nextID  int64
	listErr error
	pingErr error
}

func newMemStore() *memStore {
	return &memStore{tasks: map[int64]domain.Task{}}
}

func (m *memStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]domain.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
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

func (m *memStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	return t, nil
}

func (m *memStore) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.tasks[t.ID] = t
	return t, nil
}

func (m *memStore) ReplaceTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}
	if err := fn(&t); err != nil {
		return domain.Task{}, err
	}
	t.ID = id
	m.tasks[id] = t
	return t, nil
}

func (m *memStore) DeleteTask(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return domain.ErrTaskNotFound
	}
	delete(m.tasks, id)
	return nil
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

func newTestServer(t *testing.T, store domain.TaskStorage, auth Authenticator) *echo.Echo {
	t.Helper()
	logger, _ := test.NewNullLogger()
	svc := domain.NewTaskService(store, domain.NewBoard(nil), nil, logger)
	return NewServer(svc, auth, ServerOptions{}, logger)
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := sonic.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}
