package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"dozenflow-api/domain"
)

// DriverTables selects the Azure Table storage backend.
const DriverTables = "tables"

const (
	taskPartition    = "tasks"
	counterPartition = "counters"
	counterRow       = "tasks"
	edmInt64         = "Edm.Int64"

	// maxWriteAttempts bounds the optimistic retries of ETag-guarded writes.
	maxWriteAttempts = 10
)

// TableStore keeps tasks in a single Azure Table partition. Ids come from a
// counter entity advanced with ETag-guarded updates.
type TableStore struct {
	table tableClient
}

// tableClient is the part of *aztables.Client the store uses.
type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, o *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, o *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey, rowKey string, o *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(o *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// NewTableStore creates a TableStore for the given table.
func NewTableStore(connStr, tableName string) (*TableStore, error) {
	svc, err := newTableService(connStr)
	if err != nil {
		return nil, err
	}
	return &TableStore{table: svc.NewClient(tableName)}, nil
}

func newTableService(connStr string) (*aztables.ServiceClient, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	return aztables.NewServiceClientFromConnectionString(connStr, &opts)
}

type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entityKeys
	Title       string  `json:"Title"`
	Description *string `json:"Description,omitempty"`
	Status      string  `json:"Status"`
	Order       int     `json:"Order"`
}

type counterEntity struct {
	entityKeys
	NextID     int64  `json:"NextID,string"`
	NextIDType string `json:"NextID@odata.type"`
}

// taskRowKey pads ids so that row key order matches numeric order.
func taskRowKey(id int64) string {
	return fmt.Sprintf("%019d", id)
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	return sonic.Marshal(taskEntity{
		entityKeys:  entityKeys{PartitionKey: taskPartition, RowKey: taskRowKey(t.ID)},
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Order:       t.Order,
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	id, err := strconv.ParseInt(ent.RowKey, 10, 64)
	if err != nil {
		return domain.Task{}, fmt.Errorf("task row key %q: %w", ent.RowKey, err)
	}
	return domain.Task{
		ID:          id,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		Order:       ent.Order,
	}, nil
}

func sortTasks(tasks []domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Order != tasks[j].Order {
			return tasks[i].Order < tasks[j].Order
		}
		return tasks[i].ID < tasks[j].ID
	})
}

func statusCode(err error) int {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

func (s *TableStore) Ping(ctx context.Context) error {
	filter := "PartitionKey eq '" + taskPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: to.Ptr[int32](1)})
	_, err := pager.NextPage(ctx)
	return err
}

// ListTasks retrieves every task and sorts by order, then id.
func (s *TableStore) ListTasks(ctx context.Context) ([]domain.Task, error) {
	filter := "PartitionKey eq '" + taskPartition + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	sortTasks(tasks)
	return tasks, nil
}

func (s *TableStore) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	t, _, err := s.getTask(ctx, id)
	return t, err
}

func (s *TableStore) getTask(ctx context.Context, id int64) (domain.Task, azcore.ETag, error) {
	resp, err := s.table.GetEntity(ctx, taskPartition, taskRowKey(id), nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.Task{}, "", domain.ErrTaskNotFound
		}
		return domain.Task{}, "", err
	}
	t, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return domain.Task{}, "", err
	}
	return t, resp.ETag, nil
}

func (s *TableStore) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	id, err := s.nextID(ctx)
	if err != nil {
		return domain.Task{}, fmt.Errorf("allocate id: %w", err)
	}
	t.ID = id
	payload, err := encodeTaskEntity(t)
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ReplaceTask reads the entity with its ETag and writes it back with IfMatch.
// A concurrent write makes the update fail with 412 and the whole cycle is
// retried, so the last writer wins.
func (s *TableStore) ReplaceTask(ctx context.Context, id int64, fn func(*domain.Task) error) (domain.Task, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		t, etag, err := s.getTask(ctx, id)
		if err != nil {
			return domain.Task{}, err
		}
		if err := fn(&t); err != nil {
			return domain.Task{}, err
		}
		t.ID = id
		payload, err := encodeTaskEntity(t)
		if err != nil {
			return domain.Task{}, err
		}
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		switch code := statusCode(err); {
		case err == nil:
			return t, nil
		case code == 412:
			continue
		case code == 404:
			return domain.Task{}, domain.ErrTaskNotFound
		default:
			return domain.Task{}, err
		}
	}
	return domain.Task{}, domain.ErrConcurrencyConflict
}

func (s *TableStore) DeleteTask(ctx context.Context, id int64) error {
	_, err := s.table.DeleteEntity(ctx, taskPartition, taskRowKey(id), nil)
	if err != nil {
		if statusCode(err) == 404 {
			return domain.ErrTaskNotFound
		}
		return err
	}
	return nil
}

// nextID reserves the next task id from the counter entity.
func (s *TableStore) nextID(ctx context.Context) (int64, error) {
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		resp, err := s.table.GetEntity(ctx, counterPartition, counterRow, nil)
		if statusCode(err) == 404 {
			payload, err := encodeCounter(2)
			if err != nil {
				return 0, err
			}
			_, err = s.table.AddEntity(ctx, payload, nil)
			if err == nil {
				return 1, nil
			}
			if statusCode(err) == 409 {
				continue
			}
			return 0, err
		}
		if err != nil {
			return 0, err
		}
		var cnt counterEntity
		if err := sonic.Unmarshal(resp.Value, &cnt); err != nil {
			return 0, err
		}
		if cnt.NextID < 1 {
			cnt.NextID = 1
		}
		payload, err := encodeCounter(cnt.NextID + 1)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return cnt.NextID, nil
		}
		if statusCode(err) != 412 {
			return 0, err
		}
	}
	return 0, domain.ErrConcurrencyConflict
}

func encodeCounter(next int64) ([]byte, error) {
	return sonic.Marshal(counterEntity{
		entityKeys: entityKeys{PartitionKey: counterPartition, RowKey: counterRow},
		NextID:     next,
		NextIDType: edmInt64,
	})
}
