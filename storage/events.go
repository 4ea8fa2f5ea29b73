package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"dozenflow-api/domain"
)

// taskEventMessage is the queue payload for a task change.
type taskEventMessage struct {
	Type      string        `json:"type"`
	TaskID    int64         `json:"taskId"`
	Task      *taskSnapshot `json:"task,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

type taskSnapshot struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	Description *string `json:"description"`
	Status      string  `json:"status"`
	Order       int     `json:"order"`
}

func encodeTaskEvent(ev domain.TaskEvent) ([]byte, error) {
	msg := taskEventMessage{
		Type:      string(ev.Type),
		TaskID:    ev.Task.ID,
		Timestamp: ev.Timestamp.UnixMilli(),
	}
	if ev.Type != domain.TaskDeleted {
		msg.Task = &taskSnapshot{
			ID:          ev.Task.ID,
			Title:       ev.Task.Title,
			Description: ev.Task.Description,
			Status:      string(ev.Task.Status),
			Order:       ev.Task.Order,
		}
	}
	return sonic.Marshal(msg)
}

// QueuePublisher sends task change events to an Azure Storage queue. Calls go
// through a circuit breaker so an unavailable queue does not slow down every
// write.
type QueuePublisher struct {
	queue   messageQueue
	breaker *gobreaker.CircuitBreaker
}

type messageQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// NewQueuePublisher creates a publisher for the named queue.
func NewQueuePublisher(connStr, queueName string, logger *log.Logger) (*QueuePublisher, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    2,
				TryTimeout:    time.Second * 10,
				RetryDelay:    time.Millisecond * 200,
				MaxRetryDelay: time.Second * 2,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return newQueuePublisher(q, logger), nil
}

func newQueuePublisher(queue messageQueue, logger *log.Logger) *QueuePublisher {
	if logger == nil {
		logger = log.StandardLogger()
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "task-events-queue",
		MaxRequests: 1,
		Timeout:     5 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(log.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
	return &QueuePublisher{queue: queue, breaker: breaker}
}

// Publish enqueues ev as a JSON message.
func (p *QueuePublisher) Publish(ctx context.Context, ev domain.TaskEvent) error {
	data, err := encodeTaskEvent(ev)
	if err != nil {
		return err
	}
	_, err = p.breaker.Execute(func() (interface{}, error) {
		_, err := p.queue.EnqueueMessage(ctx, string(data), nil)
		return nil, err
	})
	return err
}
