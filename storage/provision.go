package storage

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
)

// CreateTables creates the named tables, ignoring ones that already exist.
// Empty names are skipped.
func CreateTables(ctx context.Context, connStr string, names []string) error {
	svc, err := newTableService(connStr)
	if err != nil {
		return err
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		_, err := svc.NewClient(name).CreateTable(ctx, nil)
		if err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
	}
	return nil
}

// CreateQueues creates the named queues, ignoring ones that already exist.
// Empty names are skipped.
func CreateQueues(ctx context.Context, connStr string, names []string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
		if err != nil {
			return err
		}
		if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
			return err
		}
	}
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
