package main

import (
	"context"
	"errors"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	log "github.com/sirupsen/logrus"

	"sprint-board/internal/config"
)

func main() {
	if config.Debug() {
		log.SetLevel(log.DebugLevel)
	}
	log.Info("storage init starting")

	connStr, cfg, err := config.Storage()
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := createTables(ctx, connStr, []string{cfg.StoriesTable, cfg.SprintsTable, cfg.DevelopersTable}); err != nil {
		log.Fatalf("create tables: %v", err)
	}
	if err := createQueue(ctx, connStr, cfg.CommitQueue); err != nil {
		log.Fatalf("create queue: %v", err)
	}

	log.Info("storage init complete")
}

func createTables(ctx context.Context, connStr string, names []string) error {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, nil)
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil && !alreadyExists(err, string(aztables.TableAlreadyExists)) {
			return err
		}
		log.WithField("table", name).Debug("table ready")
	}
	return nil
}

func createQueue(ctx context.Context, connStr, name string) error {
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, name, nil)
	if err != nil {
		return err
	}
	if _, err := q.Create(ctx, nil); err != nil && !alreadyExists(err, "QueueAlreadyExists") {
		return err
	}
	log.WithField("queue", name).Debug("queue ready")
	return nil
}

func alreadyExists(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
