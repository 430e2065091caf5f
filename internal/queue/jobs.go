package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// ExtractDeedTask is scheduled when a restricted PDF deed is uploaded.
	ExtractDeedTask = "deed:extract"
	// CleanupPrivateTask is scheduled after a file is published to remove
	// the now redundant private copy. Best effort only; the publish
	// contract does not guarantee removal.
	CleanupPrivateTask = "private:cleanup"
)

// ExtractPayload tells the worker which private object to extract text from.
type ExtractPayload struct {
	FileID   string `json:"file_id"`
	StoreKey string `json:"store_key"`
	FileName string `json:"file_name"`
}

// CleanupPayload identifies the private object left behind by a publish.
type CleanupPayload struct {
	StoreKey string `json:"store_key"`
}

// EnqueueExtract enqueues a deed text extraction job.
func EnqueueExtract(ctx context.Context, client *asynq.Client, payload ExtractPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(ExtractDeedTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(5)); err != nil {
		return fmt.Errorf("enqueue extract task: %w", err)
	}
	return nil
}

// EnqueueCleanup enqueues a private-copy removal job.
func EnqueueCleanup(ctx context.Context, client *asynq.Client, payload CleanupPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(CleanupPrivateTask, data)
	if _, err := client.EnqueueContext(ctx, task, asynq.MaxRetry(3)); err != nil {
		return fmt.Errorf("enqueue cleanup task: %w", err)
	}
	return nil
}
