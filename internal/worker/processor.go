package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/hibiken/asynq"

	"github.com/altrentals/deedgate/internal/model"
	pdfutil "github.com/altrentals/deedgate/internal/pdf"
	"github.com/altrentals/deedgate/internal/privstore"
	"github.com/altrentals/deedgate/internal/queue"
	"github.com/altrentals/deedgate/internal/repository"
)

// Processor is plugged into the asynq worker loop. It handles deed text
// extraction after uploads and best-effort private-copy cleanup after
// publishes.
type Processor struct {
	repo  *repository.FileRepository
	store *privstore.Storage
}

// NewProcessor constructs a worker processor.
func NewProcessor(repo *repository.FileRepository, store *privstore.Storage) *Processor {
	return &Processor{repo: repo, store: store}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.ExtractDeedTask, p.handleExtract)
	mux.HandleFunc(queue.CleanupPrivateTask, p.handleCleanup)
	return mux
}

func (p *Processor) handleExtract(ctx context.Context, task *asynq.Task) error {
	var payload queue.ExtractPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	failure := func(err error) error {
		log.Printf("extract failed for %s: %v", payload.FileID, err)
		_ = p.repo.SetExtractResult(ctx, payload.FileID, model.ExtractFailed, "")
		return err
	}
	obj, err := p.store.Get(ctx, payload.StoreKey)
	if err != nil {
		return failure(err)
	}
	defer obj.Close()
	text, err := pdfutil.Extract(obj)
	if err != nil {
		return failure(err)
	}
	if err := p.repo.SetExtractResult(ctx, payload.FileID, model.ExtractDone, text); err != nil {
		return failure(err)
	}
	log.Printf("deed %s extracted (%d bytes of text)", payload.FileID, len(text))
	return nil
}

func (p *Processor) handleCleanup(ctx context.Context, task *asynq.Task) error {
	var payload queue.CleanupPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.store.Remove(ctx, payload.StoreKey); err != nil {
		log.Printf("cleanup of private object %s failed: %v", payload.StoreKey, err)
		return err
	}
	log.Printf("private object %s removed after publish", payload.StoreKey)
	return nil
}
