// Package workers holds the asynq task handlers.
package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/askdoc/askdoc/internal/errdefs"
	"github.com/askdoc/askdoc/internal/queue"
	"github.com/askdoc/askdoc/internal/rag"
	"github.com/askdoc/askdoc/internal/storage"
)

// IngestWorker replays spooled uploads through the pipeline.
type IngestWorker struct {
	pipeline *rag.Pipeline
	spool    storage.Storage
	log      *slog.Logger
}

func NewIngestWorker(pipeline *rag.Pipeline, spool storage.Storage, log *slog.Logger) *IngestWorker {
	if log == nil {
		log = slog.Default()
	}
	return &IngestWorker{pipeline: pipeline, spool: spool, log: log}
}

func (w *IngestWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.IngestDocumentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}

	w.log.Info("ingesting spooled document",
		"key", payload.Key,
		"filename", payload.Filename,
		"source", payload.Source,
	)

	rc, err := w.spool.Open(ctx, payload.Key)
	if errors.Is(err, os.ErrNotExist) {
		// Already consumed, likely a redelivered task after a success.
		return fmt.Errorf("spooled file %s missing: %w", payload.Key, asynq.SkipRetry)
	}
	if err != nil {
		return fmt.Errorf("open spooled file: %w", err)
	}

	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return fmt.Errorf("read spooled file: %w", err)
	}

	if _, err := w.pipeline.Ingest(ctx, rag.IngestInput{Filename: payload.Filename, Data: data}); err != nil {
		if errdefs.IsValidation(err) {
			// The file itself is unacceptable; retrying cannot fix it.
			w.removeSpooled(ctx, payload.Key)
			return fmt.Errorf("ingest %s: %v: %w", payload.Filename, err, asynq.SkipRetry)
		}
		return fmt.Errorf("ingest %s: %w", payload.Filename, err)
	}

	w.removeSpooled(ctx, payload.Key)
	return nil
}

func (w *IngestWorker) removeSpooled(ctx context.Context, key string) {
	if err := w.spool.Remove(ctx, key); err != nil {
		w.log.Warn("remove spooled file", "key", key, "error", err)
	}
}
