package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/queue"
)

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// DocumentWorker runs queued uploads through the same pipeline as the
// synchronous API.
type DocumentWorker struct {
	ingester Ingester
	logger   *slog.Logger
}

func NewDocumentWorker(ingester Ingester, logger *slog.Logger) *DocumentWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentWorker{ingester: ingester, logger: logger.With("worker", queue.TypeDocumentIngest)}
}

func (w *DocumentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	res, err := w.ingester.Ingest(ctx, ingest.Request{
		TenantID:    payload.TenantID,
		Filename:    payload.Filename,
		Description: payload.Description,
		Data:        payload.Data,
	})
	if err != nil {
		var rej *ingest.RejectedError
		if errors.As(err, &rej) {
			// Retrying cannot change a validation or quota outcome.
			w.logger.Warn("queued document rejected", "tenant_id", payload.TenantID, "filename", payload.Filename, "reason", rej.Error())
			return fmt.Errorf("%w: %w", rej, asynq.SkipRetry)
		}
		return fmt.Errorf("ingest %s: %w", payload.Filename, err)
	}

	w.logger.Info("queued document ingested",
		"tenant_id", res.TenantID,
		"filename", res.Filename,
		"chunks", res.Chunks,
		"accounting_degraded", res.AccountingDegraded)
	return nil
}
