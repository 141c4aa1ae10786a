package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/queue"
)

type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) (*ingest.ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]ingest.ReconcileReport, error)
}

type ReconcileWorker struct {
	reconciler Reconciler
	logger     *slog.Logger
}

func NewReconcileWorker(r Reconciler, logger *slog.Logger) *ReconcileWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReconcileWorker{reconciler: r, logger: logger.With("worker", queue.TypeUsageReconcile)}
}

func (w *ReconcileWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.UsageReconcilePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}

	if payload.TenantID != "" {
		if _, err := w.reconciler.Reconcile(ctx, payload.TenantID); err != nil {
			return fmt.Errorf("reconcile %s: %w", payload.TenantID, err)
		}
		return nil
	}

	reports, err := w.reconciler.ReconcileAll(ctx)
	if err != nil {
		return fmt.Errorf("reconcile all: %w", err)
	}
	failed := 0
	for _, r := range reports {
		if r.Error != "" {
			failed++
		}
	}
	w.logger.Info("usage reconciled", "tenants", len(reports), "failed", failed)
	return nil
}

type NamespaceDeleter interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// TeardownWorker finishes namespace removals that failed during tenant
// deletion. Deleting an absent namespace succeeds, so retries are safe.
type TeardownWorker struct {
	namespaces NamespaceDeleter
	logger     *slog.Logger
}

func NewTeardownWorker(ns NamespaceDeleter, logger *slog.Logger) *TeardownWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &TeardownWorker{namespaces: ns, logger: logger.With("worker", queue.TypeNamespaceTeardown)}
}

func (w *TeardownWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.NamespaceTeardownPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.Namespace == "" {
		return fmt.Errorf("teardown for %s has no namespace: %w", payload.TenantID, asynq.SkipRetry)
	}

	if err := w.namespaces.DeleteNamespace(ctx, payload.Namespace); err != nil {
		return fmt.Errorf("delete namespace %s: %w", payload.Namespace, err)
	}
	w.logger.Info("namespace removed", "tenant_id", payload.TenantID, "namespace", payload.Namespace)
	return nil
}

// Recorder counts processed tasks.
type Recorder interface {
	RecordTask(taskType string, err error)
}

// Instrument wraps every handler so task outcomes are counted and logged.
func Instrument(rec Recorder, logger *slog.Logger) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, t *asynq.Task) error {
			err := next.ProcessTask(ctx, t)
			if rec != nil {
				rec.RecordTask(t.Type(), err)
			}
			if err != nil && logger != nil {
				logger.Error("task failed", "type", t.Type(), "error", err)
			}
			return err
		})
	}
}
