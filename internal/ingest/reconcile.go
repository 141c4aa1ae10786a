package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/tenant"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
	"github.com/panjf2000/ants/v2"
)

// ReconcileReport compares a tenant record with what its namespace holds.
type ReconcileReport struct {
	TenantID              string `json:"tenant_id"`
	Namespace             string `json:"namespace"`
	PreviousDocumentCount int    `json:"previous_document_count"`
	DocumentCount         int    `json:"document_count"`
	Chunks                int    `json:"chunks"`
	// SourceBytes sums the recorded upload size of each distinct document.
	SourceBytes int64 `json:"source_bytes"`
	// TextBytes sums the stored chunk text, overlap included.
	TextBytes int64 `json:"text_bytes"`
	UsedBytes int64 `json:"used_bytes"`
	// DriftBytes is UsedBytes minus SourceBytes. Positive drift comes from
	// re-uploads, which are charged again.
	DriftBytes int64  `json:"drift_bytes"`
	Error      string `json:"error,omitempty"`
}

type Reconciler struct {
	tenants     tenant.Store
	points      document.Scroller
	invalidator Invalidator
	workers     int
	pageSize    int
	logger      *slog.Logger
}

func NewReconciler(tenants tenant.Store, points document.Scroller, workers int, logger *slog.Logger) *Reconciler {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		tenants:  tenants,
		points:   points,
		workers:  workers,
		pageSize: 256,
		logger:   logger.With("component", "reconcile"),
	}
}

// SetInvalidator registers a view to drop after each reconciled tenant.
func (r *Reconciler) SetInvalidator(inv Invalidator) {
	r.invalidator = inv
}

// reconcileAttempts bounds rescans when ingestions keep moving the count.
const reconcileAttempts = 3

// Reconcile rewrites the tenant's document count from its stored points.
// Used bytes stay reservation based and are only reported.
//
// The count is written only if it has not moved since it was read; otherwise
// the namespace is rescanned. An ingestion that has stored its points but not
// yet counted them can still be counted twice; the next pass corrects it.
func (r *Reconciler) Reconcile(ctx context.Context, tenantID string) (*ReconcileReport, error) {
	for attempt := 1; ; attempt++ {
		report, err := r.reconcileOnce(ctx, tenantID)
		if !errors.Is(err, tenant.ErrCountChanged) || attempt == reconcileAttempts {
			return report, err
		}
		r.logger.Debug("document count moved during reconcile, rescanning",
			"tenant_id", tenantID, "attempt", attempt)
	}
}

func (r *Reconciler) reconcileOnce(ctx context.Context, tenantID string) (*ReconcileReport, error) {
	t, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}

	report := &ReconcileReport{
		TenantID:              t.ID,
		Namespace:             t.Namespace,
		PreviousDocumentCount: t.DocumentCount,
		UsedBytes:             t.UsedBytes,
	}
	seen := make(map[string]struct{})
	err = document.ScrollAll(ctx, r.points, t.Namespace, r.pageSize, func(p vectorstore.StoredPoint) {
		report.Chunks++
		report.TextBytes += int64(len(p.Payload.Text))
		if _, ok := seen[p.Payload.SourceName]; ok {
			return
		}
		seen[p.Payload.SourceName] = struct{}{}
		report.SourceBytes += p.Payload.SizeBytes
	})
	if err != nil && !errors.Is(err, vectorstore.ErrNamespaceNotFound) {
		return nil, fmt.Errorf("scan namespace %s: %w", t.Namespace, err)
	}
	report.DocumentCount = len(seen)
	report.DriftBytes = report.UsedBytes - report.SourceBytes

	if report.DocumentCount != t.DocumentCount {
		if _, err := r.tenants.SetDocumentCount(ctx, t.ID, t.DocumentCount, report.DocumentCount); err != nil {
			return nil, fmt.Errorf("set document count: %w", err)
		}
	}
	if r.invalidator != nil {
		r.invalidator.Invalidate(ctx, t.ID)
	}

	r.logger.Info("tenant reconciled",
		"tenant_id", t.ID,
		"documents", report.DocumentCount,
		"previous_documents", report.PreviousDocumentCount,
		"drift_bytes", report.DriftBytes)
	return report, nil
}

// ReconcileAll reconciles every tenant on a bounded worker pool. Per-tenant
// failures are reported in the tenant's entry and do not stop the run.
func (r *Reconciler) ReconcileAll(ctx context.Context) ([]ReconcileReport, error) {
	tenants, err := r.tenants.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	pool, err := ants.NewPool(r.workers)
	if err != nil {
		return nil, fmt.Errorf("create reconcile pool: %w", err)
	}
	defer pool.Release()

	reports := make([]ReconcileReport, len(tenants))
	var wg sync.WaitGroup
	for i := range tenants {
		t := tenants[i]
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			rep, err := r.Reconcile(ctx, t.ID)
			if err != nil {
				r.logger.Error("tenant reconcile failed", "tenant_id", t.ID, "error", err)
				reports[i] = ReconcileReport{TenantID: t.ID, Namespace: t.Namespace, Error: err.Error()}
				return
			}
			reports[i] = *rep
		})
		if submitErr != nil {
			wg.Done()
			reports[i] = ReconcileReport{TenantID: t.ID, Namespace: t.Namespace, Error: submitErr.Error()}
		}
	}
	wg.Wait()
	return reports, nil
}
