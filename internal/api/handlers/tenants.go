package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
)

type TenantService interface {
	Create(ctx context.Context, name, contact string, quotaBytes int64) (*models.Tenant, error)
	Get(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)
	Update(ctx context.Context, id string, u models.TenantUpdate) (*models.Tenant, error)
	Delete(ctx context.Context, id string) (*tenant.DeleteResult, error)
	Stats(ctx context.Context) (*models.TenantStats, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, tenantID string) (*ingest.ReconcileReport, error)
	ReconcileAll(ctx context.Context) ([]ingest.ReconcileReport, error)
}

type TenantHandler struct {
	svc        TenantService
	reconciler Reconciler
}

func NewTenantHandler(svc TenantService, reconciler Reconciler) *TenantHandler {
	return &TenantHandler{svc: svc, reconciler: reconciler}
}

// tenantView adds derived usage figures to a tenant.
type tenantView struct {
	*models.Tenant
	UsagePercent   float64 `json:"usage_percent"`
	RemainingBytes int64   `json:"remaining_bytes"`
}

func viewOf(t *models.Tenant) tenantView {
	return tenantView{Tenant: t, UsagePercent: t.UsagePercent(), RemainingBytes: t.RemainingBytes()}
}

type createTenantRequest struct {
	Name       string `json:"name"`
	Contact    string `json:"contact"`
	QuotaBytes int64  `json:"quota_bytes"`
	QuotaMiB   int64  `json:"quota_mib"`
}

func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	quota := req.QuotaBytes
	if quota == 0 && req.QuotaMiB > 0 {
		quota = req.QuotaMiB << 20
	}

	t, err := h.svc.Create(r.Context(), req.Name, req.Contact, quota)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(t))
}

func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	views := make([]tenantView, len(tenants))
	for i := range tenants {
		views[i] = viewOf(&tenants[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenants": views, "count": len(views)})
}

func (h *TenantHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

func (h *TenantHandler) Update(w http.ResponseWriter, r *http.Request) {
	var u models.TenantUpdate
	if err := decodeJSON(r, &u); err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	t, err := h.svc.Update(r.Context(), chi.URLParam(r, "id"), u)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(t))
}

func (h *TenantHandler) Delete(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Delete(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *TenantHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *TenantHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Reconcile(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *TenantHandler) ReconcileAll(w http.ResponseWriter, r *http.Request) {
	reports, err := h.reconciler.ReconcileAll(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports, "count": len(reports)})
}
