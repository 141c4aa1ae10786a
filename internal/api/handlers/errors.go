package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/tenant"
)

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// writeError is the single place domain errors become HTTP statuses.
// Downstream causes are logged, never returned.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := classify(err)
	if status >= 500 {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}

func classify(err error) (int, string, string) {
	var rej *ingest.RejectedError
	if errors.As(err, &rej) {
		switch {
		case errors.Is(rej, ingest.ErrTenantNotFound):
			return http.StatusNotFound, "tenant_not_found", rej.Error()
		case errors.Is(rej, ingest.ErrTenantInactive):
			return http.StatusForbidden, "tenant_inactive", rej.Error()
		case errors.Is(rej, ingest.ErrQuotaExceeded):
			return http.StatusRequestEntityTooLarge, "quota_exceeded", rej.Error()
		case errors.Is(rej, ingest.ErrDocumentTooLarge):
			return http.StatusRequestEntityTooLarge, "document_too_large", rej.Error()
		case errors.Is(rej, ingest.ErrUnsupportedKind):
			return http.StatusUnsupportedMediaType, "unsupported_type", rej.Error()
		case errors.Is(rej, ingest.ErrGatewayUnconfigured):
			return http.StatusServiceUnavailable, "embedding_unconfigured", rej.Error()
		default:
			return http.StatusBadRequest, "invalid_document", rej.Error()
		}
	}

	var failed *ingest.FailedError
	if errors.As(err, &failed) {
		return http.StatusBadGateway, "ingestion_failed", failed.Error()
	}

	switch {
	case errors.Is(err, tenant.ErrNotFound):
		return http.StatusNotFound, "tenant_not_found", "tenant not found"
	case errors.Is(err, tenant.ErrInvalid):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, tenant.ErrDuplicateNamespace):
		return http.StatusConflict, "duplicate_tenant", err.Error()
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "invalid_request", err.Error()
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge, "upload_too_large", err.Error()
	case errors.Is(err, errQueueUnavailable):
		return http.StatusServiceUnavailable, "queue_unavailable", err.Error()
	}
	return http.StatusInternalServerError, "internal_error", "internal error"
}

var (
	errBadRequest       = errors.New("bad request")
	errTooLarge         = errors.New("upload too large")
	errQueueUnavailable = errors.New("async ingestion is not enabled")
)
