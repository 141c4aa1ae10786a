package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/pkg/textextract"
)

type Ingester interface {
	Ingest(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

type Lister interface {
	List(ctx context.Context, tenantID string) (*models.DocumentListing, error)
}

type IngestQueue interface {
	EnqueueDocumentIngest(ctx context.Context, payload queue.DocumentIngestPayload) (string, error)
}

type TenantGetter interface {
	Get(ctx context.Context, id string) (*models.Tenant, error)
}

type DocumentHandler struct {
	ingester Ingester
	lister   Lister
	tenants  TenantGetter
	queue    IngestQueue
	maxBytes int64
}

// NewDocumentHandler serves uploads and listings. q may be nil, which
// disables async uploads.
func NewDocumentHandler(ingester Ingester, lister Lister, tenants TenantGetter, q IngestQueue, maxBytes int64) *DocumentHandler {
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	return &DocumentHandler{ingester: ingester, lister: lister, tenants: tenants, queue: q, maxBytes: maxBytes}
}

type upload struct {
	filename    string
	description string
	data        []byte
}

func (h *DocumentHandler) readUpload(w http.ResponseWriter, r *http.Request) (*upload, error) {
	// Leave room for multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, fmt.Errorf("%w: limit is %d bytes", errTooLarge, h.maxBytes)
		}
		return nil, fmt.Errorf("%w: invalid multipart form", errBadRequest)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: file required", errBadRequest)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, h.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %v", errBadRequest, err)
	}
	if int64(len(data)) > h.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", errTooLarge, h.maxBytes)
	}

	return &upload{
		filename:    header.Filename,
		description: r.FormValue("description"),
		data:        data,
	}, nil
}

// Upload ingests the file inline, or enqueues it when ?async=true.
func (h *DocumentHandler) Upload(w http.ResponseWriter, r *http.Request) {
	tenantID := chi.URLParam(r, "id")
	up, err := h.readUpload(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	async, _ := strconv.ParseBool(r.URL.Query().Get("async"))
	if async {
		h.enqueue(w, r, tenantID, up)
		return
	}

	res, err := h.ingester.Ingest(r.Context(), ingest.Request{
		TenantID:    tenantID,
		Filename:    up.filename,
		Description: up.description,
		Data:        up.data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *DocumentHandler) enqueue(w http.ResponseWriter, r *http.Request, tenantID string, up *upload) {
	if h.queue == nil {
		writeError(w, r, errQueueUnavailable)
		return
	}
	// Cheap checks up front; the worker repeats full validation.
	if _, err := h.tenants.Get(r.Context(), tenantID); err != nil {
		writeError(w, r, err)
		return
	}
	kind, ok := textextract.KindFromFilename(up.filename)
	if !ok {
		writeError(w, r, &ingest.RejectedError{Reason: ingest.ErrUnsupportedKind, Detail: strconv.Quote(up.filename)})
		return
	}
	if limit := textextract.MaxSize(kind); int64(len(up.data)) > limit {
		writeError(w, r, &ingest.RejectedError{Reason: ingest.ErrDocumentTooLarge, Detail: fmt.Sprintf("%s is limited to %d bytes", kind, limit)})
		return
	}

	taskID, err := h.queue.EnqueueDocumentIngest(r.Context(), queue.DocumentIngestPayload{
		TenantID:    tenantID,
		Filename:    up.filename,
		Description: up.description,
		Data:        up.data,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"task_id":    taskID,
		"tenant_id":  tenantID,
		"filename":   up.filename,
		"size_bytes": len(up.data),
		"state":      ingest.StateReceived,
	})
}

func (h *DocumentHandler) List(w http.ResponseWriter, r *http.Request) {
	listing, err := h.lister.List(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listing)
}
