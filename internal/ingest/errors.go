package ingest

import (
	"errors"
	"fmt"

	"github.com/nikhilbhutani/docingest/internal/tenant"
)

// Rejection reasons. Rejected uploads never touch the quota.
var (
	ErrTenantNotFound      = tenant.ErrNotFound
	ErrTenantInactive      = tenant.ErrInactive
	ErrQuotaExceeded       = tenant.ErrQuotaExceeded
	ErrUnsupportedKind     = errors.New("unsupported document type")
	ErrGatewayUnconfigured = errors.New("embedding provider not configured")
	ErrEmptyDocument       = errors.New("document is empty")
	ErrDocumentTooLarge    = errors.New("document too large for its type")
)

// ErrNoText is the cause recorded when extraction yields nothing to chunk.
var ErrNoText = errors.New("document contains no extractable text")

// RejectedError is a validation or quota failure. Its message is safe to
// show to the caller.
type RejectedError struct {
	Reason error
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *RejectedError) Unwrap() error { return e.Reason }

func reject(reason error, format string, args ...any) *RejectedError {
	return &RejectedError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// FailedError is a downstream failure after the quota was reserved. The
// reservation has been rolled back by the time it is returned. Error()
// omits the cause; callers log it via Unwrap.
type FailedError struct {
	Stage Stage
	Err   error
}

func (e *FailedError) Error() string {
	return fmt.Sprintf("ingestion failed during %s", e.Stage)
}

func (e *FailedError) Unwrap() error { return e.Err }
