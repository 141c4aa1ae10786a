package tenant

import "errors"

var (
	// ErrNotFound indicates the tenant does not exist.
	ErrNotFound = errors.New("tenant not found")

	// ErrDuplicateNamespace indicates the tenant id or its derived namespace
	// is already registered.
	ErrDuplicateNamespace = errors.New("tenant namespace already exists")

	// ErrQuotaExceeded indicates a reservation would overshoot the quota.
	ErrQuotaExceeded = errors.New("tenant quota exceeded")

	// ErrInactive indicates the tenant is disabled for ingestion.
	ErrInactive = errors.New("tenant is inactive")

	// ErrInvalid indicates a create or update request failed validation.
	ErrInvalid = errors.New("invalid tenant")

	// ErrCountChanged indicates the document count moved since it was read.
	ErrCountChanged = errors.New("tenant document count changed concurrently")
)
