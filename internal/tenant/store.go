package tenant

import (
	"context"

	"github.com/nikhilbhutani/docingest/internal/models"
)

// Store is the durable tenant registry. Reserve is the only operation that
// may increase UsedBytes and must check and commit the increment in one
// indivisible step per tenant.
type Store interface {
	Get(ctx context.Context, id string) (*models.Tenant, error)
	List(ctx context.Context) ([]models.Tenant, error)

	// Insert registers t and fails with ErrDuplicateNamespace if its id or
	// namespace is taken.
	Insert(ctx context.Context, t *models.Tenant) error
	Update(ctx context.Context, id string, u models.TenantUpdate) (*models.Tenant, error)
	Delete(ctx context.Context, id string) error

	// Reserve adds bytes to UsedBytes and refreshes LastUpload when the
	// tenant is active and the result stays within QuotaBytes.
	Reserve(ctx context.Context, id string, bytes int64) (*models.Tenant, error)
	// Release undoes a reservation. UsedBytes never drops below zero.
	Release(ctx context.Context, id string, bytes int64) (*models.Tenant, error)

	IncrementDocumentCount(ctx context.Context, id string) (*models.Tenant, error)
	// SetDocumentCount replaces the count with n only while it still equals
	// expected, and fails with ErrCountChanged otherwise.
	SetDocumentCount(ctx context.Context, id string, expected, n int) (*models.Tenant, error)

	Close() error
}

// CheckReserve applies the reservation rule to t in place. Backends that
// mutate a decoded record call it inside their critical section.
func CheckReserve(t *models.Tenant, bytes int64) error {
	if bytes < 0 {
		return ErrInvalid
	}
	if !t.Active {
		return ErrInactive
	}
	if t.UsedBytes+bytes > t.QuotaBytes {
		return ErrQuotaExceeded
	}
	t.UsedBytes += bytes
	return nil
}

// ApplyRelease subtracts bytes from t.UsedBytes, flooring at zero.
func ApplyRelease(t *models.Tenant, bytes int64) {
	t.UsedBytes -= bytes
	if t.UsedBytes < 0 {
		t.UsedBytes = 0
	}
}
