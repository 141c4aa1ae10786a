package vectorstore

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/docingest/internal/models"
)

var (
	// ErrNamespaceNotFound indicates the namespace has never been created or
	// was deleted.
	ErrNamespaceNotFound = errors.New("vector namespace not found")

	// ErrDimensionMismatch indicates a vector does not fit its namespace.
	ErrDimensionMismatch = errors.New("vector dimension does not match namespace")
)

// Point is one chunk vector with its payload.
type Point struct {
	ID      uuid.UUID
	Vector  []float32
	Payload models.ChunkPayload
}

// StoredPoint is a point as returned by a scroll; vectors are not loaded.
type StoredPoint struct {
	ID      uuid.UUID
	Payload models.ChunkPayload
}

// Page is one scroll window. Next is empty on the last page.
type Page struct {
	Points []StoredPoint
	Next   string
}

// Sink persists chunk vectors in per-tenant namespaces. Upsert is idempotent
// per point id.
type Sink interface {
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error
	Upsert(ctx context.Context, namespace string, points []Point) error
	// Scroll returns up to limit points after the opaque offset ("" starts
	// from the beginning).
	Scroll(ctx context.Context, namespace, offset string, limit int) (*Page, error)
	// HasSource reports whether any point in namespace came from sourceName.
	HasSource(ctx context.Context, namespace, sourceName string) (bool, error)
	// DeleteNamespace removes namespace and its points. Deleting a missing
	// namespace succeeds.
	DeleteNamespace(ctx context.Context, namespace string) error
	Close() error
}

// ValidatePoints checks every payload and that all vectors share one
// length. It returns that length.
func ValidatePoints(points []Point) (int, error) {
	dim := 0
	for i, p := range points {
		if err := p.Payload.Validate(); err != nil {
			return 0, err
		}
		if len(p.Vector) == 0 {
			return 0, ErrDimensionMismatch
		}
		if i == 0 {
			dim = len(p.Vector)
		} else if len(p.Vector) != dim {
			return 0, ErrDimensionMismatch
		}
	}
	return dim, nil
}
