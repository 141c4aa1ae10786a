package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreContract(t *testing.T) {
	runSinkContract(t, func(t *testing.T) Sink { return NewMemoryStore() })
}

func TestMemoryStore_DimensionPinned(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, m.EnsureNamespace(ctx, "tenant_a", 4))

	err := m.Upsert(ctx, "tenant_a", makePoints("a", "doc.pdf", 1, 8))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Zero(t, m.Count("tenant_a"))
	assert.Equal(t, []string{"tenant_a"}, m.Namespaces())
}

func TestMemoryStore_CopiesVectors(t *testing.T) {
	m := NewMemoryStore()
	points := makePoints("a", "doc.pdf", 1, 2)
	require.NoError(t, m.Upsert(context.Background(), "tenant_a", points))
	points[0].Vector[0] = 99

	m.mu.RLock()
	defer m.mu.RUnlock()
	assert.Equal(t, float32(1), m.namespaces["tenant_a"].points[points[0].ID].Vector[0])
}
