package vectorstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makePoints(tenantID, source string, n, dim int) []Point {
	points := make([]Point, n)
	for i := range points {
		vec := make([]float32, dim)
		vec[0] = float32(i + 1)
		points[i] = Point{
			ID:     uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s|%s|%d", tenantID, source, i))),
			Vector: vec,
			Payload: models.ChunkPayload{
				TenantID:    tenantID,
				SourceName:  source,
				Text:        fmt.Sprintf("chunk %d of %s", i, source),
				ChunkIndex:  i,
				ChunkTotal:  n,
				Description: "desc " + source,
				SizeBytes:   1234,
				Kind:        "plain-text",
			},
		}
	}
	return points
}

func scrollAll(t *testing.T, s Sink, ns string, limit int) []StoredPoint {
	t.Helper()
	var all []StoredPoint
	offset := ""
	for {
		page, err := s.Scroll(context.Background(), ns, offset, limit)
		require.NoError(t, err)
		all = append(all, page.Points...)
		if page.Next == "" {
			return all
		}
		offset = page.Next
	}
}

// runSinkContract checks behaviour every Sink must share.
func runSinkContract(t *testing.T, newSink func(t *testing.T) Sink) {
	ctx := context.Background()

	t.Run("ScrollMissingNamespace", func(t *testing.T) {
		s := newSink(t)
		_, err := s.Scroll(ctx, "tenant_missing", "", 10)
		assert.ErrorIs(t, err, ErrNamespaceNotFound)
	})

	t.Run("UpsertScrollAcrossPages", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.EnsureNamespace(ctx, "tenant_a", 4))
		require.NoError(t, s.Upsert(ctx, "tenant_a", makePoints("a", "one.txt", 7, 4)))
		require.NoError(t, s.Upsert(ctx, "tenant_a", makePoints("a", "two.txt", 5, 4)))

		all := scrollAll(t, s, "tenant_a", 3)
		assert.Len(t, all, 12)
		seen := map[uuid.UUID]bool{}
		for _, p := range all {
			assert.False(t, seen[p.ID], "duplicate point across pages")
			seen[p.ID] = true
			assert.Equal(t, "a", p.Payload.TenantID)
		}
	})

	t.Run("UpsertIsIdempotent", func(t *testing.T) {
		s := newSink(t)
		points := makePoints("a", "doc.pdf", 3, 4)
		require.NoError(t, s.Upsert(ctx, "tenant_b", points))
		points[0].Payload.Text = "rewritten"
		require.NoError(t, s.Upsert(ctx, "tenant_b", points))

		all := scrollAll(t, s, "tenant_b", 100)
		require.Len(t, all, 3)
		texts := map[string]bool{}
		for _, p := range all {
			texts[p.Payload.Text] = true
		}
		assert.True(t, texts["rewritten"])
	})

	t.Run("HasSource", func(t *testing.T) {
		s := newSink(t)
		found, err := s.HasSource(ctx, "tenant_c", "doc.pdf")
		require.NoError(t, err)
		assert.False(t, found, "missing namespace has no sources")

		require.NoError(t, s.Upsert(ctx, "tenant_c", makePoints("c", "doc.pdf", 2, 4)))
		found, err = s.HasSource(ctx, "tenant_c", "doc.pdf")
		require.NoError(t, err)
		assert.True(t, found)
		found, err = s.HasSource(ctx, "tenant_c", "other.pdf")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("RejectsInvalidPayload", func(t *testing.T) {
		s := newSink(t)
		points := makePoints("d", "doc.pdf", 1, 4)
		points[0].Payload.Text = "   "
		assert.ErrorIs(t, s.Upsert(ctx, "tenant_d", points), models.ErrInvalidPayload)
	})

	t.Run("DeleteNamespace", func(t *testing.T) {
		s := newSink(t)
		require.NoError(t, s.Upsert(ctx, "tenant_e", makePoints("e", "doc.pdf", 2, 4)))
		require.NoError(t, s.DeleteNamespace(ctx, "tenant_e"))
		_, err := s.Scroll(ctx, "tenant_e", "", 10)
		assert.ErrorIs(t, err, ErrNamespaceNotFound)
		assert.NoError(t, s.DeleteNamespace(ctx, "tenant_e"), "deleting twice succeeds")
	})
}

func TestValidatePoints(t *testing.T) {
	points := makePoints("a", "doc.pdf", 2, 3)
	dim, err := ValidatePoints(points)
	require.NoError(t, err)
	assert.Equal(t, 3, dim)

	points[1].Vector = []float32{1}
	_, err = ValidatePoints(points)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	points = makePoints("a", "doc.pdf", 1, 3)
	points[0].Vector = nil
	_, err = ValidatePoints(points)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}
