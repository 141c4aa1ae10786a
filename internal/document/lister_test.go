package document

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tenantMap map[string]*models.Tenant

func (m tenantMap) Get(_ context.Context, id string) (*models.Tenant, error) {
	t, ok := m[id]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return t, nil
}

type failingScroller struct{ err error }

func (f failingScroller) Scroll(context.Context, string, string, int) (*vectorstore.Page, error) {
	return nil, f.err
}

type memCache struct {
	mu       sync.Mutex
	listings map[string]*models.DocumentListing
	gets     int
}

func (c *memCache) GetListing(_ context.Context, id string) (*models.DocumentListing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	l, ok := c.listings[id]
	return l, ok
}

func (c *memCache) SetListing(_ context.Context, l *models.DocumentListing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listings[l.TenantID] = l
}

func (c *memCache) InvalidateListing(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.listings, id)
}

func testTenant(id string) *models.Tenant {
	return &models.Tenant{ID: id, Namespace: models.NamespaceFor(id), QuotaBytes: 1 << 20, Active: true}
}

func storeDoc(t *testing.T, s *vectorstore.MemoryStore, tn *models.Tenant, source, desc string, size int64, chunks int) {
	t.Helper()
	points := make([]vectorstore.Point, chunks)
	for i := range points {
		points[i] = vectorstore.Point{
			ID:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s|%s|%d", tn.ID, source, i))),
			Vector: []float32{1, 0, 0},
			Payload: models.ChunkPayload{
				TenantID:    tn.ID,
				SourceName:  source,
				Text:        fmt.Sprintf("chunk %d", i),
				ChunkIndex:  i,
				ChunkTotal:  chunks,
				Description: desc,
				SizeBytes:   size,
				Kind:        "plain-text",
			},
		}
	}
	require.NoError(t, s.Upsert(context.Background(), tn.Namespace, points))
}

func TestList_GroupsBySource(t *testing.T) {
	tn := testTenant("aaaa0001")
	store := vectorstore.NewMemoryStore()
	storeDoc(t, store, tn, "a.pdf", "first", 1000, 5)
	storeDoc(t, store, tn, "b.txt", "second", 200, 2)

	l := NewLister(tenantMap{tn.ID: tn}, store, WithPageSize(3))
	listing, err := l.List(context.Background(), tn.ID)
	require.NoError(t, err)

	assert.Equal(t, tn.Namespace, listing.Namespace)
	assert.Equal(t, 2, listing.TotalDocuments)
	assert.Equal(t, 7, listing.TotalChunks)
	assert.Empty(t, listing.Error)
	assert.Equal(t, []models.DocumentSummary{
		{Filename: "a.pdf", Chunks: 5, Description: "first", SizeBytes: 1000},
		{Filename: "b.txt", Chunks: 2, Description: "second", SizeBytes: 200},
	}, listing.Documents)
}

func TestList_FirstPointWins(t *testing.T) {
	tn := testTenant("aaaa0002")
	pages := &scriptedScroller{pages: []*vectorstore.Page{
		{Points: []vectorstore.StoredPoint{point(tn, "a.pdf", "old", 10)}, Next: "1"},
		{Points: []vectorstore.StoredPoint{point(tn, "a.pdf", "new", 99)}},
	}}

	listing, err := NewLister(tenantMap{tn.ID: tn}, pages).List(context.Background(), tn.ID)
	require.NoError(t, err)
	require.Len(t, listing.Documents, 1)
	assert.Equal(t, "old", listing.Documents[0].Description)
	assert.Equal(t, int64(10), listing.Documents[0].SizeBytes)
	assert.Equal(t, 2, listing.Documents[0].Chunks)
	assert.Equal(t, []string{"", "1"}, pages.offsets)
}

func TestList_ReuploadDoesNotDuplicate(t *testing.T) {
	tn := testTenant("aaaa0003")
	store := vectorstore.NewMemoryStore()
	storeDoc(t, store, tn, "a.pdf", "d", 100, 4)
	storeDoc(t, store, tn, "a.pdf", "d", 100, 4)

	listing, err := NewLister(tenantMap{tn.ID: tn}, store).List(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, listing.TotalDocuments)
	assert.Equal(t, 4, listing.TotalChunks)
}

func TestList_EmptyNamespace(t *testing.T) {
	tn := testTenant("aaaa0004")
	listing, err := NewLister(tenantMap{tn.ID: tn}, vectorstore.NewMemoryStore()).List(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, listing.TotalDocuments)
	assert.NotNil(t, listing.Documents)
	assert.Empty(t, listing.Error)
}

func TestList_UnreachableNamespace(t *testing.T) {
	tn := testTenant("aaaa0005")
	l := NewLister(tenantMap{tn.ID: tn}, failingScroller{err: errors.New("connection refused")})

	listing, err := l.List(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, listing.TotalDocuments)
	assert.Equal(t, 0, listing.TotalChunks)
	assert.Contains(t, listing.Error, "connection refused")
}

func TestList_UnknownTenant(t *testing.T) {
	_, err := NewLister(tenantMap{}, vectorstore.NewMemoryStore()).List(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_UsesCache(t *testing.T) {
	tn := testTenant("aaaa0006")
	store := vectorstore.NewMemoryStore()
	storeDoc(t, store, tn, "a.pdf", "d", 100, 1)
	cache := &memCache{listings: map[string]*models.DocumentListing{}}
	l := NewLister(tenantMap{tn.ID: tn}, store, WithListingCache(cache))
	ctx := context.Background()

	first, err := l.List(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.TotalDocuments)

	storeDoc(t, store, tn, "b.pdf", "d", 100, 1)
	cached, err := l.List(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, cached.TotalDocuments)

	l.Invalidate(ctx, tn.ID)
	fresh, err := l.List(ctx, tn.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.TotalDocuments)
}

func TestList_ErrorsAreNotCached(t *testing.T) {
	tn := testTenant("aaaa0007")
	cache := &memCache{listings: map[string]*models.DocumentListing{}}
	l := NewLister(tenantMap{tn.ID: tn}, failingScroller{err: errors.New("down")}, WithListingCache(cache))

	_, err := l.List(context.Background(), tn.ID)
	require.NoError(t, err)
	assert.Empty(t, cache.listings)
}

type scriptedScroller struct {
	pages   []*vectorstore.Page
	offsets []string
}

func (s *scriptedScroller) Scroll(_ context.Context, _, offset string, _ int) (*vectorstore.Page, error) {
	s.offsets = append(s.offsets, offset)
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func point(tn *models.Tenant, source, desc string, size int64) vectorstore.StoredPoint {
	return vectorstore.StoredPoint{
		ID: uuid.New(),
		Payload: models.ChunkPayload{
			TenantID: tn.ID, SourceName: source, Text: "x", ChunkTotal: 2, Description: desc, SizeBytes: size,
		},
	}
}
