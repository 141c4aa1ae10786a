package document

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/tenant"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
)

const defaultPageSize = 100

// ErrNotFound is returned for listings of unknown tenants.
var ErrNotFound = tenant.ErrNotFound

// TenantGetter is the slice of tenant.Store the lister reads.
type TenantGetter interface {
	Get(ctx context.Context, id string) (*models.Tenant, error)
}

// Scroller pages through a namespace.
type Scroller interface {
	Scroll(ctx context.Context, namespace, offset string, limit int) (*vectorstore.Page, error)
}

// ListingCache holds recent listings. Implementations must treat every
// error as a miss.
type ListingCache interface {
	GetListing(ctx context.Context, tenantID string) (*models.DocumentListing, bool)
	SetListing(ctx context.Context, listing *models.DocumentListing)
	InvalidateListing(ctx context.Context, tenantID string)
}

type Lister struct {
	tenants  TenantGetter
	points   Scroller
	cache    ListingCache
	pageSize int
	logger   *slog.Logger
}

type ListerOption func(*Lister)

func WithListingCache(c ListingCache) ListerOption {
	return func(l *Lister) { l.cache = c }
}

func WithPageSize(n int) ListerOption {
	return func(l *Lister) {
		if n > 0 {
			l.pageSize = n
		}
	}
}

func WithListerLogger(logger *slog.Logger) ListerOption {
	return func(l *Lister) { l.logger = logger }
}

func NewLister(tenants TenantGetter, points Scroller, opts ...ListerOption) *Lister {
	l := &Lister{
		tenants:  tenants,
		points:   points,
		pageSize: defaultPageSize,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// List groups the tenant's stored points by source file. Size and
// description come from the first point seen for each file. Storage errors
// produce an empty listing with Error set.
func (l *Lister) List(ctx context.Context, tenantID string) (*models.DocumentListing, error) {
	t, err := l.tenants.Get(ctx, tenantID)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get tenant %s: %w", tenantID, err)
	}

	if l.cache != nil {
		if listing, ok := l.cache.GetListing(ctx, tenantID); ok {
			return listing, nil
		}
	}

	listing, err := l.collect(ctx, t)
	if err != nil {
		l.logger.Warn("document listing unavailable",
			"tenant_id", tenantID, "namespace", t.Namespace, "error", err)
		return &models.DocumentListing{
			TenantID:  t.ID,
			Namespace: t.Namespace,
			Documents: []models.DocumentSummary{},
			Error:     err.Error(),
		}, nil
	}

	if l.cache != nil {
		l.cache.SetListing(ctx, listing)
	}
	return listing, nil
}

// Invalidate drops any cached listing for tenantID.
func (l *Lister) Invalidate(ctx context.Context, tenantID string) {
	if l.cache != nil {
		l.cache.InvalidateListing(ctx, tenantID)
	}
}

func (l *Lister) collect(ctx context.Context, t *models.Tenant) (*models.DocumentListing, error) {
	listing := &models.DocumentListing{
		TenantID:  t.ID,
		Namespace: t.Namespace,
		Documents: []models.DocumentSummary{},
	}
	index := make(map[string]int)

	err := ScrollAll(ctx, l.points, t.Namespace, l.pageSize, func(p vectorstore.StoredPoint) {
		listing.TotalChunks++
		name := p.Payload.SourceName
		if i, ok := index[name]; ok {
			listing.Documents[i].Chunks++
			return
		}
		index[name] = len(listing.Documents)
		listing.Documents = append(listing.Documents, models.DocumentSummary{
			Filename:    name,
			Chunks:      1,
			Description: p.Payload.Description,
			SizeBytes:   p.Payload.SizeBytes,
		})
	})
	if errors.Is(err, vectorstore.ErrNamespaceNotFound) {
		// Nothing has been stored yet.
		return listing, nil
	}
	if err != nil {
		return nil, err
	}

	listing.TotalDocuments = len(listing.Documents)
	return listing, nil
}

// ScrollAll visits every point in namespace, following continuation tokens
// until the sink reports no further page.
func ScrollAll(ctx context.Context, s Scroller, namespace string, pageSize int, visit func(vectorstore.StoredPoint)) error {
	offset := ""
	for {
		page, err := s.Scroll(ctx, namespace, offset, pageSize)
		if err != nil {
			return err
		}
		for _, p := range page.Points {
			visit(p)
		}
		if page.Next == "" || page.Next == offset {
			return nil
		}
		offset = page.Next
	}
}
