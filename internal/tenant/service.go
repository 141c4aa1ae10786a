package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nikhilbhutani/docingest/internal/models"
)

// Namespaces provisions and removes a tenant's vector storage partition.
type Namespaces interface {
	EnsureNamespace(ctx context.Context, namespace string, dimension int) error
	DeleteNamespace(ctx context.Context, namespace string) error
}

// TeardownScheduler retries a namespace removal out of band.
type TeardownScheduler interface {
	ScheduleNamespaceTeardown(ctx context.Context, tenantID, namespace string) error
}

type Service struct {
	store        Store
	namespaces   Namespaces
	teardown     TeardownScheduler
	dimension    int
	defaultQuota int64
	newID        func() string
	logger       *slog.Logger
}

type Option func(*Service)

func WithTeardownScheduler(ts TeardownScheduler) Option {
	return func(s *Service) { s.teardown = ts }
}

// WithVectorDimension sets the vector size used when provisioning namespaces.
func WithVectorDimension(dim int) Option {
	return func(s *Service) { s.dimension = dim }
}

func WithDefaultQuota(bytes int64) Option {
	return func(s *Service) { s.defaultQuota = bytes }
}

// WithIDGenerator replaces the random tenant id source.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func NewService(store Store, namespaces Namespaces, opts ...Option) *Service {
	s := &Service{
		store:        store,
		namespaces:   namespaces,
		defaultQuota: 100 << 20,
		newID:        shortID,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "tenant")
	return s
}

func shortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

func (s *Service) Store() Store {
	return s.store
}

func (s *Service) Get(ctx context.Context, id string) (*models.Tenant, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]models.Tenant, error) {
	return s.store.List(ctx)
}

// Create registers a new tenant and provisions its namespace. A namespace
// provisioning failure is logged; the sink creates namespaces lazily on
// first upsert.
func (s *Service) Create(ctx context.Context, name, contact string, quotaBytes int64) (*models.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if quotaBytes < 0 {
		return nil, fmt.Errorf("%w: quota must not be negative", ErrInvalid)
	}
	if quotaBytes == 0 {
		quotaBytes = s.defaultQuota
	}

	id := s.newID()
	now := time.Now().UTC()
	t := &models.Tenant{
		ID:         id,
		Name:       name,
		Contact:    strings.TrimSpace(contact),
		QuotaBytes: quotaBytes,
		Active:     true,
		Namespace:  models.NamespaceFor(id),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if err := s.store.Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("create tenant: %w", err)
	}

	if s.namespaces != nil {
		if err := s.namespaces.EnsureNamespace(ctx, t.Namespace, s.dimension); err != nil {
			s.logger.Warn("could not provision namespace", "tenant_id", t.ID, "namespace", t.Namespace, "error", err)
		}
	}

	s.logger.Info("tenant created", "tenant_id", t.ID, "namespace", t.Namespace, "quota_bytes", t.QuotaBytes)
	return t, nil
}

func (s *Service) Update(ctx context.Context, id string, u models.TenantUpdate) (*models.Tenant, error) {
	if u.Name != nil {
		trimmed := strings.TrimSpace(*u.Name)
		if trimmed == "" {
			return nil, fmt.Errorf("%w: name must not be empty", ErrInvalid)
		}
		u.Name = &trimmed
	}
	if u.QuotaBytes != nil && *u.QuotaBytes < 0 {
		return nil, fmt.Errorf("%w: quota must not be negative", ErrInvalid)
	}
	if u.Empty() {
		return s.store.Get(ctx, id)
	}
	return s.store.Update(ctx, id, u)
}

// DeleteResult reports what happened to the tenant's namespace.
type DeleteResult struct {
	TenantID          string `json:"tenant_id"`
	Namespace         string `json:"namespace"`
	NamespaceRemoved  bool   `json:"namespace_removed"`
	TeardownScheduled bool   `json:"teardown_scheduled"`
	Warning           string `json:"warning,omitempty"`
}

// Delete removes the tenant record, then requests namespace teardown. A
// teardown failure is reported as a warning and never undoes the deletion.
func (s *Service) Delete(ctx context.Context, id string) (*DeleteResult, error) {
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return nil, fmt.Errorf("delete tenant: %w", err)
	}

	res := &DeleteResult{TenantID: t.ID, Namespace: t.Namespace}
	if s.namespaces == nil {
		return res, nil
	}

	err = s.namespaces.DeleteNamespace(ctx, t.Namespace)
	if err == nil {
		res.NamespaceRemoved = true
		s.logger.Info("tenant deleted", "tenant_id", t.ID, "namespace", t.Namespace)
		return res, nil
	}

	res.Warning = fmt.Sprintf("namespace teardown failed: %v", err)
	s.logger.Warn("could not delete namespace", "tenant_id", t.ID, "namespace", t.Namespace, "error", err)

	if s.teardown != nil {
		if err := s.teardown.ScheduleNamespaceTeardown(context.WithoutCancel(ctx), t.ID, t.Namespace); err != nil {
			s.logger.Warn("could not schedule namespace teardown", "tenant_id", t.ID, "error", err)
		} else {
			res.TeardownScheduled = true
		}
	}
	return res, nil
}

func (s *Service) Stats(ctx context.Context) (*models.TenantStats, error) {
	tenants, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w", err)
	}

	var st models.TenantStats
	for _, t := range tenants {
		st.TotalTenants++
		if t.Active {
			st.ActiveTenants++
		}
		st.TotalQuotaBytes += t.QuotaBytes
		st.TotalUsedBytes += t.UsedBytes
		st.TotalDocuments += t.DocumentCount
	}
	if st.TotalQuotaBytes > 0 {
		st.AvgUsagePercent = math.Round(float64(st.TotalUsedBytes)/float64(st.TotalQuotaBytes)*1000) / 10
	}
	return &st, nil
}
