// Package app assembles the service from configuration. The API server, the
// worker and the admin CLI all build on the same wiring.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nikhilbhutani/docingest/internal/api"
	"github.com/nikhilbhutani/docingest/internal/api/handlers"
	"github.com/nikhilbhutani/docingest/internal/cache"
	"github.com/nikhilbhutani/docingest/internal/config"
	"github.com/nikhilbhutani/docingest/internal/database"
	"github.com/nikhilbhutani/docingest/internal/document"
	"github.com/nikhilbhutani/docingest/internal/embedding"
	"github.com/nikhilbhutani/docingest/internal/ingest"
	"github.com/nikhilbhutani/docingest/internal/llm"
	"github.com/nikhilbhutani/docingest/internal/metrics"
	"github.com/nikhilbhutani/docingest/internal/models"
	"github.com/nikhilbhutani/docingest/internal/queue"
	"github.com/nikhilbhutani/docingest/internal/tenant"
	"github.com/nikhilbhutani/docingest/internal/tenant/badgerstore"
	"github.com/nikhilbhutani/docingest/internal/tenant/pgstore"
	"github.com/nikhilbhutani/docingest/internal/vectorstore"
)

const probeTimeout = 30 * time.Second

type App struct {
	Config *config.Config
	Logger *slog.Logger

	Store        tenant.Store
	Sink         vectorstore.Sink
	Tenants      *tenant.Service
	Embedder     *embedding.Service
	Lister       *document.Lister
	Orchestrator *ingest.Orchestrator
	Reconciler   *ingest.Reconciler
	Metrics      *metrics.Metrics
	// Queue is nil unless Redis is enabled.
	Queue *queue.Client

	checks  map[string]handlers.Check
	closers []func() error
}

type Option func(*options)

type options struct {
	gatewayOpts []llm.GatewayOption
	skipProbe   bool
}

// WithGatewayOptions customises the embedding gateway, mostly for tests.
func WithGatewayOptions(opts ...llm.GatewayOption) Option {
	return func(o *options) { o.gatewayOpts = append(o.gatewayOpts, opts...) }
}

// WithoutProbe skips learning the embedding dimension at startup.
func WithoutProbe() Option {
	return func(o *options) { o.skipProbe = true }
}

// New connects every backend cfg selects. On error, anything already opened
// is closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
		checks:  make(map[string]handlers.Check),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	var pool *pgxpool.Pool
	if cfg.TenantStore.Backend == "postgres" || cfg.VectorStore.Backend == "pgvector" {
		pool, err = database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		a.onClose(func() error { pool.Close(); return nil })
		a.checks["postgres"] = pool.Ping
		if cfg.Database.AutoMigrate {
			if err = database.Migrate(ctx, pool); err != nil {
				return nil, err
			}
		}
	}

	if err = a.openTenantStore(cfg.TenantStore, pool); err != nil {
		return nil, err
	}
	if err = a.openSink(cfg.VectorStore, pool); err != nil {
		return nil, err
	}

	var listerOpts []document.ListerOption
	listerOpts = append(listerOpts, document.WithListerLogger(logger))
	if cfg.Redis.Enabled {
		rdb := cache.NewClient(cfg.Redis)
		a.onClose(rdb.Close)
		c := cache.NewCache(rdb)
		a.checks["redis"] = c.Ping
		listerOpts = append(listerOpts, document.WithListingCache(cache.NewListingCache(c, cfg.Redis.ListingCacheTTL, logger)))

		a.Queue = queue.NewClient(cfg.Redis)
		a.onClose(a.Queue.Close)
	}

	gwOpts := append([]llm.GatewayOption{llm.WithGatewayLogger(logger)}, o.gatewayOpts...)
	a.Embedder = embedding.NewService(llm.NewGateway(cfg.Embedding, gwOpts...), cfg.Embedding.Model,
		cfg.Embedding.BatchSize, cfg.Embedding.Concurrency)
	if cfg.Embedding.Dimension > 0 {
		a.Embedder.SetDimension(cfg.Embedding.Dimension)
	} else if a.Embedder.Configured() && !o.skipProbe {
		a.probeDimension(ctx)
	}

	tenantOpts := []tenant.Option{
		tenant.WithVectorDimension(a.Embedder.Dimension()),
		tenant.WithDefaultQuota(cfg.Ingest.DefaultQuotaBytes()),
		tenant.WithLogger(logger),
	}
	if a.Queue != nil {
		tenantOpts = append(tenantOpts, tenant.WithTeardownScheduler(a.Queue))
	}
	a.Tenants = tenant.NewService(a.Store, a.Sink, tenantOpts...)

	a.Lister = document.NewLister(a.Store, a.Sink, listerOpts...)

	a.Orchestrator, err = ingest.NewOrchestrator(a.Store,
		document.NewTextExtractor(cfg.Ingest.ExtractTimeout),
		a.Embedder, a.Sink, ingestOptions(cfg),
		ingest.WithInvalidator(a.Lister),
		ingest.WithRecorder(a.Metrics),
		ingest.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("configure ingestion: %w", err)
	}

	a.Reconciler = ingest.NewReconciler(a.Store, a.Sink, cfg.Ingest.ReconcileWorkers, logger)
	a.Reconciler.SetInvalidator(a.Lister)

	return a, nil
}

func ingestOptions(cfg *config.Config) ingest.Options {
	opts := ingest.DefaultOptions()
	opts.ChunkSize = cfg.Ingest.ChunkSize
	opts.ChunkOverlap = cfg.Ingest.ChunkOverlap
	opts.EmbedTimeout = cfg.Ingest.EmbedTimeout
	opts.StoreTimeout = cfg.Ingest.StoreTimeout
	opts.RollbackTimeout = cfg.Ingest.RollbackTimeout
	opts.UpsertBatchSize = cfg.VectorStore.BatchSize
	opts.UpsertConcurrency = cfg.VectorStore.Concurrency
	return opts
}

func (a *App) openTenantStore(cfg config.TenantStoreConfig, pool *pgxpool.Pool) error {
	switch cfg.Backend {
	case "postgres":
		a.Store = pgstore.New(pool)
	case "badger":
		s, err := badgerstore.Open(cfg.Dir, cfg.InMemory, a.Logger)
		if err != nil {
			return fmt.Errorf("open tenant store: %w", err)
		}
		a.Store = s
	default:
		return fmt.Errorf("unknown tenant store %q", cfg.Backend)
	}
	a.onClose(a.Store.Close)

	store := a.Store
	a.checks["tenant_store"] = func(ctx context.Context) error {
		_, err := store.Get(ctx, "readiness-probe")
		if err == nil || errors.Is(err, tenant.ErrNotFound) {
			return nil
		}
		return err
	}
	return nil
}

func (a *App) openSink(cfg config.VectorStoreConfig, pool *pgxpool.Pool) error {
	switch cfg.Backend {
	case "qdrant":
		q, err := vectorstore.NewQdrantStore(vectorstore.QdrantOptions{
			Host:    cfg.QdrantHost,
			Port:    cfg.QdrantPort,
			APIKey:  cfg.QdrantKey,
			UseTLS:  cfg.QdrantTLS,
			Timeout: cfg.Timeout,
		})
		if err != nil {
			return err
		}
		a.Sink = q
	case "pgvector":
		a.Sink = vectorstore.NewPgVectorStore(pool)
	case "memory":
		a.Sink = vectorstore.NewMemoryStore()
	default:
		return fmt.Errorf("unknown vector store %q", cfg.Backend)
	}
	a.onClose(a.Sink.Close)

	sink := a.Sink
	a.checks["vector_store"] = func(ctx context.Context) error {
		_, err := sink.Scroll(ctx, models.NamespaceFor("readiness-probe"), "", 1)
		if err == nil || errors.Is(err, vectorstore.ErrNamespaceNotFound) {
			return nil
		}
		return err
	}
	return nil
}

// probeDimension learns the vector size so namespaces can be provisioned
// eagerly. Failure is not fatal; namespaces are then created on first upload.
func (a *App) probeDimension(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	dim, err := a.Embedder.Probe(ctx)
	if err != nil {
		a.Logger.Warn("embedding dimension unknown", "error", err)
		return
	}
	a.Logger.Info("embedding dimension probed", "model", a.Embedder.Model(), "dimension", dim)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Checks are the readiness probes for every connected backend.
func (a *App) Checks() map[string]handlers.Check {
	out := make(map[string]handlers.Check, len(a.checks))
	for k, v := range a.checks {
		out[k] = v
	}
	return out
}

// RouterDeps wires the HTTP surface to the app's services.
func (a *App) RouterDeps() api.Deps {
	d := api.Deps{
		Tenants:        a.Tenants,
		Reconciler:     a.Reconciler,
		Ingester:       a.Orchestrator,
		Lister:         a.Lister,
		Checks:         a.Checks(),
		Metrics:        a.Metrics,
		CORSOrigins:    a.Config.Server.CORSOrigins,
		MaxUploadBytes: a.Config.Server.MaxUploadBytes,
		UploadRate:     a.Config.Server.UploadRate,
		UploadBurst:    a.Config.Server.UploadBurst,
	}
	// A nil *queue.Client must not become a non-nil interface.
	if a.Queue != nil {
		d.Queue = a.Queue
	}
	return d
}

// Close releases backends in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
