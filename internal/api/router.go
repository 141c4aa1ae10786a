package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/nikhilbhutani/docingest/internal/api/handlers"
	"github.com/nikhilbhutani/docingest/internal/api/middleware"
	"github.com/nikhilbhutani/docingest/internal/metrics"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Tenants    handlers.TenantService
	Reconciler handlers.Reconciler
	Ingester   handlers.Ingester
	Lister     handlers.Lister
	// Queue enables ?async=true uploads when set.
	Queue   handlers.IngestQueue
	Checks  map[string]handlers.Check
	Metrics *metrics.Metrics

	CORSOrigins    []string
	MaxUploadBytes int64
	// UploadRate is uploads per second per client, 0 disables limiting.
	UploadRate  float64
	UploadBurst int
}

type Router struct {
	mux     *chi.Mux
	deps    Deps
	limiter *middleware.RateLimiter
}

func NewRouter(deps Deps) *Router {
	rt := &Router{mux: chi.NewRouter(), deps: deps}
	if deps.UploadRate > 0 {
		burst := deps.UploadBurst
		if burst <= 0 {
			burst = 1
		}
		rt.limiter = middleware.NewRateLimiter(deps.UploadRate, burst)
	}
	return rt
}

// Close stops background work owned by the router.
func (rt *Router) Close() {
	if rt.limiter != nil {
		rt.limiter.Stop()
	}
}

func (rt *Router) Setup() http.Handler {
	r := rt.mux
	d := rt.deps

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging)
	r.Use(chimiddleware.Recoverer)
	if d.Metrics != nil {
		r.Use(middleware.Metrics(d.Metrics))
	}
	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(middleware.CORS(origins))

	health := handlers.NewHealthHandler(d.Checks)
	r.Get("/healthz", health.Healthz)
	r.Get("/readyz", health.Readyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	tenantH := handlers.NewTenantHandler(d.Tenants, d.Reconciler)
	docH := handlers.NewDocumentHandler(d.Ingester, d.Lister, d.Tenants, d.Queue, d.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/tenants", func(r chi.Router) {
			r.Post("/", tenantH.Create)
			r.Get("/", tenantH.List)
			r.Get("/stats", tenantH.Stats)
			r.Post("/reconcile", tenantH.ReconcileAll)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", tenantH.Get)
				r.Patch("/", tenantH.Update)
				r.Delete("/", tenantH.Delete)
				r.Post("/reconcile", tenantH.Reconcile)

				r.Get("/documents", docH.List)
				r.Group(func(r chi.Router) {
					if rt.limiter != nil {
						r.Use(rt.limiter.Limit)
					}
					r.Post("/documents", docH.Upload)
				})
			})
		})
	})

	return r
}
