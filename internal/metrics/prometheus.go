// Package metrics exposes Prometheus collectors for ingestion and the HTTP
// surface.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docingest"

// Metrics holds all collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ingestionsTotal  *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	quotaRejections  prometheus.Counter
	reservedBytes    prometheus.Counter
	releasedBytes    prometheus.Counter
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight prometheus.Gauge
	tasksTotal       *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := factory{reg}

	return &Metrics{
		registry: reg,
		ingestionsTotal: f.counterVec(prometheus.CounterOpts{
			Name: "ingestions_total",
			Help: "Finished ingestions by final state and the stage that ended them",
		}, []string{"outcome", "stage"}),
		stageDuration: f.histogramVec(prometheus.HistogramOpts{
			Name:    "ingest_stage_duration_seconds",
			Help:    "Time spent in each ingestion stage",
			Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}, []string{"stage"}),
		quotaRejections: f.counter(prometheus.CounterOpts{
			Name: "quota_rejections_total",
			Help: "Uploads rejected because they would exceed the tenant quota",
		}),
		reservedBytes: f.counter(prometheus.CounterOpts{
			Name: "quota_reserved_bytes_total",
			Help: "Bytes reserved against tenant quotas",
		}),
		releasedBytes: f.counter(prometheus.CounterOpts{
			Name: "quota_released_bytes_total",
			Help: "Bytes returned to tenant quotas by rollbacks",
		}),
		requestsTotal: f.counterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		requestDuration: f.histogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		requestsInFlight: f.gauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),
		tasksTotal: f.counterVec(prometheus.CounterOpts{
			Name: "tasks_total",
			Help: "Background tasks processed by type and result",
		}, []string{"type", "result"}),
	}
}

type factory struct{ reg prometheus.Registerer }

func (f factory) counter(opts prometheus.CounterOpts) prometheus.Counter {
	opts.Namespace = namespace
	c := prometheus.NewCounter(opts)
	f.reg.MustRegister(c)
	return c
}

func (f factory) counterVec(opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	opts.Namespace = namespace
	c := prometheus.NewCounterVec(opts, labels)
	f.reg.MustRegister(c)
	return c
}

func (f factory) histogramVec(opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	opts.Namespace = namespace
	h := prometheus.NewHistogramVec(opts, labels)
	f.reg.MustRegister(h)
	return h
}

func (f factory) gauge(opts prometheus.GaugeOpts) prometheus.Gauge {
	opts.Namespace = namespace
	g := prometheus.NewGauge(opts)
	f.reg.MustRegister(g)
	return g
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveOutcome counts a finished ingestion. stage is the state the
// pipeline was in when it stopped.
func (m *Metrics) ObserveOutcome(outcome, stage string) {
	m.ingestionsTotal.WithLabelValues(outcome, stage).Inc()
}

func (m *Metrics) ObserveQuotaRejection() {
	m.quotaRejections.Inc()
}

func (m *Metrics) AddReservedBytes(n int64) {
	m.reservedBytes.Add(float64(n))
}

func (m *Metrics) AddReleasedBytes(n int64) {
	m.releasedBytes.Add(float64(n))
}

func (m *Metrics) RecordHTTPRequest(method, route string, statusCode int, d time.Duration) {
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func (m *Metrics) IncRequestsInFlight() { m.requestsInFlight.Inc() }
func (m *Metrics) DecRequestsInFlight() { m.requestsInFlight.Dec() }

func (m *Metrics) RecordTask(taskType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.tasksTotal.WithLabelValues(taskType, result).Inc()
}
