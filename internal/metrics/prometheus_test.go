package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestionCounters(t *testing.T) {
	m := New()
	m.ObserveOutcome("DONE", "ACCOUNTED")
	m.ObserveOutcome("DONE", "ACCOUNTED")
	m.ObserveOutcome("FAILED", "EMBEDDED")
	m.ObserveQuotaRejection()
	m.AddReservedBytes(1500)
	m.AddReleasedBytes(500)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestionsTotal.WithLabelValues("DONE", "ACCOUNTED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestionsTotal.WithLabelValues("FAILED", "EMBEDDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.quotaRejections))
	assert.Equal(t, 1500.0, testutil.ToFloat64(m.reservedBytes))
	assert.Equal(t, 500.0, testutil.ToFloat64(m.releasedBytes))
}

func TestRecordTask(t *testing.T) {
	m := New()
	m.RecordTask("document:ingest", nil)
	m.RecordTask("document:ingest", errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("document:ingest", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.tasksTotal.WithLabelValues("document:ingest", "error")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveStage("EXTRACTED", 20*time.Millisecond)
	m.RecordHTTPRequest("GET", "/api/v1/tenants", 200, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `docingest_ingest_stage_duration_seconds_count{stage="EXTRACTED"} 1`)
	assert.Contains(t, string(body), `docingest_http_requests_total{method="GET",route="/api/v1/tenants",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}

func TestInstancesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.ObserveQuotaRejection()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.quotaRejections))
}
