package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRun(t *testing.T) {
	c := NewCollector("genaiti")
	c.RecordRun("done")
	c.RecordRun("done")
	c.RecordRun("rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.runs.WithLabelValues("done")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.runs.WithLabelValues("rejected")))
}

func TestRecordStageCountsErrors(t *testing.T) {
	c := NewCollector("genaiti")
	c.RecordStage("query", 10*time.Millisecond, nil)
	c.RecordStage("query", 10*time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.stageErrors.WithLabelValues("query")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.stageDuration))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordRun("done")
		c.RecordStage("query", time.Second, nil)
		c.RecordGraphRows(3)
		c.RecordHTTP("GET", "/health", 200, time.Millisecond)
	})
	assert.Nil(t, c.Registry())

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector("genaiti")
	c.RecordHTTP("POST", "/ask", 200, 5*time.Millisecond)
	c.RecordGraphRows(4)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `genaiti_http_requests_total{method="POST",route="/ask",status="200"} 1`))
	assert.Contains(t, body, "genaiti_graph_rows_count 1")
}
