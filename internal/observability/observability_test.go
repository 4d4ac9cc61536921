package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordPolled("h", 1)
		c.RecordDispatched("h")
		c.RecordUnknownHandler("h")
		c.RecordSubmitted(1)
		c.RecordRetried(1)
		c.RecordDropped(1)
		c.SetPermitGauges("h", 1, 2)
		c.SetQueueDepth(3)
		c.ObserveExecution("h", 0.5)
	})
}

func TestCollectorExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordPolled("ns/echo", 2)
	c.RecordDispatched("ns/echo")
	c.SetQueueDepth(5)

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "unmeshed_sdk_work_items_polled_total")
	assert.Contains(t, body, "unmeshed_sdk_submission_queue_depth 5")
}
