package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	m := New("publisher-test")

	m.PublishOutcome("twitter", "success")
	m.PublishOutcome("twitter", "success")
	m.PolicyDenied("instagram", "rate_limited")
	m.SweepItem("retry", "requeued")
	m.ObserveAdapter("twitter", 1500*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.publishOutcomes.WithLabelValues("twitter", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.policyDenials.WithLabelValues("instagram", "rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepItems.WithLabelValues("retry", "requeued")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New("publisher")

	router := gin.New()
	router.Use(m.Middleware())
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/metrics", gin.WrapH(m.Handler()))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/health", "200")))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/metrics", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "publisher_http_requests_total")
}
