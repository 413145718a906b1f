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

func TestObserveWriteCountsOutcomes(t *testing.T) {
	collectors := New()
	collectors.ObserveWrite("votes.cast", nil)
	collectors.ObserveWrite("votes.cast", nil)
	collectors.ObserveWrite("votes.cast", errors.New("boom"))

	assert.Equal(t, 2.0, testutil.ToFloat64(collectors.writesTotal.WithLabelValues("votes.cast", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collectors.writesTotal.WithLabelValues("votes.cast", "error")))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var collectors *Metrics
	collectors.ObserveWrite("op", nil)
	collectors.ObserveAggregation("trending", time.Now())
	collectors.ObserveRemoteCall("character", nil)
	collectors.SetBreakerState("functions", 2)
	collectors.ObserveCacheLookup("book", true)
	collectors.ObserveHTTPRequest(http.MethodGet, "/", http.StatusOK, time.Millisecond)

	recorder := httptest.NewRecorder()
	collectors.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestHandlerExposesCollectors(t *testing.T) {
	collectors := New()
	collectors.ObserveHTTPRequest(http.MethodGet, "/books/trending", http.StatusOK, 10*time.Millisecond)
	collectors.SetBreakerState("functions", 1)

	recorder := httptest.NewRecorder()
	collectors.Handler().ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, recorder.Code)

	body := recorder.Body.String()
	assert.True(t, strings.Contains(body, `bookthreads_http_requests_total{method="GET",route="/books/trending",status="200"} 1`))
	assert.True(t, strings.Contains(body, `bookthreads_circuit_breaker_state{breaker="functions"} 1`))
}
