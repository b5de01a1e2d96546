package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveInvocation(t *testing.T) {
	m := New()
	m.ObserveInvocation("part1", "text", "succeeded", 3, 2*time.Second)
	m.ObserveInvocation("part1", "text", "failed", 1, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("part1", "text", "succeeded")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.attempts.WithLabelValues("part1")))
}

func TestTransitionsAndGauge(t *testing.T) {
	m := New()
	m.IncTransition("idle", "part1_running")
	m.SetSessionsActive(3)
	m.AddTruncations("part2", 2)
	m.AddTruncations("part2", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("idle", "part1_running")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.truncations.WithLabelValues("part2")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.IncCollectorError("environmental")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `agriplan_collector_errors_total{variant="environmental"} 1`))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveInvocation("part1", "text", "succeeded", 1, time.Second)
	m.IncTransition("a", "b")
	m.SetSessionsActive(1)
	assert.Nil(t, m.Registry())
}
