package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"roam/internal/modules/tools"
)

func TestToolCalled(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.ToolCalled("calculate", nil, 3*time.Millisecond)
	m.ToolCalled("get_weather", fmt.Errorf("%w: get_weather", tools.ErrToolTimeout), time.Second)
	m.ToolCalled("search_vehicles", tools.ErrSearchUnavailable, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("calculate", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("get_weather", "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.toolCalls.WithLabelValues("search_vehicles", "unavailable")))
}

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())
	m.Turn("COLLECTING_DATES", "ok", 200*time.Millisecond)
	m.Fallback(4)
	m.Fallback(4)
	m.NoAvailability()
	m.ExtractionFailed("malformed")
	m.SecurityFlag("injection")
	m.Conflict()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.turns.WithLabelValues("COLLECTING_DATES", "ok")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbackLevels.WithLabelValues("4")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fallbackLevels.WithLabelValues("none")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.extractionFailures.WithLabelValues("malformed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.securityFlags.WithLabelValues("injection")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.conflicts))
}

func TestNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Turn("INIT", "ok", time.Second)
		m.Fallback(1)
		m.NoAvailability()
		m.ToolCalled("x", nil, 0)
		m.ExtractionFailed("x")
		m.SecurityFlag("spam")
		m.Conflict()
	})
}
