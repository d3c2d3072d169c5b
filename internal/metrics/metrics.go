// README: Prometheus collectors for turns, fallbacks, tool calls and message hygiene.
package metrics

import (
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"roam/internal/modules/tools"
)

const namespace = "roam"

// Metrics is nil-safe: every method on a nil *Metrics is a no-op.
type Metrics struct {
	turns              *prometheus.CounterVec
	turnSeconds        prometheus.Histogram
	fallbackLevels     *prometheus.CounterVec
	toolCalls          *prometheus.CounterVec
	toolSeconds        *prometheus.HistogramVec
	extractionFailures *prometheus.CounterVec
	securityFlags      *prometheus.CounterVec
	conflicts          prometheus.Counter
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		turns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turns_total",
			Help:      "Turns handled by resulting state and outcome",
		}, []string{"state", "outcome"}),
		turnSeconds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "turn_duration_seconds",
			Help:      "End-to-end turn latency",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
		}),
		fallbackLevels: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "fallback_level_total",
			Help:      "Searches by the relaxation level that produced results",
		}, []string{"level"}),
		toolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls by tool and status",
		}, []string{"tool", "status"}),
		toolSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "duration_seconds",
			Help:      "Tool call latency",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 4},
		}, []string{"tool"}),
		extractionFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extraction",
			Name:      "failures_total",
			Help:      "Turns whose model output could not be used, by reason",
		}, []string{"reason"}),
		securityFlags: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "security_flags_total",
			Help:      "Security flags raised on inbound messages",
		}, []string{"kind"}),
		conflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "conflicts_total",
			Help:      "Session saves rejected by the version check",
		}),
	}
}

func (m *Metrics) Turn(state, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.turns.WithLabelValues(state, outcome).Inc()
	m.turnSeconds.Observe(d.Seconds())
}

func (m *Metrics) Fallback(level int) {
	if m == nil {
		return
	}
	m.fallbackLevels.WithLabelValues(strconv.Itoa(level)).Inc()
}

// NoAvailability counts searches where even the minimal query came back empty.
func (m *Metrics) NoAvailability() {
	if m == nil {
		return
	}
	m.fallbackLevels.WithLabelValues("none").Inc()
}

// ToolCalled implements tools.Observer.
func (m *Metrics) ToolCalled(name string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.toolCalls.WithLabelValues(name, toolStatus(err)).Inc()
	m.toolSeconds.WithLabelValues(name).Observe(d.Seconds())
}

func toolStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, tools.ErrToolTimeout):
		return "timeout"
	case errors.Is(err, tools.ErrSearchUnavailable):
		return "unavailable"
	case errors.Is(err, tools.ErrBadArguments):
		return "bad_arguments"
	}
	return "error"
}

func (m *Metrics) ExtractionFailed(reason string) {
	if m == nil {
		return
	}
	m.extractionFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SecurityFlag(kind string) {
	if m == nil {
		return
	}
	m.securityFlags.WithLabelValues(kind).Inc()
}

func (m *Metrics) Conflict() {
	if m == nil {
		return
	}
	m.conflicts.Inc()
}

var _ tools.Observer = (*Metrics)(nil)
