package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/medical-chronology/internal/core/domain"
)

// SessionMetrics implements ports.SessionObserver on a private registry.
type SessionMetrics struct {
	service  string
	registry *prometheus.Registry

	phaseTotal      *prometheus.CounterVec
	phaseDuration   *prometheus.HistogramVec
	phaseRetries    *prometheus.CounterVec
	refineRounds    *prometheus.HistogramVec
	sessionsTotal   *prometheus.CounterVec
	sessionInFlight prometheus.Gauge
}

func NewSessionMetrics(service string) *SessionMetrics {
	registry := prometheus.NewRegistry()

	phaseTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronology",
			Subsystem: "pipeline",
			Name:      "phase_total",
			Help:      "Finished pipeline phases by outcome.",
		},
		[]string{"service", "phase", "outcome"},
	)
	phaseDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chronology",
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Pipeline phase duration in seconds.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"service", "phase"},
	)
	phaseRetries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronology",
			Subsystem: "pipeline",
			Name:      "phase_retries_total",
			Help:      "Retried collaborator calls by phase.",
		},
		[]string{"service", "phase"},
	)
	refineRounds := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chronology",
			Subsystem: "refine",
			Name:      "rounds",
			Help:      "Correction rounds used per validated draft.",
			Buckets:   []float64{0, 1, 2, 3, 4, 5},
		},
		[]string{"service", "accepted"},
	)
	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chronology",
			Subsystem: "pipeline",
			Name:      "sessions_total",
			Help:      "Finished sessions by final status.",
		},
		[]string{"service", "status"},
	)
	sessionInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chronology",
			Subsystem: "pipeline",
			Name:      "sessions_in_flight",
			Help:      "Number of sessions currently running.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)

	registry.MustRegister(phaseTotal, phaseDuration, phaseRetries, refineRounds, sessionsTotal, sessionInFlight)

	return &SessionMetrics{
		service:         service,
		registry:        registry,
		phaseTotal:      phaseTotal,
		phaseDuration:   phaseDuration,
		phaseRetries:    phaseRetries,
		refineRounds:    refineRounds,
		sessionsTotal:   sessionsTotal,
		sessionInFlight: sessionInFlight,
	}
}

func (m *SessionMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *SessionMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// StartSession marks a session in flight; the returned func ends it.
func (m *SessionMetrics) StartSession() func() {
	m.sessionInFlight.Inc()
	return m.sessionInFlight.Dec
}

func (m *SessionMetrics) PhaseFinished(phase domain.Phase, outcome string, elapsed time.Duration) {
	if outcome == "" {
		outcome = "unknown"
	}
	m.phaseTotal.WithLabelValues(m.service, string(phase), outcome).Inc()
	m.phaseDuration.WithLabelValues(m.service, string(phase)).Observe(elapsed.Seconds())
}

func (m *SessionMetrics) PhaseRetried(phase domain.Phase) {
	m.phaseRetries.WithLabelValues(m.service, string(phase)).Inc()
}

func (m *SessionMetrics) RefineRounds(rounds int, accepted bool) {
	m.refineRounds.WithLabelValues(m.service, strconv.FormatBool(accepted)).Observe(float64(rounds))
}

func (m *SessionMetrics) SessionFinished(status domain.SessionStatus) {
	m.sessionsTotal.WithLabelValues(m.service, string(status)).Inc()
}
