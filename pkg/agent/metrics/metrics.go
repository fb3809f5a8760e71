// Package metrics holds the agent's Prometheus metrics on a private
// registry, so tests and embedded uses never collide with the global one.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the interview agent.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec

	TurnsTotal   *prometheus.CounterVec
	TurnDuration prometheus.Histogram

	StoreCommits   *prometheus.CounterVec
	StoreFallbacks prometheus.Counter

	TranscriptEntries *prometheus.CounterVec

	RecordingSaves       *prometheus.CounterVec
	CaptureStartDuration prometheus.Histogram
}

// New creates a Metrics instance with everything registered on a fresh
// private registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "interview_agent"
	}

	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of live interview sessions",
	})

	sessionsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sessions_total",
		Help:      "Total interview sessions by outcome",
	}, []string{"outcome"})

	turnsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "turns_total",
		Help:      "Total conversation turns by result",
	}, []string{"result"})

	turnDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "turn_duration_seconds",
		Help:      "Full turn duration, input to committed reply",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	storeCommits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_commits_total",
		Help:      "Conversation state commits by backend and result",
	}, []string{"backend", "result"})

	storeFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_fallbacks_total",
		Help:      "Times the persistent store was unavailable and the volatile fallback was selected",
	})

	transcriptEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "transcript_entries_total",
		Help:      "Transcript entries by result",
	}, []string{"result"})

	recordingSaves := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recording_saves_total",
		Help:      "Recording linkage save attempts by result",
	}, []string{"result"})

	captureStartDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "capture_start_duration_seconds",
		Help:      "Time spent waiting for the capture service to start",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15},
	})

	registry.MustRegister(
		sessionsActive,
		sessionsTotal,
		turnsTotal,
		turnDuration,
		storeCommits,
		storeFallbacks,
		transcriptEntries,
		recordingSaves,
		captureStartDuration,
	)

	return &Metrics{
		registry:             registry,
		SessionsActive:       sessionsActive,
		SessionsTotal:        sessionsTotal,
		TurnsTotal:           turnsTotal,
		TurnDuration:         turnDuration,
		StoreCommits:         storeCommits,
		StoreFallbacks:       storeFallbacks,
		TranscriptEntries:    transcriptEntries,
		RecordingSaves:       recordingSaves,
		CaptureStartDuration: captureStartDuration,
	}
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SessionStarted records a session opening.
func (m *Metrics) SessionStarted() {
	m.SessionsActive.Inc()
}

// SessionEnded records a session closing with its outcome.
func (m *Metrics) SessionEnded(outcome string) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordTurn records one conversation turn.
func (m *Metrics) RecordTurn(result string, duration time.Duration) {
	m.TurnsTotal.WithLabelValues(result).Inc()
	m.TurnDuration.Observe(duration.Seconds())
}

// RecordCommit records one state commit.
func (m *Metrics) RecordCommit(backend, result string) {
	m.StoreCommits.WithLabelValues(backend, result).Inc()
}

// RecordTranscript records one transcript entry outcome.
func (m *Metrics) RecordTranscript(result string) {
	m.TranscriptEntries.WithLabelValues(result).Inc()
}

// TranscriptDrops returns the counter the transcript queue increments when
// it discards an entry. Satisfies transcript.DropCounter.
func (m *Metrics) TranscriptDrops() prometheus.Counter {
	return m.TranscriptEntries.WithLabelValues("dropped")
}

// RecordRecordingSave records one linkage save attempt.
func (m *Metrics) RecordRecordingSave(result string) {
	m.RecordingSaves.WithLabelValues(result).Inc()
}

// ObserveCaptureStart records how long capture start took, success or not.
func (m *Metrics) ObserveCaptureStart(duration time.Duration) {
	m.CaptureStartDuration.Observe(duration.Seconds())
}
