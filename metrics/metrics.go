// Package metrics records dictation counters and latencies and writes them
// in the Prometheus text format to a local file for node_exporter's
// textfile collector. Nothing listens on the network.
package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"go.aimuz.me/miaoshu/internal/types"
)

const namespace = "miaoshu"

// Metrics holds the collectors of one process.
type Metrics struct {
	registry *prometheus.Registry

	sessions     *prometheus.CounterVec
	recording    prometheus.Histogram
	recognition  prometheus.Histogram
	injection    prometheus.Histogram
	queueDepth   prometheus.Gauge
	engineErrors prometheus.Counter
}

// New creates collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Dictation sessions by outcome.",
		}, []string{"outcome"}),
		recording: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recording_seconds",
			Help:      "Captured audio duration per session.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		recognition: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "recognition_seconds",
			Help:      "Time spent in the recognition engine.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		injection: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "injection_seconds",
			Help:      "Time spent injecting text.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 8),
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Sealed sessions waiting for or in recognition.",
		}),
		engineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognition_errors_total",
			Help:      "Recognition failures, timeouts included.",
		}),
	}
	m.registry.MustRegister(m.sessions, m.recording, m.recognition, m.injection, m.queueDepth, m.engineErrors)
	return m
}

// SessionDone counts a finished session.
func (m *Metrics) SessionDone(o types.Outcome) {
	m.sessions.WithLabelValues(string(o)).Inc()
	if o == types.OutcomeRecognitionFailed {
		m.engineErrors.Inc()
	}
}

// ObserveRecording records a captured audio duration.
func (m *Metrics) ObserveRecording(d time.Duration) { m.recording.Observe(d.Seconds()) }

// ObserveRecognition records engine latency.
func (m *Metrics) ObserveRecognition(d time.Duration) { m.recognition.Observe(d.Seconds()) }

// ObserveInjection records injection latency.
func (m *Metrics) ObserveInjection(d time.Duration) { m.injection.Observe(d.Seconds()) }

// SetQueueDepth reports the number of pending sessions.
func (m *Metrics) SetQueueDepth(n int) { m.queueDepth.Set(float64(n)) }

// WriteFile writes all metrics to path atomically.
func (m *Metrics) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics dir: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
