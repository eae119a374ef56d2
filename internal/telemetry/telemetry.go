// Package telemetry records provider usage events and lifecycle operation
// outcomes as Prometheus metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Operation results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Recorder records usage events and operation results.
type Recorder struct {
	events     *prometheus.CounterVec
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
}

// NewRecorder creates a Recorder and registers its collectors on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crc_provider",
				Name:      "events_total",
				Help:      "Total number of provider usage events",
			},
			[]string{"event"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "crc_provider",
				Name:      "operation_total",
				Help:      "Total number of lifecycle operations by result",
			},
			[]string{"operation", "result"},
		),
		durations: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "crc_provider",
				Name:      "operation_duration_seconds",
				Help:      "Duration of lifecycle operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17m
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(r.events, r.operations, r.durations)
	return r
}

// Track records one usage event, e.g. "crc.start".
func (r *Recorder) Track(event string) {
	r.events.WithLabelValues(event).Inc()
}

// RecordResult records the outcome and duration of an operation.
func (r *Recorder) RecordResult(operation string, err error, duration time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.durations.WithLabelValues(operation).Observe(duration.Seconds())
}
