// Package metrics exposes transfer outcomes as Prometheus metrics.
package metrics

import (
	"fmt"

	"dstransfer/pkg/types"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// TransferMetrics tracks every completed transfer.
type TransferMetrics struct {
	TransfersTotal   *prometheus.CounterVec
	BytesTotal       *prometheus.CounterVec
	TransferDuration *prometheus.HistogramVec
	LastSuccess      *prometheus.GaugeVec
	RecordFailures   prometheus.Counter
}

// NewTransferMetrics creates and registers the metrics on registry.
func NewTransferMetrics(registry prometheus.Registerer) *TransferMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	return &TransferMetrics{
		TransfersTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dstransfer_transfers_total",
			Help: "Completed transfers by direction and outcome",
		}, []string{"direction", "outcome"}),
		BytesTotal: promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
			Name: "dstransfer_bytes_total",
			Help: "Bytes moved by direction",
		}, []string{"direction"}),
		TransferDuration: promauto.With(registry).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dstransfer_transfer_duration_seconds",
			Help:    "Time spent copying content",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}, []string{"direction"}),
		LastSuccess: promauto.With(registry).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dstransfer_last_success_timestamp_seconds",
			Help: "Completion time of the last successful transfer",
		}, []string{"direction"}),
		RecordFailures: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "dstransfer_record_failures_total",
			Help: "Results that could not be written to the next recorder",
		}),
	}
}

func (m *TransferMetrics) observe(r *types.TransferResult) {
	direction := string(r.Direction)
	m.TransfersTotal.WithLabelValues(direction, string(r.Outcome)).Inc()
	m.BytesTotal.WithLabelValues(direction).Add(float64(r.BytesTransferred))
	m.TransferDuration.WithLabelValues(direction).Observe(r.Elapsed.Seconds())
	if r.Succeeded() {
		m.LastSuccess.WithLabelValues(direction).Set(float64(r.CompletedAt.Unix()))
	}
}

// Recorder updates metrics for each result and passes it on to next.
type Recorder struct {
	metrics *TransferMetrics
	next    types.Recorder
	logger  *zap.Logger
}

// NewRecorder wraps next, which may be nil.
func NewRecorder(metrics *TransferMetrics, next types.Recorder, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{metrics: metrics, next: next, logger: logger}
}

func (r *Recorder) Record(result *types.TransferResult) error {
	r.metrics.observe(result)
	if r.next == nil {
		return nil
	}
	if err := r.next.Record(result); err != nil {
		r.metrics.RecordFailures.Inc()
		return err
	}
	return nil
}

// WriteTextfile writes the registry in the text exposition format, for the
// node exporter's textfile collector.
func WriteTextfile(path string, gatherer prometheus.Gatherer) error {
	if err := prometheus.WriteToTextfile(path, gatherer); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
