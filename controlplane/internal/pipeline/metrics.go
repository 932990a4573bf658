package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Update results used as the "result" label value.
const (
	resultApplied   = "applied"
	resultUnchanged = "unchanged"
	resultInvalid   = "invalid"
	resultFailed    = "failed"
	resultHwFailed  = "hw_failed"
)

// Metrics defines the state update pipeline metrics.
type Metrics struct {
	HwOutOfSync        prometheus.Gauge
	HwUpdateFailures   prometheus.Counter
	StateUpdates       *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	ValidationFailures prometheus.Counter
}

// NewMetrics creates the pipeline metrics registered with the given
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HwOutOfSync: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "switchagent_hw_out_of_sync",
				Help: "Whether the hardware state differs from the desired one",
			},
		),
		HwUpdateFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "switchagent_hw_update_failures_total",
				Help: "Total number of partially applied or rejected hardware updates",
			},
		),
		StateUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "switchagent_state_updates_total",
				Help: "Total number of processed state update functions",
			},
			[]string{"result"},
		),
		BatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "switchagent_state_update_batch_size",
				Help:    "Number of update functions coalesced into a single hardware update",
				Buckets: prometheus.ExponentialBuckets(1, 2, 8),
			},
		),
		ValidationFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "switchagent_validation_failures_total",
				Help: "Total number of state updates rejected by validation",
			},
		),
	}
}
