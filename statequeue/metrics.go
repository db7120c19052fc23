package statequeue

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects processor activity, labelled by processor name.
type Metrics struct {
	outcomes  *prometheus.CounterVec
	queueSize *prometheus.GaugeVec
	latency   *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. Collectors already present on
// reg are reused, so several processors can share one registry.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "softrains",
			Subsystem: "statequeue",
			Name:      "entries_total",
			Help:      "Queued writes by outcome.",
		}, []string{"processor", "outcome"}),
		queueSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "softrains",
			Subsystem: "statequeue",
			Name:      "queue_size",
			Help:      "Entries waiting in the queue, including the one in flight.",
		}, []string{"processor"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "softrains",
			Subsystem: "statequeue",
			Name:      "write_duration_seconds",
			Help:      "Time from issuing a write to its outcome.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2, 4, 8},
		}, []string{"processor", "outcome"}),
	}

	var err error
	if m.outcomes, err = register(reg, m.outcomes); err != nil {
		return nil, err
	}
	if m.queueSize, err = register(reg, m.queueSize); err != nil {
		return nil, err
	}
	if m.latency, err = register(reg, m.latency); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *Metrics) observeOutcome(processor string, outcome State, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(processor, outcome.String()).Inc()
	m.latency.WithLabelValues(processor, outcome.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) setQueueSize(processor string, size int) {
	if m == nil {
		return
	}
	m.queueSize.WithLabelValues(processor).Set(float64(size))
}
