// Package metrics holds the Prometheus collectors of the promotion service.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tagpromoter"

// Collector groups the service's collectors.
type Collector struct {
	promotions *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	tasks      *prometheus.CounterVec
	queueDepth prometheus.Gauge
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	const errCtx = "registering metrics"

	c := &Collector{
		promotions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "promotions_total",
				Help:      "Total number of promotion runs by target environment and outcome",
			},
			[]string{"target", "outcome"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "promotion_duration_seconds",
				Help:      "Duration of promotion runs",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"target"},
		),
		tasks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of tasks by final state, including rejected submissions",
			},
			[]string{"state"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "task_queue_depth",
				Help:      "Number of tasks waiting for a worker",
			},
		),
	}

	for _, col := range []prometheus.Collector{
		c.promotions, c.duration, c.tasks, c.queueDepth,
	} {
		if err := reg.Register(col); err != nil {
			return nil, fmt.Errorf("%s: %w", errCtx, err)
		}
	}

	return c, nil
}

// ObservePromotion records one finished promotion.
func (c *Collector) ObservePromotion(
	target string,
	outcome string,
	elapsed time.Duration,
) {
	if c == nil {
		return
	}

	c.promotions.WithLabelValues(target, outcome).Inc()
	c.duration.WithLabelValues(target).Observe(elapsed.Seconds())
}

// TaskFinished counts a task reaching state.
func (c *Collector) TaskFinished(state string) {
	if c == nil {
		return
	}

	c.tasks.WithLabelValues(state).Inc()
}

// SetQueueDepth publishes the number of queued tasks.
func (c *Collector) SetQueueDepth(n int) {
	if c == nil {
		return
	}

	c.queueDepth.Set(float64(n))
}
