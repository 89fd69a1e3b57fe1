// Package metrics holds the prometheus collectors kortex exports.
//
// A nil *Collectors is valid and records nothing, so components can take
// metrics as an optional dependency.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kortex"

// Collectors groups every collector kortex registers.
type Collectors struct {
	operations          *prometheus.CounterVec
	waitSeconds         *prometheus.HistogramVec
	activeSubscriptions prometheus.Gauge
	published           *prometheus.CounterVec
	dropped             *prometheus.CounterVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Watched operations by topic and outcome status.",
		}, []string{"topic", "status"}),
		waitSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_wait_seconds",
			Help:      "Time spent waiting for a terminal notification.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"topic"}),
		activeSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_subscriptions",
			Help:      "Notification subscriptions currently held by watches.",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_published_total",
			Help:      "Notifications published by topic.",
		}, []string{"topic"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because a subscriber buffer was full.",
		}, []string{"topic"}),
	}

	for _, collector := range []prometheus.Collector{
		c.operations, c.waitSeconds, c.activeSubscriptions, c.published, c.dropped,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// ObserveOperation records one finished watch.
func (c *Collectors) ObserveOperation(topic, status string, waited time.Duration) {
	if c == nil {
		return
	}
	c.operations.WithLabelValues(topic, status).Inc()
	c.waitSeconds.WithLabelValues(topic).Observe(waited.Seconds())
}

// SubscriptionOpened increments the active subscription gauge.
func (c *Collectors) SubscriptionOpened() {
	if c == nil {
		return
	}
	c.activeSubscriptions.Inc()
}

// SubscriptionClosed decrements the active subscription gauge.
func (c *Collectors) SubscriptionClosed() {
	if c == nil {
		return
	}
	c.activeSubscriptions.Dec()
}

// NotificationPublished counts one published notification.
func (c *Collectors) NotificationPublished(topic string) {
	if c == nil {
		return
	}
	c.published.WithLabelValues(topic).Inc()
}

// NotificationDropped counts one notification a subscriber never received.
func (c *Collectors) NotificationDropped(topic string) {
	if c == nil {
		return
	}
	c.dropped.WithLabelValues(topic).Inc()
}
