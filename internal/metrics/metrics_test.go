package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.ObserveOperation("ActionEvents", "completed", 500*time.Millisecond)
	c.ObserveOperation("ActionEvents", "completed", time.Second)
	c.ObserveOperation("SequenceEvents", "timed_out", 2*time.Second)
	c.SubscriptionOpened()
	c.SubscriptionOpened()
	c.SubscriptionClosed()
	c.NotificationPublished("ActionEvents")
	c.NotificationDropped("ActionEvents")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.operations.WithLabelValues("ActionEvents", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.operations.WithLabelValues("SequenceEvents", "timed_out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSubscriptions))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.published.WithLabelValues("ActionEvents")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.dropped.WithLabelValues("ActionEvents")))
}

func TestCollectors_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)

	_, err = New(reg)
	assert.Error(t, err)
}

func TestCollectors_NilIsNoop(t *testing.T) {
	var c *Collectors
	assert.NotPanics(t, func() {
		c.ObserveOperation("ActionEvents", "completed", time.Second)
		c.SubscriptionOpened()
		c.SubscriptionClosed()
		c.NotificationPublished("ActionEvents")
		c.NotificationDropped("ActionEvents")
	})
}
