package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// recorder collects delivered notifications.
type recorder struct {
	mu  sync.Mutex
	got []notification.Notification
}

func (r *recorder) callback(n notification.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.got))
	for _, n := range r.got {
		names = append(names, n.EventName())
	}
	return names
}

// counterValue sums every series of the named counter in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	_, err := b.Subscribe(ctx, notification.TopicActions, rec.callback, notification.Options{})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionStart, "h")))
	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")))

	require.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []string{"ACTION_START", "ACTION_END"}, rec.events())
}

func TestBus_TopicsAreIsolated(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	actions := &recorder{}
	sequences := &recorder{}
	_, err := b.Subscribe(ctx, notification.TopicActions, actions.callback, notification.Options{})
	require.NoError(t, err)
	_, err = b.Subscribe(ctx, notification.TopicSequences, sequences.callback, notification.Options{})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, notification.NewSequenceNotification(notification.SequenceCompleted, "s", 0)))

	require.Eventually(t, func() bool { return sequences.count() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 0, actions.count())
}

func TestBus_SubscribeValidation(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	_, err := b.Subscribe(ctx, "Nope", func(notification.Notification) {}, notification.Options{})
	assert.ErrorIs(t, err, notification.ErrUnknownTopic)

	_, err = b.Subscribe(ctx, notification.TopicActions, nil, notification.Options{})
	assert.ErrorIs(t, err, notification.ErrNilCallback)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = b.Subscribe(cancelled, notification.TopicActions, func(notification.Notification) {}, notification.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	handle, err := b.Subscribe(ctx, notification.TopicActions, rec.callback, notification.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount(notification.TopicActions))

	require.NoError(t, b.Unsubscribe(ctx, handle))
	assert.Equal(t, 0, b.SubscriberCount(notification.TopicActions))

	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, rec.count())

	err = b.Unsubscribe(ctx, handle)
	assert.ErrorIs(t, err, notification.ErrUnknownHandle)
}

func TestBus_UnsubscribeFromCallback(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	var handle notification.Handle
	ready := make(chan struct{})
	done := make(chan error, 1)
	h, err := b.Subscribe(ctx, notification.TopicActions, func(notification.Notification) {
		<-ready
		done <- b.Unsubscribe(ctx, handle)
	}, notification.Options{})
	require.NoError(t, err)
	handle = h
	close(ready)

	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Unsubscribe from inside a callback deadlocked")
	}
}

func TestBus_FullQueueDrops(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	require.NoError(t, err)

	b := New(Config{}, WithMetrics(collectors))
	defer b.Close()
	ctx := context.Background()

	block := make(chan struct{})
	_, err = b.Subscribe(ctx, notification.TopicActions, func(notification.Notification) {
		<-block
	}, notification.Options{BufferSize: 1})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionFeedback, "h")))
	}
	close(block)

	assert.Equal(t, float64(5), counterValue(t, reg, "kortex_notifications_published_total"))
	assert.GreaterOrEqual(t, counterValue(t, reg, "kortex_notifications_dropped_total"), float64(3))
}

func TestBus_FullQueueKeepsTerminal(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	rec := &recorder{}
	block := make(chan struct{})
	_, err := b.Subscribe(ctx, notification.TopicSequences, func(n notification.Notification) {
		<-block
		rec.callback(n)
	}, notification.Options{BufferSize: 2})
	require.NoError(t, err)

	for i := 0; i < 50; i++ {
		require.NoError(t, b.Publish(ctx, notification.NewSequenceNotification(notification.SequenceTaskCompleted, "s", i)))
	}
	require.NoError(t, b.Publish(ctx, notification.NewSequenceNotification(notification.SequenceCompleted, "s", 49)))
	close(block)

	require.Eventually(t, func() bool {
		events := rec.events()
		return len(events) > 0 && events[len(events)-1] == "SEQUENCE_COMPLETED"
	}, time.Second, 5*time.Millisecond)
	assert.LessOrEqual(t, rec.count(), 3)
}

func TestBus_RecoversCallbackPanic(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	calls := make(chan struct{}, 2)
	_, err := b.Subscribe(ctx, notification.TopicActions, func(notification.Notification) {
		calls <- struct{}{}
		panic("boom")
	}, notification.Options{})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionStart, "h")))
	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")))

	for i := 0; i < 2; i++ {
		select {
		case <-calls:
		case <-time.After(time.Second):
			t.Fatal("delivery stopped after a callback panic")
		}
	}
}

func TestBus_RecordsHistory(t *testing.T) {
	history := notifylog.New(0)
	b := New(Config{}, WithHistory(history))
	defer b.Close()
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")))

	entries, err := history.Read(ctx, notification.TopicActions, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "h", entries[0].Notification.Handle)
}

func TestBus_SubscribeFromReplaysThenFollows(t *testing.T) {
	history := notifylog.New(0)
	b := New(Config{}, WithHistory(history))
	defer b.Close()
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c"} {
		require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, h)))
	}

	live := make(chan notifylog.Entry, 4)
	handle, replay, err := b.SubscribeFrom(ctx, notification.TopicActions, 1, func(e notifylog.Entry) {
		live <- e
	}, notification.Options{})
	require.NoError(t, err)

	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "d")))

	var replayed []string
	for e := range replay {
		replayed = append(replayed, fmt.Sprintf("%d:%s", e.Offset, e.Notification.Handle))
	}
	assert.Equal(t, []string{"1:b", "2:c"}, replayed)

	select {
	case e := <-live:
		assert.Equal(t, int64(3), e.Offset)
		assert.Equal(t, "d", e.Notification.Handle)
	case <-time.After(time.Second):
		t.Fatal("live notification not delivered")
	}
	require.NoError(t, b.Unsubscribe(ctx, handle))
}

func TestBus_UnsubscribeEndsReplay(t *testing.T) {
	history := notifylog.New(0)
	b := New(Config{}, WithHistory(history))
	defer b.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionFeedback, "h")))
	}

	handle, replay, err := b.SubscribeFrom(ctx, notification.TopicActions, 0, func(notifylog.Entry) {}, notification.Options{})
	require.NoError(t, err)
	<-replay
	require.NoError(t, b.Unsubscribe(ctx, handle))

	require.Eventually(t, func() bool {
		select {
		case _, ok := <-replay:
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestBus_SubscribeFromNeedsHistory(t *testing.T) {
	b := New(Config{})
	defer b.Close()
	ctx := context.Background()

	_, _, err := b.SubscribeFrom(ctx, notification.TopicActions, 0, func(notifylog.Entry) {}, notification.Options{})
	assert.ErrorIs(t, err, ErrNoHistory)

	got := make(chan notifylog.Entry, 1)
	_, replay, err := b.SubscribeFrom(ctx, notification.TopicActions, Unrecorded, func(e notifylog.Entry) { got <- e }, notification.Options{})
	require.NoError(t, err)
	assert.Nil(t, replay)
	require.NoError(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")))

	select {
	case e := <-got:
		assert.Equal(t, Unrecorded, e.Offset)
	case <-time.After(time.Second):
		t.Fatal("live notification not delivered")
	}
}

func TestBus_Close(t *testing.T) {
	b := New(Config{})
	ctx := context.Background()

	_, err := b.Subscribe(ctx, notification.TopicActions, func(notification.Notification) {}, notification.Options{})
	require.NoError(t, err)

	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	assert.Equal(t, 0, b.SubscriberCount(notification.TopicActions))

	_, err = b.Subscribe(ctx, notification.TopicActions, func(notification.Notification) {}, notification.Options{})
	assert.ErrorIs(t, err, notification.ErrClosed)
	assert.ErrorIs(t, b.Publish(ctx, notification.NewActionNotification(notification.ActionEnd, "h")), notification.ErrClosed)
}
