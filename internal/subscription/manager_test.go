package subscription

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Snehask3825/kortex/internal/bus"
	"github.com/Snehask3825/kortex/internal/eventfilter"
	"github.com/Snehask3825/kortex/internal/latch"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// fakeService records calls and delivers synchronously through deliver.
type fakeService struct {
	mu             sync.Mutex
	subscribeErr   error
	unsubscribeErr error
	subscribes     int
	unsubscribes   map[notification.Handle]int
	callbacks      map[notification.Handle]notification.Callback
}

func newFakeService() *fakeService {
	return &fakeService{
		unsubscribes: make(map[notification.Handle]int),
		callbacks:    make(map[notification.Handle]notification.Callback),
	}
}

func (f *fakeService) Subscribe(_ context.Context, _ notification.Topic, cb notification.Callback, _ notification.Options) (notification.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return "", f.subscribeErr
	}
	h := notification.Handle(fmt.Sprintf("h%d", f.subscribes))
	f.callbacks[h] = cb
	return h, nil
}

func (f *fakeService) Unsubscribe(_ context.Context, h notification.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribes[h]++
	delete(f.callbacks, h)
	return f.unsubscribeErr
}

func (f *fakeService) deliver(n notification.Notification) {
	f.mu.Lock()
	cbs := make([]notification.Callback, 0, len(f.callbacks))
	for _, cb := range f.callbacks {
		cbs = append(cbs, cb)
	}
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(n)
	}
}

func TestManager_TerminalNotificationSetsLatch(t *testing.T) {
	svc := newFakeService()
	m := NewManager(svc)
	l := latch.New(nil)

	_, err := m.Subscribe(context.Background(), notification.TopicActions, eventfilter.ForActions(nil), l)
	require.NoError(t, err)

	svc.deliver(notification.NewActionNotification(notification.ActionStart, "a"))
	assert.False(t, l.IsSet())

	svc.deliver(notification.NewActionNotification(notification.ActionEnd, "a"))
	outcome, ok := l.Outcome()
	require.True(t, ok)
	assert.Equal(t, completion.StatusCompleted, outcome.Status)

	svc.deliver(notification.NewActionNotification(notification.ActionAbort, "a"))
	outcome, _ = l.Outcome()
	assert.Equal(t, completion.StatusCompleted, outcome.Status, "later terminal events are ignored")
}

func TestManager_SubscribeFailure(t *testing.T) {
	svc := newFakeService()
	svc.subscribeErr = errors.New("controller unreachable")
	m := NewManager(svc)

	_, err := m.Subscribe(context.Background(), notification.TopicSequences, eventfilter.ForSequences(nil), latch.New(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, completion.ErrSubscription)

	var subErr *completion.SubscriptionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, notification.TopicSequences, subErr.Topic)
	assert.Equal(t, 0, m.Active())
}

func TestManager_RejectsNilArguments(t *testing.T) {
	m := NewManager(newFakeService())
	ctx := context.Background()

	_, err := m.Subscribe(ctx, notification.TopicActions, nil, latch.New(nil))
	assert.ErrorIs(t, err, ErrNilFilter)
	assert.ErrorIs(t, err, completion.ErrSubscription)

	_, err = m.Subscribe(ctx, notification.TopicActions, eventfilter.ForActions(nil), nil)
	assert.ErrorIs(t, err, ErrNilLatch)
}

func TestManager_UnsubscribeExactlyOnce(t *testing.T) {
	svc := newFakeService()
	m := NewManager(svc)
	ctx := context.Background()

	h, err := m.Subscribe(ctx, notification.TopicActions, eventfilter.ForActions(nil), latch.New(nil))
	require.NoError(t, err)
	assert.Equal(t, 1, m.Active())

	require.NoError(t, m.Unsubscribe(ctx, h))
	assert.ErrorIs(t, m.Unsubscribe(ctx, h), ErrNotSubscribed)

	assert.Equal(t, 1, svc.unsubscribes[h])
	assert.Equal(t, 0, m.Active())
}

func TestManager_UnsubscribeFailureStillForgetsHandle(t *testing.T) {
	svc := newFakeService()
	svc.unsubscribeErr = errors.New("gone")
	m := NewManager(svc)
	ctx := context.Background()

	h, err := m.Subscribe(ctx, notification.TopicActions, eventfilter.ForActions(nil), latch.New(nil))
	require.NoError(t, err)

	assert.Error(t, m.Unsubscribe(ctx, h))
	assert.ErrorIs(t, m.Unsubscribe(ctx, h), ErrNotSubscribed)
	assert.Equal(t, 1, svc.unsubscribes[h])
}

func TestManager_TracksActiveSubscriptionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	collectors, err := metrics.New(reg)
	require.NoError(t, err)

	m := NewManager(newFakeService(), WithMetrics(collectors))
	ctx := context.Background()

	h, err := m.Subscribe(ctx, notification.TopicActions, eventfilter.ForActions(nil), latch.New(nil))
	require.NoError(t, err)
	assert.Equal(t, 1.0, gaugeValue(t, reg, "kortex_active_subscriptions"))

	require.NoError(t, m.Unsubscribe(ctx, h))
	assert.Equal(t, 0.0, gaugeValue(t, reg, "kortex_active_subscriptions"))
}

func TestManager_WithBus(t *testing.T) {
	b := bus.New(bus.Config{})
	defer b.Close()
	ctx := context.Background()

	m := NewManager(b)
	l := latch.New(nil)

	h, err := m.Subscribe(ctx, notification.TopicSequences, eventfilter.ForSequences(nil), l)
	require.NoError(t, err)

	abort := notification.NewSequenceNotification(notification.SequenceAborted, "s", 1).
		WithAbortDetails(notification.SubErrorRobotInFault)
	require.NoError(t, b.Publish(ctx, abort))

	assert.True(t, l.Wait(time.Second))
	outcome, _ := l.Outcome()
	assert.Equal(t, completion.StatusAborted, outcome.Status)
	assert.Equal(t, notification.SubErrorRobotInFault, outcome.Reason.Code)

	require.NoError(t, m.Unsubscribe(ctx, h))
	assert.Equal(t, 0, b.SubscriberCount(notification.TopicSequences))
}

func gaugeValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			for _, m := range mf.GetMetric() {
				return m.GetGauge().GetValue()
			}
		}
	}
	return 0
}
