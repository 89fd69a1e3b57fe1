// Package subscription connects a notification stream to a completion latch.
//
// A Manager registers a filtered callback with a notification.Service and
// owns the resulting handles. Each handle is released exactly once: a
// second Unsubscribe for the same handle is rejected before it reaches the
// service.
package subscription

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/eventfilter"
	"github.com/Snehask3825/kortex/internal/latch"
	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

var (
	// ErrNotSubscribed is returned when releasing a handle this manager does not hold
	ErrNotSubscribed = errors.New("handle not held by this manager")
	// ErrNilFilter is returned when subscribing without a filter
	ErrNilFilter = errors.New("filter cannot be nil")
	// ErrNilLatch is returned when subscribing without a latch
	ErrNilLatch = errors.New("latch cannot be nil")
)

// Manager owns the subscriptions of the watches it arranges.
type Manager struct {
	service notification.Service
	options notification.Options
	logger  *zap.SugaredLogger
	metrics *metrics.Collectors

	mu     sync.Mutex
	active map[notification.Handle]notification.Topic
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the manager's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(m *Manager) {
		m.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the collectors that track active subscriptions.
func WithMetrics(c *metrics.Collectors) Option {
	return func(m *Manager) {
		m.metrics = c
	}
}

// WithOptions sets the options passed to every Subscribe call.
func WithOptions(opts notification.Options) Option {
	return func(m *Manager) {
		m.options = opts
	}
}

// NewManager creates a manager subscribing through service.
func NewManager(service notification.Service, opts ...Option) *Manager {
	m := &Manager{
		service: service,
		logger:  logging.Nop(),
		active:  make(map[notification.Handle]notification.Topic),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a callback on topic that classifies each notification
// with filter and sets l on the first terminal classification. Later
// notifications, terminal or not, leave l untouched.
//
// Any failure is returned as a *completion.SubscriptionError and nothing is
// left registered.
func (m *Manager) Subscribe(ctx context.Context, topic notification.Topic, filter eventfilter.Filter, l *latch.Latch) (notification.Handle, error) {
	if filter == nil {
		return "", &completion.SubscriptionError{Topic: topic, Err: ErrNilFilter}
	}
	if l == nil {
		return "", &completion.SubscriptionError{Topic: topic, Err: ErrNilLatch}
	}

	callback := func(n notification.Notification) {
		c := filter.Classify(n)
		if !c.IsTerminal() {
			return
		}
		if l.Set(c.Outcome) {
			m.logger.Debugw("Watch resolved", "topic", topic, "outcome", c.Outcome.String())
		}
	}

	handle, err := m.service.Subscribe(ctx, topic, callback, m.options)
	if err != nil {
		return "", &completion.SubscriptionError{Topic: topic, Err: err}
	}

	m.mu.Lock()
	m.active[handle] = topic
	m.mu.Unlock()
	m.metrics.SubscriptionOpened()

	m.logger.Debugw("Subscribed", "topic", topic, "handle", handle)
	return handle, nil
}

// Unsubscribe releases handle. The handle is forgotten before the service
// is called, so it is never released twice even if the service call fails.
func (m *Manager) Unsubscribe(ctx context.Context, handle notification.Handle) error {
	m.mu.Lock()
	topic, ok := m.active[handle]
	delete(m.active, handle)
	m.mu.Unlock()

	if !ok {
		return ErrNotSubscribed
	}
	m.metrics.SubscriptionClosed()

	if err := m.service.Unsubscribe(ctx, handle); err != nil {
		m.logger.Warnw("Unsubscribe failed", "topic", topic, "handle", handle, "error", err)
		return err
	}

	m.logger.Debugw("Unsubscribed", "topic", topic, "handle", handle)
	return nil
}

// Active returns the number of handles currently held.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}
