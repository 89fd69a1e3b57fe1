// Package bus is an in-process notification service.
//
// Each subscription owns a bounded queue drained by its own delivery
// goroutine, so callbacks never run on the publisher's goroutine and a slow
// subscriber cannot stall the controller. When a queue is full a progress
// notification is dropped for that subscriber and counted; a terminal one
// evicts the oldest progress notification instead.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/internal/notifylog"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// ErrNoHistory is returned by SubscribeFrom when the bus records no history.
var ErrNoHistory = errors.New("notification history not enabled")

// Unrecorded is the offset carried by entries the bus did not record.
const Unrecorded int64 = -1

// subscriber is one registration and its delivery queue.
type subscriber struct {
	handle notification.Handle
	topic  notification.Topic
	queue  *notification.Queue[notifylog.Entry]
	done   chan struct{}

	// stopReplay ends a pending history replay
	stopReplay context.CancelFunc
}

// Bus implements notification.Service and notification.Publisher in memory.
// It is safe for concurrent use.
type Bus struct {
	config  Config
	logger  *zap.SugaredLogger
	metrics *metrics.Collectors
	history *notifylog.Log

	mu      sync.RWMutex
	byTopic map[notification.Topic]map[notification.Handle]*subscriber
	byID    map[notification.Handle]*subscriber
	closed  bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(b *Bus) {
		b.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the collectors counting published and dropped notifications.
func WithMetrics(c *metrics.Collectors) Option {
	return func(b *Bus) {
		b.metrics = c
	}
}

// WithHistory records every published notification in log.
func WithHistory(log *notifylog.Log) Option {
	return func(b *Bus) {
		b.history = log
	}
}

// New creates an empty bus.
func New(config Config, opts ...Option) *Bus {
	config.SetDefaults()
	b := &Bus{
		config:  config,
		logger:  logging.Nop(),
		byTopic: make(map[notification.Topic]map[notification.Handle]*subscriber),
		byID:    make(map[notification.Handle]*subscriber),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe implements notification.Service. The registration is in place
// when Subscribe returns.
func (b *Bus) Subscribe(ctx context.Context, topic notification.Topic, cb notification.Callback, opts notification.Options) (notification.Handle, error) {
	if cb == nil {
		return "", notification.ErrNilCallback
	}
	handle, _, err := b.SubscribeFrom(ctx, topic, Unrecorded, func(e notifylog.Entry) { cb(e.Notification) }, opts)
	return handle, err
}

// SubscribeFrom registers cb for topic like Subscribe, passing each
// notification with the history offset it was recorded at (Unrecorded
// without history).
//
// When fromOffset is not negative it also returns the retained history of
// topic from that offset. The replay ends where live delivery to cb begins,
// so the two neither overlap nor leave a gap. The caller drains the replay
// at its own pace; Unsubscribe ends it early. For a negative fromOffset the
// replay is nil.
func (b *Bus) SubscribeFrom(ctx context.Context, topic notification.Topic, fromOffset int64, cb func(notifylog.Entry), opts notification.Options) (notification.Handle, <-chan notifylog.Entry, error) {
	if err := ctx.Err(); err != nil {
		return "", nil, err
	}
	if !topic.Valid() {
		return "", nil, fmt.Errorf("%w: %q", notification.ErrUnknownTopic, topic)
	}
	if cb == nil {
		return "", nil, notification.ErrNilCallback
	}
	if fromOffset >= 0 && b.history == nil {
		return "", nil, ErrNoHistory
	}

	size := opts.BufferSize
	if size <= 0 {
		size = b.config.BufferSize
	}

	sub := &subscriber{
		handle: notification.Handle(uuid.NewString()),
		topic:  topic,
		queue:  notification.NewQueue[notifylog.Entry](size),
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", nil, notification.ErrClosed
	}
	var replay <-chan notifylog.Entry
	if fromOffset >= 0 {
		// Publish appends to history under b.mu, so this snapshot ends
		// exactly where live delivery begins.
		replayCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		sub.stopReplay = cancel
		replay, _ = b.history.Replay(replayCtx, topic, fromOffset)
	}
	if b.byTopic[topic] == nil {
		b.byTopic[topic] = make(map[notification.Handle]*subscriber)
	}
	b.byTopic[topic][sub.handle] = sub
	b.byID[sub.handle] = sub
	b.mu.Unlock()

	go b.deliver(sub, cb)

	return sub.handle, replay, nil
}

// deliver drains the subscriber queue until Unsubscribe closes it.
func (b *Bus) deliver(sub *subscriber, cb func(notifylog.Entry)) {
	defer close(sub.done)
	for {
		e, ok := sub.queue.Next()
		if !ok {
			return
		}
		b.invoke(sub, cb, e)
	}
}

func (b *Bus) invoke(sub *subscriber, cb func(notifylog.Entry), e notifylog.Entry) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Subscriber callback panicked", "handle", sub.handle, "panic", r)
		}
	}()
	cb(e)
}

// Unsubscribe implements notification.Service. It does not wait for an
// in-flight callback, so it is safe to call from inside one.
func (b *Bus) Unsubscribe(ctx context.Context, handle notification.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[handle]
	if !ok {
		return fmt.Errorf("%w: %s", notification.ErrUnknownHandle, handle)
	}
	b.remove(sub)

	if dropped := sub.queue.Dropped(); dropped > 0 {
		b.logger.Warnw("Subscriber dropped notifications", "handle", handle, "dropped", dropped)
	}
	return nil
}

// remove must be called with b.mu held for writing.
func (b *Bus) remove(sub *subscriber) {
	delete(b.byID, sub.handle)
	if subs := b.byTopic[sub.topic]; subs != nil {
		delete(subs, sub.handle)
		if len(subs) == 0 {
			delete(b.byTopic, sub.topic)
		}
	}
	if sub.stopReplay != nil {
		sub.stopReplay()
	}
	sub.queue.Close()
}

// Publish implements notification.Publisher. It never blocks on a subscriber.
func (b *Bus) Publish(ctx context.Context, n notification.Notification) error {
	topic := n.Topic()
	if !topic.Valid() {
		return fmt.Errorf("%w: notification kind %s", notification.ErrUnknownTopic, n.Kind)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return notification.ErrClosed
	}

	entry := notifylog.Entry{Offset: Unrecorded, Notification: n}
	if b.history != nil {
		recorded, err := b.history.Append(ctx, n)
		if err != nil {
			b.logger.Warnw("Failed to record notification", "topic", topic, "error", err)
		} else {
			entry = recorded
		}
	}

	b.metrics.NotificationPublished(topic.String())
	for _, sub := range b.byTopic[topic] {
		if !sub.queue.Push(entry) {
			b.metrics.NotificationDropped(topic.String())
		}
	}

	return nil
}

// SubscriberCount returns the number of active subscriptions on topic.
func (b *Bus) SubscriberCount(topic notification.Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byTopic[topic])
}

// Close removes every subscription. Later calls to Subscribe and Publish
// fail with notification.ErrClosed. Safe to call multiple times.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, sub := range b.byID {
		b.remove(sub)
	}
	return nil
}
