// Package redisbus carries notifications over Redis pub/sub so that
// processes other than the controller's can watch operations.
//
// Each topic maps to one channel; notifications are JSON encoded.
package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// ErrEmptyURL is returned when no Redis address is configured
var ErrEmptyURL = errors.New("redis url cannot be empty")

// Config holds configuration for the Redis notification bus
type Config struct {
	// URL is a redis:// URL or a host:port address
	URL string `yaml:"url"`

	// ChannelPrefix is prepended to topic names to form channel names
	ChannelPrefix string `yaml:"channelPrefix"`

	// BufferSize is the per-subscription message buffer
	BufferSize int `yaml:"bufferSize"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.ChannelPrefix == "" {
		c.ChannelPrefix = "kortex:notifications:"
	}
	if c.BufferSize <= 0 {
		c.BufferSize = 100
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.URL == "" {
		return ErrEmptyURL
	}
	return nil
}

// Connect initializes a Redis client from URL or host:port input and
// checks that the server answers.
func Connect(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// Bus implements notification.Service and notification.Publisher on Redis.
// The Redis client is owned by the caller.
type Bus struct {
	client  *redis.Client
	config  Config
	logger  *zap.SugaredLogger
	metrics *metrics.Collectors

	mu     sync.Mutex
	subs   map[notification.Handle]*redis.PubSub
	closed bool
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the bus logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(b *Bus) {
		b.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the collectors counting published notifications.
func WithMetrics(c *metrics.Collectors) Option {
	return func(b *Bus) {
		b.metrics = c
	}
}

// New creates a bus on client.
func New(client *redis.Client, config Config, opts ...Option) *Bus {
	config.SetDefaults()
	b := &Bus{
		client: client,
		config: config,
		logger: logging.Nop(),
		subs:   make(map[notification.Handle]*redis.PubSub),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bus) channel(topic notification.Topic) string {
	return b.config.ChannelPrefix + topic.String()
}

// Publish implements notification.Publisher.
func (b *Bus) Publish(ctx context.Context, n notification.Notification) error {
	topic := n.Topic()
	if !topic.Valid() {
		return fmt.Errorf("%w: notification kind %s", notification.ErrUnknownTopic, n.Kind)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel(topic), payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}
	b.metrics.NotificationPublished(topic.String())
	return nil
}

// Subscribe implements notification.Service. It returns after Redis has
// confirmed the channel subscription.
func (b *Bus) Subscribe(ctx context.Context, topic notification.Topic, cb notification.Callback, opts notification.Options) (notification.Handle, error) {
	if !topic.Valid() {
		return "", fmt.Errorf("%w: %q", notification.ErrUnknownTopic, topic)
	}
	if cb == nil {
		return "", notification.ErrNilCallback
	}

	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return "", notification.ErrClosed
	}

	ps := b.client.Subscribe(ctx, b.channel(topic))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return "", fmt.Errorf("subscribe to redis channel: %w", err)
	}

	size := opts.BufferSize
	if size <= 0 {
		size = b.config.BufferSize
	}
	messages := ps.Channel(redis.WithChannelSize(size))

	handle := notification.Handle(uuid.NewString())

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = ps.Close()
		return "", notification.ErrClosed
	}
	b.subs[handle] = ps
	b.mu.Unlock()

	go b.deliver(handle, messages, cb)

	return handle, nil
}

// deliver decodes messages until the subscription is closed.
func (b *Bus) deliver(handle notification.Handle, messages <-chan *redis.Message, cb notification.Callback) {
	for msg := range messages {
		var n notification.Notification
		if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
			b.logger.Warnw("Discarding undecodable notification", "channel", msg.Channel, "error", err)
			continue
		}
		b.invoke(handle, cb, n)
	}
}

func (b *Bus) invoke(handle notification.Handle, cb notification.Callback, n notification.Notification) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Errorw("Subscriber callback panicked", "handle", handle, "panic", r)
		}
	}()
	cb(n)
}

// Unsubscribe implements notification.Service.
func (b *Bus) Unsubscribe(ctx context.Context, handle notification.Handle) error {
	b.mu.Lock()
	ps, ok := b.subs[handle]
	delete(b.subs, handle)
	b.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", notification.ErrUnknownHandle, handle)
	}
	return ps.Close()
}

// Close releases every subscription. The Redis client stays open.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[notification.Handle]*redis.PubSub)
	b.mu.Unlock()

	var errs []error
	for _, ps := range subs {
		if err := ps.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
