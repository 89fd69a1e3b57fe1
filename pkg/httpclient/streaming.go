package httpclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Snehask3825/kortex/pkg/notification"
)

const subscribedPrefix = ": subscribed "

// stream is one open notification subscription
type stream struct {
	topic  notification.Topic
	cancel context.CancelFunc
}

// Subscribe implements notification.Service. It opens a Server-Sent Events
// stream for topic and returns once the gateway confirmed the subscription;
// every notification published after that is passed to callback in order.
//
// ctx bounds only the handshake; the stream lives until Unsubscribe or Close.
func (c *Client) Subscribe(ctx context.Context, topic notification.Topic, callback notification.Callback, opts notification.Options) (notification.Handle, error) {
	if !topic.Valid() {
		return "", fmt.Errorf("%w: %q", notification.ErrUnknownTopic, topic)
	}
	if callback == nil {
		return "", notification.ErrNilCallback
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	body, handle, err := c.openStream(streamCtx, topic, noOffset)
	if !stop() {
		// ctx ended during the handshake
		cancel()
		if err == nil {
			body.Close()
		}
		return "", ctx.Err()
	}
	if err != nil {
		cancel()
		return "", err
	}

	c.mu.Lock()
	c.streams[handle] = &stream{topic: topic, cancel: cancel}
	c.mu.Unlock()

	size := opts.BufferSize
	if size <= 0 {
		size = c.config.StreamBufferSize
	}
	queue := notification.NewQueue[notification.Notification](size)
	go c.dispatch(handle, queue, callback)
	go func() {
		defer queue.Close()
		defer body.Close()

		err := readSSE(streamCtx, bufio.NewReader(body), func(msg sseMessage) {
			var n notification.Notification
			if err := json.Unmarshal(msg.data, &n); err != nil {
				c.logger.Warnw("Failed to parse notification", "handle", handle, "error", err)
				return
			}
			if !queue.Push(n) {
				c.logger.Warnw("Subscription queue full, dropped notification", "handle", handle, "event", n.EventName())
			}
		})
		if err != nil && streamCtx.Err() == nil {
			c.logger.Warnw("Notification stream ended", "handle", handle, "topic", topic, "error", err)
		}
	}()

	c.logger.Debugw("Subscribed", "topic", topic, "handle", handle)
	return handle, nil
}

// Unsubscribe implements notification.Service. It closes the stream without
// waiting for an in-flight callback, so it may be called from a callback.
func (c *Client) Unsubscribe(ctx context.Context, handle notification.Handle) error {
	c.mu.Lock()
	s, ok := c.streams[handle]
	delete(c.streams, handle)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", notification.ErrUnknownHandle, handle)
	}
	s.cancel()
	c.logger.Debugw("Unsubscribed", "topic", s.topic, "handle", handle)
	return nil
}

// Close closes every open subscription.
func (c *Client) Close() error {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[notification.Handle]*stream)
	c.mu.Unlock()

	for _, s := range streams {
		s.cancel()
	}
	return nil
}

func (c *Client) dispatch(handle notification.Handle, queue *notification.Queue[notification.Notification], callback notification.Callback) {
	for n, ok := queue.Next(); ok; n, ok = queue.Next() {
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.logger.Errorw("Subscription callback panicked", "handle", handle, "panic", r)
				}
			}()
			callback(n)
		}()
	}
}

// noOffset marks a stream message without a history offset, and asks
// openStream for live notifications only.
const noOffset int64 = -1

// openStream connects to the gateway stream endpoint and reads the
// subscription confirmation. The returned body is positioned after it.
// A non-negative fromOffset replays history from that offset first.
func (c *Client) openStream(ctx context.Context, topic notification.Topic, fromOffset int64) (io.ReadCloser, notification.Handle, error) {
	token := c.GetToken()
	if token == "" {
		return nil, "", ErrNotAuthenticated
	}

	query := url.Values{}
	query.Set("topic", topic.String())
	if fromOffset >= 0 {
		query.Set("fromOffset", strconv.FormatInt(fromOffset, 10))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve("/api/v1/notifications/stream", query), nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create streaming request: %w", err)
	}

	// Set SSE headers
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to connect to stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, "", decodeAPIError(resp.StatusCode, bodyBytes)
	}

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	if err != nil {
		resp.Body.Close()
		return nil, "", fmt.Errorf("failed to read stream confirmation: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, subscribedPrefix) {
		resp.Body.Close()
		return nil, "", fmt.Errorf("unexpected stream preamble %q", line)
	}

	return readCloser{Reader: reader, Closer: resp.Body}, notification.Handle(strings.TrimPrefix(line, subscribedPrefix)), nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// sseMessage is one complete Server-Sent Events message
type sseMessage struct {
	event string
	id    string
	data  []byte
}

// offset returns the message id as a history offset, or noOffset.
func (m sseMessage) offset() int64 {
	v, err := strconv.ParseInt(m.id, 10, 64)
	if err != nil || v < 0 {
		return noOffset
	}
	return v
}

// readSSE parses Server-Sent Events from r and calls fn for every complete
// message. Comments are skipped.
func readSSE(ctx context.Context, r *bufio.Reader, fn func(msg sseMessage)) error {
	var event, id string
	var data strings.Builder

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("error reading SSE stream: %w", err)
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			// Empty line terminates a message
			if data.Len() > 0 {
				fn(sseMessage{event: event, id: id, data: []byte(data.String())})
			}
			event, id = "", ""
			data.Reset()
		case strings.HasPrefix(line, ":"):
			// Keepalive or subscription comment
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			id = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
		// Other SSE fields (retry:) are ignored
	}
}

// StreamClient delivers notifications of one topic on a channel and
// reconnects when the stream drops. When the gateway records history the
// client resumes after the last offset it delivered, so notifications
// published while it was reconnecting are replayed as long as they are
// still retained.
type StreamClient struct {
	client *Client
	events chan StreamMessage
	errors chan error
	done   chan struct{}
	cancel context.CancelFunc

	// next is the offset to resume from, or noOffset
	next int64
}

// StreamConfig configures the streaming client
type StreamConfig struct {
	// Topic to stream
	Topic notification.Topic

	// BufferSize for the event channel
	BufferSize int

	// ReconnectDelay for automatic reconnection
	ReconnectDelay time.Duration

	// MaxReconnectAttempts (0 = infinite)
	MaxReconnectAttempts int

	// FromOffset replays retained history from this offset before live
	// notifications. Nil streams live notifications only.
	FromOffset *int64
}

// SetDefaults sets reasonable default values for StreamConfig
func (sc *StreamConfig) SetDefaults() {
	if sc.BufferSize == 0 {
		sc.BufferSize = 100
	}
	if sc.ReconnectDelay == 0 {
		sc.ReconnectDelay = 2 * time.Second
	}
}

// Stream starts streaming notifications of config.Topic in the background
func (c *Client) Stream(ctx context.Context, config StreamConfig) (*StreamClient, error) {
	if c.GetToken() == "" {
		return nil, ErrNotAuthenticated
	}
	if !config.Topic.Valid() {
		return nil, fmt.Errorf("%w: %q", notification.ErrUnknownTopic, config.Topic)
	}

	config.SetDefaults()

	streamCtx, cancel := context.WithCancel(ctx)

	streamClient := &StreamClient{
		client: c,
		events: make(chan StreamMessage, config.BufferSize),
		errors: make(chan error, 10),
		done:   make(chan struct{}),
		cancel: cancel,
		next:   noOffset,
	}
	if config.FromOffset != nil {
		if *config.FromOffset < 0 {
			cancel()
			return nil, fmt.Errorf("fromOffset must be non-negative, got %d", *config.FromOffset)
		}
		streamClient.next = *config.FromOffset
	}

	go streamClient.startStreaming(streamCtx, config)

	return streamClient, nil
}

// Events returns the channel for receiving notifications
func (sc *StreamClient) Events() <-chan StreamMessage {
	return sc.events
}

// Errors returns the channel for receiving errors
func (sc *StreamClient) Errors() <-chan error {
	return sc.errors
}

// Done returns a channel that's closed when streaming ends
func (sc *StreamClient) Done() <-chan struct{} {
	return sc.done
}

// Close stops the streaming client and waits for it to finish
func (sc *StreamClient) Close() error {
	sc.cancel()
	<-sc.done
	return nil
}

// startStreaming handles the SSE streaming loop with reconnection
func (sc *StreamClient) startStreaming(ctx context.Context, config StreamConfig) {
	defer close(sc.done)
	defer close(sc.events)
	defer close(sc.errors)

	attempts := 0
	for {
		if ctx.Err() != nil {
			return
		}

		if err := sc.connectAndStream(ctx, config); err != nil && ctx.Err() == nil {
			select {
			case sc.errors <- fmt.Errorf("streaming error: %w", err):
			default:
			}
		}

		if config.MaxReconnectAttempts > 0 && attempts >= config.MaxReconnectAttempts {
			select {
			case sc.errors <- fmt.Errorf("max reconnect attempts (%d) exceeded", config.MaxReconnectAttempts):
			default:
			}
			return
		}
		attempts++

		select {
		case <-time.After(config.ReconnectDelay):
		case <-ctx.Done():
			return
		}
	}
}

// connectAndStream streams until the connection drops or ctx is cancelled
func (sc *StreamClient) connectAndStream(ctx context.Context, config StreamConfig) error {
	body, _, err := sc.client.openStream(ctx, config.Topic, sc.next)
	if err != nil {
		return err
	}
	defer body.Close()

	return readSSE(ctx, bufio.NewReader(body), func(msg sseMessage) {
		var n notification.Notification
		if err := json.Unmarshal(msg.data, &n); err != nil {
			select {
			case sc.errors <- fmt.Errorf("failed to parse notification: %w", err):
			default:
			}
			return
		}

		offset := msg.offset()
		select {
		case sc.events <- StreamMessage{Topic: notification.Topic(msg.event), Offset: offset, Notification: n}:
			if offset >= 0 {
				sc.next = offset + 1
			}
		case <-ctx.Done():
		}
	})
}
