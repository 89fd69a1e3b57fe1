package rpc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// Client calls a kortex.v1.ControllerService.
type Client struct {
	conn       grpc.ClientConnInterface
	closer     io.Closer
	logger     *zap.SugaredLogger
	bufferSize int

	mu      sync.Mutex
	streams map[notification.Handle]context.CancelFunc
}

var (
	_ command.Service      = (*Client)(nil)
	_ notification.Service = (*Client)(nil)
)

// NewClient creates a client over an existing connection. The caller keeps
// ownership of conn.
func NewClient(conn grpc.ClientConnInterface, opts ...Option) *Client {
	o := newOptions(opts)
	return &Client{
		conn:       conn,
		logger:     o.logger.Named("rpc-client"),
		bufferSize: o.bufferSize,
		streams:    make(map[notification.Handle]context.CancelFunc),
	}
}

// Dial connects to target without transport security. Close releases the
// connection.
func Dial(target string, opts ...Option) (*Client, error) {
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	c := NewClient(conn, opts...)
	c.closer = conn
	return c, nil
}

func (c *Client) invoke(ctx context.Context, method string, req any, resp any) error {
	in, err := toStruct(req)
	if err != nil {
		return err
	}
	if err := c.conn.Invoke(ctx, fullMethod(method), in, resp); err != nil {
		return fromStatus(err)
	}
	return nil
}

// CreateAction implements command.Service.
func (c *Client) CreateAction(ctx context.Context, action command.Action) (command.ActionHandle, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "CreateAction", action, out); err != nil {
		return "", err
	}
	var msg handleMessage
	if err := fromStruct(out, &msg); err != nil {
		return "", err
	}
	return command.ActionHandle(msg.Handle), nil
}

// ExecuteAction implements command.Service.
func (c *Client) ExecuteAction(ctx context.Context, handle command.ActionHandle) error {
	return c.invoke(ctx, "ExecuteAction", handleMessage{Handle: string(handle)}, &emptypb.Empty{})
}

// CreateSequence implements command.Service.
func (c *Client) CreateSequence(ctx context.Context, seq command.Sequence) (command.SequenceHandle, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "CreateSequence", seq, out); err != nil {
		return "", err
	}
	var msg handleMessage
	if err := fromStruct(out, &msg); err != nil {
		return "", err
	}
	return command.SequenceHandle(msg.Handle), nil
}

// PlaySequence implements command.Service.
func (c *Client) PlaySequence(ctx context.Context, handle command.SequenceHandle) error {
	return c.invoke(ctx, "PlaySequence", handleMessage{Handle: string(handle)}, &emptypb.Empty{})
}

// ReadAllActions implements command.Service.
func (c *Client) ReadAllActions(ctx context.Context, actionType command.ActionType) ([]command.Action, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "ReadAllActions", actionTypeMessage{Type: actionType}, out); err != nil {
		return nil, err
	}
	var msg actionsMessage
	if err := fromStruct(out, &msg); err != nil {
		return nil, err
	}
	return msg.Actions, nil
}

// SetServoingMode implements command.Service.
func (c *Client) SetServoingMode(ctx context.Context, mode command.ServoingMode) error {
	return c.invoke(ctx, "SetServoingMode", servoingModeMessage{Mode: mode}, &emptypb.Empty{})
}

// SendGripperCommand implements command.Service.
func (c *Client) SendGripperCommand(ctx context.Context, cmd command.GripperCommand) error {
	return c.invoke(ctx, "SendGripperCommand", cmd, &emptypb.Empty{})
}

// RefreshFeedback implements command.Service.
func (c *Client) RefreshFeedback(ctx context.Context) (command.Feedback, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "RefreshFeedback", struct{}{}, out); err != nil {
		return command.Feedback{}, err
	}
	var fb command.Feedback
	if err := fromStruct(out, &fb); err != nil {
		return command.Feedback{}, err
	}
	return fb, nil
}

// Subscribe implements notification.Service. It returns once the server has
// confirmed the subscription. ctx bounds only the handshake; the stream
// lives until Unsubscribe or Close.
func (c *Client) Subscribe(ctx context.Context, topic notification.Topic, callback notification.Callback, opts notification.Options) (notification.Handle, error) {
	if !topic.Valid() {
		return "", fmt.Errorf("%w: %q", notification.ErrUnknownTopic, topic)
	}
	if callback == nil {
		return "", notification.ErrNilCallback
	}
	size := opts.BufferSize
	if size <= 0 {
		size = c.bufferSize
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	stream, handle, err := c.openStream(streamCtx, topic)
	if !stop() {
		// ctx ended during the handshake
		cancel()
		return "", ctx.Err()
	}
	if err != nil {
		cancel()
		return "", err
	}

	c.mu.Lock()
	c.streams[handle] = cancel
	c.mu.Unlock()

	queue := notification.NewQueue[notification.Notification](size)
	go c.dispatch(handle, queue, callback)
	go func() {
		defer queue.Close()
		for {
			msg := &structpb.Struct{}
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) && streamCtx.Err() == nil {
					c.logger.Warnw("Notification stream ended", "handle", handle, "topic", topic, "error", fromStatus(err))
				}
				return
			}
			var n notification.Notification
			if err := fromStruct(msg, &n); err != nil {
				c.logger.Warnw("Failed to parse notification", "handle", handle, "error", err)
				continue
			}
			if !queue.Push(n) {
				c.logger.Warnw("Subscription queue full, dropped notification", "handle", handle, "event", n.EventName())
			}
		}
	}()

	c.logger.Debugw("Subscribed", "topic", topic, "handle", handle)
	return handle, nil
}

// openStream starts a Subscribe call and reads the confirmation message.
func (c *Client) openStream(ctx context.Context, topic notification.Topic) (grpc.ClientStream, notification.Handle, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod("Subscribe"))
	if err != nil {
		return nil, "", fromStatus(err)
	}
	req, err := toStruct(topicMessage{Topic: topic.String()})
	if err != nil {
		return nil, "", err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, "", fromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, "", fromStatus(err)
	}

	first := &structpb.Struct{}
	if err := stream.RecvMsg(first); err != nil {
		return nil, "", fromStatus(err)
	}
	var msg subscribedMessage
	if err := fromStruct(first, &msg); err != nil {
		return nil, "", err
	}
	if msg.Subscribed == "" {
		return nil, "", errors.New("stream did not confirm subscription")
	}
	return stream, notification.Handle(msg.Subscribed), nil
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

// Unsubscribe implements notification.Service. It cancels the stream
// without waiting for an in-flight callback.
func (c *Client) Unsubscribe(ctx context.Context, handle notification.Handle) error {
	c.mu.Lock()
	cancel, ok := c.streams[handle]
	delete(c.streams, handle)
	c.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", notification.ErrUnknownHandle, handle)
	}
	cancel()
	c.logger.Debugw("Unsubscribed", "handle", handle)
	return nil
}

// Close cancels every subscription and closes a connection made by Dial.
func (c *Client) Close() error {
	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[notification.Handle]context.CancelFunc)
	c.mu.Unlock()

	for _, cancel := range streams {
		cancel()
	}
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}
