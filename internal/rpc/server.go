// Package rpc exposes a controller's commands and notifications over gRPC.
//
// Messages are google.protobuf.Struct values holding the JSON form of the
// command and notification types, so the service needs no generated code.
// Client implements command.Service and notification.Service on top of a
// connection, which lets the completion invoker watch a remote controller.
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// Config holds gRPC server configuration
type Config struct {
	Address string `yaml:"address"`

	// StreamBufferSize bounds notifications queued per Subscribe stream
	StreamBufferSize int `yaml:"streamBufferSize"`
}

// SetDefaults fills unset fields.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":9090"
	}
	if c.StreamBufferSize <= 0 {
		c.StreamBufferSize = 64
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Address); err != nil {
		return fmt.Errorf("invalid rpc address %q: %w", c.Address, err)
	}
	return nil
}

// Option configures a Server or Client.
type Option func(*options)

type options struct {
	logger     *zap.SugaredLogger
	bufferSize int
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(o *options) {
		o.logger = logging.OrNop(logger)
	}
}

// WithBufferSize sets how many notifications a client subscription queues.
func WithBufferSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.bufferSize = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{logger: logging.Nop(), bufferSize: 64}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Server serves kortex.v1.ControllerService.
type Server struct {
	commands      command.Service
	notifications notification.Service
	config        Config
	logger        *zap.SugaredLogger
	grpc          *grpc.Server

	stopOnce sync.Once
	stopping chan struct{}
}

var _ ControllerServer = (*Server)(nil)

// NewServer creates a server for commands and notifications and registers
// it on a new grpc.Server built with serverOpts.
func NewServer(commands command.Service, notifications notification.Service, config Config, opts []Option, serverOpts ...grpc.ServerOption) *Server {
	config.SetDefaults()
	o := newOptions(opts)

	s := &Server{
		commands:      commands,
		notifications: notifications,
		config:        config,
		logger:        o.logger.Named("rpc"),
		grpc:          grpc.NewServer(serverOpts...),
		stopping:      make(chan struct{}),
	}
	Register(s.grpc, s)
	return s
}

// ListenAndServe listens on the configured address and serves until Stop.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.config.Address, err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until Stop is called.
func (s *Server) Serve(l net.Listener) error {
	s.logger.Infow("gRPC server listening", "addr", l.Addr().String())
	err := s.grpc.Serve(l)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop ends Subscribe streams and drains in-flight calls, closing
// connections forcibly when ctx ends first.
func (s *Server) Stop(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopping) })

	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
		return ctx.Err()
	}
}

// CreateAction implements ControllerServer.
func (s *Server) CreateAction(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var action command.Action
	if err := fromStruct(req, &action); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", command.ErrInvalidAction, err))
	}
	handle, err := s.commands.CreateAction(ctx, action)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.reply(handleMessage{Handle: string(handle)})
}

// ExecuteAction implements ControllerServer.
func (s *Server) ExecuteAction(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var msg handleMessage
	if err := fromStruct(req, &msg); err != nil {
		return nil, toStatus(err)
	}
	if err := s.commands.ExecuteAction(ctx, command.ActionHandle(msg.Handle)); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// CreateSequence implements ControllerServer.
func (s *Server) CreateSequence(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var seq command.Sequence
	if err := fromStruct(req, &seq); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", command.ErrInvalidAction, err))
	}
	handle, err := s.commands.CreateSequence(ctx, seq)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.reply(handleMessage{Handle: string(handle)})
}

// PlaySequence implements ControllerServer.
func (s *Server) PlaySequence(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var msg handleMessage
	if err := fromStruct(req, &msg); err != nil {
		return nil, toStatus(err)
	}
	if err := s.commands.PlaySequence(ctx, command.SequenceHandle(msg.Handle)); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// ReadAllActions implements ControllerServer.
func (s *Server) ReadAllActions(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var msg actionTypeMessage
	if err := fromStruct(req, &msg); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", command.ErrInvalidAction, err))
	}
	actions, err := s.commands.ReadAllActions(ctx, msg.Type)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.reply(actionsMessage{Actions: actions})
}

// SetServoingMode implements ControllerServer.
func (s *Server) SetServoingMode(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var msg servoingModeMessage
	if err := fromStruct(req, &msg); err != nil {
		return nil, toStatus(err)
	}
	if err := s.commands.SetServoingMode(ctx, msg.Mode); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// SendGripperCommand implements ControllerServer.
func (s *Server) SendGripperCommand(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	var cmd command.GripperCommand
	if err := fromStruct(req, &cmd); err != nil {
		return nil, toStatus(fmt.Errorf("%w: %v", command.ErrInvalidGripperCommand, err))
	}
	if err := s.commands.SendGripperCommand(ctx, cmd); err != nil {
		return nil, toStatus(err)
	}
	return &emptypb.Empty{}, nil
}

// RefreshFeedback implements ControllerServer.
func (s *Server) RefreshFeedback(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	fb, err := s.commands.RefreshFeedback(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return s.reply(fb)
}

// Subscribe implements ControllerServer. The first message confirms the
// subscription; every later message is one notification.
func (s *Server) Subscribe(req *structpb.Struct, stream grpc.ServerStream) error {
	var msg topicMessage
	if err := fromStruct(req, &msg); err != nil {
		return toStatus(err)
	}
	topic, err := notification.ParseTopic(msg.Topic)
	if err != nil {
		return toStatus(fmt.Errorf("%w: %q", err, msg.Topic))
	}

	ctx := stream.Context()
	events := notification.NewQueue[notification.Notification](s.config.StreamBufferSize)
	handle, err := s.notifications.Subscribe(ctx, topic, func(n notification.Notification) {
		if !events.Push(n) {
			s.logger.Warnw("Stream client too slow, dropped notification", "topic", topic, "event", n.EventName())
		}
	}, notification.Options{})
	if err != nil {
		return toStatus(&completion.SubscriptionError{Topic: topic, Err: err})
	}
	defer func() {
		if err := s.notifications.Unsubscribe(context.WithoutCancel(ctx), handle); err != nil {
			s.logger.Warnw("Failed to release stream subscription", "handle", handle, "error", err)
		}
	}()

	first, err := toStruct(subscribedMessage{Subscribed: string(handle)})
	if err != nil {
		return toStatus(err)
	}
	if err := stream.SendMsg(first); err != nil {
		return err
	}
	s.logger.Debugw("Stream subscribed", "topic", topic, "handle", handle)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.stopping:
			return nil
		case <-events.Ready():
			for n, ok := events.Pop(); ok; n, ok = events.Pop() {
				out, err := toStruct(n)
				if err != nil {
					return toStatus(err)
				}
				if err := stream.SendMsg(out); err != nil {
					return err
				}
			}
		}
	}
}

func (s *Server) reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		return nil, toStatus(err)
	}
	return out, nil
}
