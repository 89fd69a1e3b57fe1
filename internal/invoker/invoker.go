// Package invoker issues a controller command and blocks until the
// notification stream reports that it finished.
//
// Run arranges the subscription before the command is sent, so a fast
// controller cannot report completion before anyone is listening. The
// subscription is released on every return path.
package invoker

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Snehask3825/kortex/internal/eventfilter"
	"github.com/Snehask3825/kortex/internal/latch"
	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/internal/metrics"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

const (
	// DefaultTimeout is how long a watch waits when the caller does not say
	DefaultTimeout = 30 * time.Second

	defaultReleaseTimeout = 5 * time.Second

	statusCancelled = "cancelled"
)

// Subscriber arranges and releases filtered watches.
// *subscription.Manager implements it.
type Subscriber interface {
	Subscribe(ctx context.Context, topic notification.Topic, filter eventfilter.Filter, l *latch.Latch) (notification.Handle, error)
	Unsubscribe(ctx context.Context, handle notification.Handle) error
}

// CommandFunc issues the remote command being watched.
type CommandFunc func(ctx context.Context) error

// Invoker runs watched commands. It holds no per-call state and is safe for
// concurrent use.
type Invoker struct {
	subscriber     Subscriber
	clock          clock.Clock
	logger         *zap.SugaredLogger
	metrics        *metrics.Collectors
	releaseTimeout time.Duration
}

// Option configures an Invoker.
type Option func(*Invoker)

// WithClock sets the clock used for timeouts.
func WithClock(clk clock.Clock) Option {
	return func(inv *Invoker) {
		if clk != nil {
			inv.clock = clk
		}
	}
}

// WithLogger sets the invoker's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(inv *Invoker) {
		inv.logger = logging.OrNop(logger)
	}
}

// WithMetrics sets the collectors recording outcomes and wait times.
func WithMetrics(c *metrics.Collectors) Option {
	return func(inv *Invoker) {
		inv.metrics = c
	}
}

// WithReleaseTimeout bounds the Unsubscribe call made when a watch ends.
func WithReleaseTimeout(d time.Duration) Option {
	return func(inv *Invoker) {
		if d > 0 {
			inv.releaseTimeout = d
		}
	}
}

// New creates an invoker subscribing through subscriber.
func New(subscriber Subscriber, opts ...Option) *Invoker {
	inv := &Invoker{
		subscriber:     subscriber,
		clock:          clock.RealClock{},
		logger:         logging.Nop(),
		releaseTimeout: defaultReleaseTimeout,
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Run subscribes to topic through filter, issues cmd and waits up to
// timeout for a terminal notification.
//
// Completed, aborted and timed out operations are returned as an Outcome
// with a nil error. Errors are reserved for infrastructure failures: a
// *completion.SubscriptionError (cmd was never called), a
// *completion.CommandError, or ctx.Err() when ctx ends first. A timeout
// leaves the remote operation in an unknown state.
func (inv *Invoker) Run(ctx context.Context, cmd CommandFunc, topic notification.Topic, filter eventfilter.Filter, timeout time.Duration) (completion.Outcome, error) {
	start := inv.clock.Now()
	l := latch.New(inv.clock)

	handle, err := inv.subscriber.Subscribe(ctx, topic, filter, l)
	if err != nil {
		if !isSubscriptionError(err) {
			err = &completion.SubscriptionError{Topic: topic, Err: err}
		}
		inv.logger.Warnw("Watch not started", "topic", topic, "error", err)
		return completion.Outcome{}, err
	}
	defer inv.release(ctx, topic, handle)

	if err := cmd(ctx); err != nil {
		inv.logger.Warnw("Command failed", "topic", topic, "error", err)
		return completion.Outcome{}, &completion.CommandError{Topic: topic, Err: err}
	}

	set, err := l.WaitContext(ctx, timeout)
	waited := inv.clock.Since(start)
	if err != nil {
		inv.metrics.ObserveOperation(topic.String(), statusCancelled, waited)
		return completion.Outcome{}, err
	}

	outcome := completion.TimedOut()
	if set {
		outcome, _ = l.Outcome()
	}

	inv.metrics.ObserveOperation(topic.String(), outcome.Status.String(), waited)
	inv.logger.Infow("Watch finished", "topic", topic, "outcome", outcome.String(), "waited", waited)
	return outcome, nil
}

// release unsubscribes even when ctx is already done.
func (inv *Invoker) release(ctx context.Context, topic notification.Topic, handle notification.Handle) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), inv.releaseTimeout)
	defer cancel()

	if err := inv.subscriber.Unsubscribe(releaseCtx, handle); err != nil {
		inv.logger.Warnw("Failed to release watch", "topic", topic, "handle", handle, "error", err)
	}
}

// ExecuteAction starts a stored action and waits for it to end or abort.
func (inv *Invoker) ExecuteAction(ctx context.Context, svc command.Service, handle command.ActionHandle, timeout time.Duration) (completion.Outcome, error) {
	return inv.Run(ctx, func(ctx context.Context) error {
		return svc.ExecuteAction(ctx, handle)
	}, notification.TopicActions, eventfilter.ForActions(inv.logger), timeout)
}

// PlaySequence stores seq, plays it and waits for it to complete or abort.
// Creating the sequence counts as part of issuing the command.
func (inv *Invoker) PlaySequence(ctx context.Context, svc command.Service, seq command.Sequence, timeout time.Duration) (completion.Outcome, error) {
	return inv.Run(ctx, func(ctx context.Context) error {
		handle, err := svc.CreateSequence(ctx, seq)
		if err != nil {
			return err
		}
		return svc.PlaySequence(ctx, handle)
	}, notification.TopicSequences, eventfilter.ForSequences(inv.logger), timeout)
}

func isSubscriptionError(err error) bool {
	var subErr *completion.SubscriptionError
	return errors.As(err, &subErr)
}
