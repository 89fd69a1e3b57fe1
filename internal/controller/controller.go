// Package controller simulates an arm controller.
//
// It implements command.Service and reports progress the way real hardware
// does: commands return as soon as they are accepted, and the motion's
// progress and end arrive later as notifications on the configured
// publisher. Faults can be injected to make the next operation abort.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/notification"
)

// ErrClosed is returned by every command after Close.
var ErrClosed = errors.New("controller is closed")

// Fault makes the next action or sequence abort.
type Fault struct {
	// Code is reported as the abort details
	Code notification.SubErrorCode `json:"code"`

	// TaskIndex is the sequence task that aborts. Indexes past the last
	// task abort the last task. Ignored for actions.
	TaskIndex int `json:"taskIndex"`
}

// Controller is a simulated arm. It is safe for concurrent use.
type Controller struct {
	config    Config
	publisher notification.Publisher
	clock     clock.Clock
	logger    *zap.SugaredLogger

	mu        sync.Mutex
	servoing  command.ServoingMode
	actions   map[command.ActionHandle]command.Action
	sequences map[command.SequenceHandle]command.Sequence
	pose      command.Pose
	fingers   map[int]float64
	fault     *Fault
	closed    bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock that paces simulated motion.
func WithClock(clk clock.Clock) Option {
	return func(c *Controller) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(c *Controller) {
		c.logger = logging.OrNop(logger)
	}
}

// New creates a controller publishing notifications to publisher.
func New(config Config, publisher notification.Publisher, opts ...Option) (*Controller, error) {
	if publisher == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}
	config.SetDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c := &Controller{
		config:    config,
		publisher: publisher,
		clock:     clock.RealClock{},
		logger:    logging.Nop(),
		servoing:  command.SingleLevelServoing,
		actions:   make(map[command.ActionHandle]command.Action),
		sequences: make(map[command.SequenceHandle]command.Sequence),
		fingers:   make(map[int]float64),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, a := range config.Actions {
		a.Handle = command.ActionHandle(uuid.NewString())
		c.actions[a.Handle] = a
	}

	return c, nil
}

// checkOpen must be called with c.mu held.
func (c *Controller) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.closed {
		return ErrClosed
	}
	return nil
}

// CreateAction implements command.Service.
func (c *Controller) CreateAction(ctx context.Context, action command.Action) (command.ActionHandle, error) {
	if err := action.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return "", err
	}

	action.Handle = command.ActionHandle(uuid.NewString())
	c.actions[action.Handle] = action
	return action.Handle, nil
}

// ReadAllActions implements command.Service. Actions are sorted by name.
// ActionTypeUnspecified lists every action.
func (c *Controller) ReadAllActions(ctx context.Context, actionType command.ActionType) ([]command.Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return nil, err
	}

	result := make([]command.Action, 0, len(c.actions))
	for _, a := range c.actions {
		if actionType == command.ActionTypeUnspecified || a.Type == actionType {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result, nil
}

// SetServoingMode implements command.Service.
func (c *Controller) SetServoingMode(ctx context.Context, mode command.ServoingMode) error {
	if mode == command.ServoingModeUnspecified {
		return fmt.Errorf("%w: %s", command.ErrServoingMode, mode)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	c.servoing = mode
	c.logger.Debugw("Servoing mode set", "mode", mode.String())
	return nil
}

// ServoingMode returns the current servoing mode.
func (c *Controller) ServoingMode() command.ServoingMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.servoing
}

// ExecuteAction implements command.Service. The action runs in the
// background; ACTION_START, then ACTION_END or ACTION_ABORT, are published.
func (c *Controller) ExecuteAction(ctx context.Context, handle command.ActionHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	if c.servoing != command.SingleLevelServoing {
		return command.ErrServoingMode
	}
	action, ok := c.actions[handle]
	if !ok {
		return fmt.Errorf("%w: %s", command.ErrUnknownAction, handle)
	}

	fault := c.takeFault()
	c.wg.Add(1)
	go c.runAction(action, fault)

	c.logger.Infow("Executing action", "name", action.Name, "handle", handle)
	return nil
}

// CreateSequence implements command.Service.
func (c *Controller) CreateSequence(ctx context.Context, seq command.Sequence) (command.SequenceHandle, error) {
	if err := seq.Validate(); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return "", err
	}

	handle := command.SequenceHandle(uuid.NewString())
	c.sequences[handle] = seq
	return handle, nil
}

// PlaySequence implements command.Service. SEQUENCE_STARTED, per-task
// TASK_STARTED and TASK_COMPLETED, then SEQUENCE_COMPLETED or
// SEQUENCE_ABORTED are published.
func (c *Controller) PlaySequence(ctx context.Context, handle command.SequenceHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	if c.servoing != command.SingleLevelServoing {
		return command.ErrServoingMode
	}
	seq, ok := c.sequences[handle]
	if !ok {
		return fmt.Errorf("%w: %s", command.ErrUnknownSequence, handle)
	}

	fault := c.takeFault()
	c.wg.Add(1)
	go c.runSequence(handle, seq, fault)

	c.logger.Infow("Playing sequence", "name", seq.Name, "handle", handle, "tasks", len(seq.Tasks))
	return nil
}

// SendGripperCommand implements command.Service. The move is immediate and
// no notification is published.
func (c *Controller) SendGripperCommand(ctx context.Context, cmd command.GripperCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return err
	}
	for _, f := range cmd.Fingers {
		c.fingers[f.Identifier] = f.Value
	}
	return nil
}

// Finger returns the last commanded value of a gripper finger.
func (c *Controller) Finger(identifier int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fingers[identifier]
}

// RefreshFeedback implements command.Service.
func (c *Controller) RefreshFeedback(ctx context.Context) (command.Feedback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpen(ctx); err != nil {
		return command.Feedback{}, err
	}
	return command.Feedback{ToolPose: c.pose}, nil
}

// InjectFault makes the next action or sequence abort with f.
func (c *Controller) InjectFault(f Fault) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = &f
	c.logger.Infow("Fault injected", "code", f.Code.Name(), "task", f.TaskIndex)
}

// ClearFaults removes a pending injected fault.
func (c *Controller) ClearFaults() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fault = nil
}

// takeFault must be called with c.mu held.
func (c *Controller) takeFault() *Fault {
	f := c.fault
	c.fault = nil
	return f
}

// Close stops running motions without publishing their end and waits for
// their goroutines to exit. Safe to call multiple times.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	close(c.stop)
	c.mu.Unlock()

	c.wg.Wait()
	return nil
}

func (c *Controller) runAction(action command.Action, fault *Fault) {
	defer c.wg.Done()
	handle := string(action.Handle)

	c.publish(notification.NewActionNotification(notification.ActionStart, handle))
	if !c.step() {
		return
	}

	if fault != nil {
		c.publish(notification.NewActionNotification(notification.ActionAbort, handle).WithAbortDetails(fault.Code))
		return
	}

	c.apply(action)
	c.publish(notification.NewActionNotification(notification.ActionEnd, handle))
}

func (c *Controller) runSequence(handle command.SequenceHandle, seq command.Sequence, fault *Fault) {
	defer c.wg.Done()
	h := string(handle)
	last := len(seq.Tasks) - 1

	c.publish(notification.NewSequenceNotification(notification.SequenceStarted, h, 0))
	for i, task := range seq.Tasks {
		c.publish(notification.NewSequenceNotification(notification.SequenceTaskStarted, h, i))
		if !c.step() {
			return
		}

		if fault != nil && (i == fault.TaskIndex || (i == last && fault.TaskIndex > last)) {
			c.publish(notification.NewSequenceNotification(notification.SequenceAborted, h, i).WithAbortDetails(fault.Code))
			return
		}

		c.apply(task.Action)
		c.publish(notification.NewSequenceNotification(notification.SequenceTaskCompleted, h, i))
	}
	c.publish(notification.NewSequenceNotification(notification.SequenceCompleted, h, last))
}

// step waits one motion step. It reports false when the controller closed first.
func (c *Controller) step() bool {
	select {
	case <-c.clock.After(c.config.StepDuration):
		return true
	case <-c.stop:
		return false
	}
}

func (c *Controller) apply(action command.Action) {
	if action.Type != command.ReachPose || action.ReachPose == nil {
		return
	}
	c.mu.Lock()
	c.pose = *action.ReachPose
	c.mu.Unlock()
}

func (c *Controller) publish(n notification.Notification) {
	n = n.WithTimestamp(c.clock.Now().UTC())
	if err := c.publisher.Publish(context.Background(), n); err != nil {
		c.logger.Warnw("Failed to publish notification", "event", n.EventName(), "error", err)
	}
}

var _ command.Service = (*Controller)(nil)
