// Package arm provides the high level moves an operator asks for: named
// positions, relative pose moves, sequences and the gripper. Every motion
// blocks until the controller reports its outcome.
package arm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/Snehask3825/kortex/internal/invoker"
	"github.com/Snehask3825/kortex/internal/logging"
	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
)

const (
	// PackagingPosition is the stored action that folds the arm for transport
	PackagingPosition = "Packaging"
	// VerticalPosition is the stored action that points the arm straight up
	VerticalPosition = "Zero"

	// DefaultGripperSettle is how long the gripper is given to finish moving
	DefaultGripperSettle = 3 * time.Second

	gripperFinger  = 1
	poseActionName = "Test"
)

// ErrActionNotFound is returned when no stored action has the requested name
var ErrActionNotFound = errors.New("can't reach safe position")

// Arm drives one controller.
type Arm struct {
	commands command.Service
	invoker  *invoker.Invoker
	clock    clock.Clock
	logger   *zap.SugaredLogger
	timeout  time.Duration
	settle   time.Duration
}

// Option configures an Arm.
type Option func(*Arm)

// WithClock sets the clock used for the gripper settle delay.
func WithClock(clk clock.Clock) Option {
	return func(a *Arm) {
		if clk != nil {
			a.clock = clk
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(a *Arm) {
		a.logger = logging.OrNop(logger)
	}
}

// WithTimeout sets how long a motion may take before it is reported as
// timed out.
func WithTimeout(d time.Duration) Option {
	return func(a *Arm) {
		a.timeout = d
	}
}

// WithGripperSettle sets the delay after a gripper command. Zero disables it.
func WithGripperSettle(d time.Duration) Option {
	return func(a *Arm) {
		if d >= 0 {
			a.settle = d
		}
	}
}

// New creates an Arm issuing commands through commands and watching them
// with inv.
func New(commands command.Service, inv *invoker.Invoker, opts ...Option) *Arm {
	a := &Arm{
		commands: commands,
		invoker:  inv,
		clock:    clock.RealClock{},
		logger:   logging.Nop(),
		timeout:  invoker.DefaultTimeout,
		settle:   DefaultGripperSettle,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetSingleLevelServoing puts the controller in the mode motion commands need.
func (a *Arm) SetSingleLevelServoing(ctx context.Context) error {
	if err := a.commands.SetServoingMode(ctx, command.SingleLevelServoing); err != nil {
		return fmt.Errorf("set servoing mode: %w", err)
	}
	return nil
}

// ListActions returns the stored joint angle positions.
func (a *Arm) ListActions(ctx context.Context) ([]command.Action, error) {
	actions, err := a.commands.ReadAllActions(ctx, command.ReachJointAngles)
	if err != nil {
		return nil, fmt.Errorf("read actions: %w", err)
	}
	return actions, nil
}

// MoveToNamedPosition runs the stored joint angle action called name.
func (a *Arm) MoveToNamedPosition(ctx context.Context, name string) (completion.Outcome, error) {
	actions, err := a.ListActions(ctx)
	if err != nil {
		return completion.Outcome{}, err
	}

	var handle command.ActionHandle
	for _, action := range actions {
		if action.Name == name {
			handle = action.Handle
			break
		}
	}
	if handle == "" {
		return completion.Outcome{}, fmt.Errorf("%w: no action named %q", ErrActionNotFound, name)
	}

	a.logger.Infow("Moving to named position", "name", name, "handle", handle)
	outcome, err := a.invoker.ExecuteAction(ctx, a.commands, handle, a.timeout)
	if err != nil {
		return completion.Outcome{}, err
	}
	a.logOutcome("Move "+name, outcome)
	return outcome, nil
}

// Packaging folds the arm into its transport position.
func (a *Arm) Packaging(ctx context.Context) (completion.Outcome, error) {
	return a.MoveToNamedPosition(ctx, PackagingPosition)
}

// Vertical points the arm straight up.
func (a *Arm) Vertical(ctx context.Context) (completion.Outcome, error) {
	return a.MoveToNamedPosition(ctx, VerticalPosition)
}

// ReachPoseFromFeedback moves the tool by (dx, dy, dz) meters from where it
// is now, keeping its orientation.
func (a *Arm) ReachPoseFromFeedback(ctx context.Context, dx, dy, dz float64) (completion.Outcome, error) {
	fb, err := a.commands.RefreshFeedback(ctx)
	if err != nil {
		return completion.Outcome{}, fmt.Errorf("refresh feedback: %w", err)
	}

	target := fb.ToolPose.Offset(dx, dy, dz)
	handle, err := a.commands.CreateAction(ctx, command.Action{
		Name:      poseActionName,
		Type:      command.ReachPose,
		ReachPose: &target,
	})
	if err != nil {
		return completion.Outcome{}, fmt.Errorf("create pose action: %w", err)
	}

	a.logger.Infow("Reaching pose", "from", fb.ToolPose, "to", target)
	outcome, err := a.invoker.ExecuteAction(ctx, a.commands, handle, a.timeout)
	if err != nil {
		return completion.Outcome{}, err
	}
	a.logOutcome("Cartesian movement", outcome)
	return outcome, nil
}

// RunSequence stores and plays seq.
func (a *Arm) RunSequence(ctx context.Context, seq command.Sequence) (completion.Outcome, error) {
	a.logger.Infow("Playing sequence", "name", seq.Name, "tasks", len(seq.Tasks))
	outcome, err := a.invoker.PlaySequence(ctx, a.commands, seq, a.timeout)
	if err != nil {
		return completion.Outcome{}, err
	}
	a.logOutcome("Sequence "+seq.Name, outcome)
	return outcome, nil
}

// GripperOpen opens the gripper and waits for it to settle.
func (a *Arm) GripperOpen(ctx context.Context) error {
	return a.gripper(ctx, 0.0)
}

// GripperClose closes the gripper and waits for it to settle.
func (a *Arm) GripperClose(ctx context.Context) error {
	return a.gripper(ctx, 1.0)
}

// gripper sends a position command. The controller reports no gripper
// completion, so the settle delay stands in for it.
func (a *Arm) gripper(ctx context.Context, position float64) error {
	err := a.commands.SendGripperCommand(ctx, command.GripperCommand{
		Mode:    command.GripperPosition,
		Fingers: []command.Finger{{Identifier: gripperFinger, Value: position}},
	})
	if err != nil {
		return fmt.Errorf("gripper command: %w", err)
	}
	a.logger.Infow("Gripper moving", "position", position)

	if a.settle == 0 {
		return nil
	}
	timer := a.clock.NewTimer(a.settle)
	defer timer.Stop()
	select {
	case <-timer.C():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Arm) logOutcome(what string, outcome completion.Outcome) {
	switch outcome.Status {
	case completion.StatusCompleted:
		a.logger.Infow(what + " completed")
	case completion.StatusAborted:
		a.logger.Warnw(what+" aborted", "reason", outcome.Reason)
	default:
		a.logger.Warnw("Timeout on "+what, "timeout", a.timeout)
	}
}
