// Package command defines the command-issuing side of a controller.
//
// Every call is a request/response exchange that either succeeds or fails
// with a transport or controller error. Completion of motion commands is
// never reported through these calls; it arrives later as notifications
// (see package notification).
package command

import (
	"context"
	"errors"
)

var (
	// ErrUnknownAction is returned when an action handle is not stored on the controller
	ErrUnknownAction = errors.New("unknown action handle")
	// ErrUnknownSequence is returned when a sequence handle is not known to the controller
	ErrUnknownSequence = errors.New("unknown sequence handle")
	// ErrEmptySequence is returned when creating a sequence without tasks
	ErrEmptySequence = errors.New("sequence has no tasks")
	// ErrServoingMode is returned when a motion command is issued outside single level servoing
	ErrServoingMode = errors.New("controller is not in single level servoing mode")
	// ErrInvalidGripperCommand is returned for malformed gripper commands
	ErrInvalidGripperCommand = errors.New("invalid gripper command")
	// ErrInvalidAction is returned when an action has no name or no target
	ErrInvalidAction = errors.New("invalid action")
)

// Service issues commands to the controller.
type Service interface {
	// ExecuteAction starts a stored action. It returns once the controller
	// has accepted the request, not when the motion ends.
	ExecuteAction(ctx context.Context, handle ActionHandle) error

	// CreateAction stores an action and returns its handle.
	CreateAction(ctx context.Context, action Action) (ActionHandle, error)

	// CreateSequence stores a sequence and returns its handle.
	CreateSequence(ctx context.Context, seq Sequence) (SequenceHandle, error)

	// PlaySequence starts a stored sequence.
	PlaySequence(ctx context.Context, handle SequenceHandle) error

	// ReadAllActions lists stored actions of the given type.
	ReadAllActions(ctx context.Context, actionType ActionType) ([]Action, error)

	// SetServoingMode switches the controller's servoing mode.
	SetServoingMode(ctx context.Context, mode ServoingMode) error

	// SendGripperCommand moves the gripper. The controller does not report
	// gripper completion through notifications.
	SendGripperCommand(ctx context.Context, cmd GripperCommand) error

	// RefreshFeedback reads the current cyclic feedback.
	RefreshFeedback(ctx context.Context) (Feedback, error)
}
