// Package reasons maps sentinel errors to stable strings so they survive
// the HTTP and gRPC transports.
package reasons

import (
	"errors"

	"github.com/Snehask3825/kortex/pkg/command"
	"github.com/Snehask3825/kortex/pkg/completion"
	"github.com/Snehask3825/kortex/pkg/notification"
)

const (
	UnknownAction     = "unknown_action"
	UnknownSequence   = "unknown_sequence"
	EmptySequence     = "empty_sequence"
	InvalidAction     = "invalid_action"
	InvalidGripper    = "invalid_gripper_command"
	ServoingMode      = "servoing_mode"
	UnknownTopic      = "unknown_topic"
	UnknownHandle     = "unknown_handle"
	Subscription      = "subscription_failed"
	ControllerClosed  = "controller_closed"
	ControllerFailure = "controller_error"
)

var table = []struct {
	reason string
	err    error
}{
	{UnknownAction, command.ErrUnknownAction},
	{UnknownSequence, command.ErrUnknownSequence},
	{EmptySequence, command.ErrEmptySequence},
	{InvalidAction, command.ErrInvalidAction},
	{InvalidGripper, command.ErrInvalidGripperCommand},
	{ServoingMode, command.ErrServoingMode},
	{UnknownTopic, notification.ErrUnknownTopic},
	{UnknownHandle, notification.ErrUnknownHandle},
	{Subscription, completion.ErrSubscription},
}

// Of returns the reason for the first sentinel err matches, or "".
func Of(err error) string {
	for _, e := range table {
		if errors.Is(err, e.err) {
			return e.reason
		}
	}
	return ""
}

// Err returns the sentinel for reason, or nil when reason is unknown.
func Err(reason string) error {
	for _, e := range table {
		if e.reason == reason {
			return e.err
		}
	}
	return nil
}
