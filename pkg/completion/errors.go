package completion

import (
	"errors"
	"fmt"

	"github.com/Snehask3825/kortex/pkg/notification"
)

var (
	// ErrSubscription matches every *SubscriptionError via errors.Is
	ErrSubscription = errors.New("subscription failed")
	// ErrCommand matches every *CommandError via errors.Is
	ErrCommand = errors.New("command failed")
)

// SubscriptionError reports that registering with the notification service
// failed. The command was never issued.
type SubscriptionError struct {
	Topic notification.Topic
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscribe to %s: %v", e.Topic, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrSubscription) true.
func (e *SubscriptionError) Is(target error) bool {
	return target == ErrSubscription
}

// CommandError reports that issuing the remote command failed after the
// subscription was in place. The subscription has been released.
type CommandError struct {
	Topic notification.Topic
	Err   error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("issue command watched on %s: %v", e.Topic, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrCommand) true.
func (e *CommandError) Is(target error) bool {
	return target == ErrCommand
}
