package completion

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Snehask3825/kortex/pkg/notification"
)

func TestOutcome(t *testing.T) {
	assert.True(t, Completed().IsCompleted())
	assert.Equal(t, "completed", Completed().String())

	timedOut := TimedOut()
	assert.False(t, timedOut.IsCompleted())
	assert.Nil(t, timedOut.Reason)
	assert.Equal(t, "timed_out", timedOut.String())

	aborted := Aborted(AbortReason{Code: notification.SubErrorCollisionDetected, TaskIndex: 1, Event: "SEQUENCE_ABORTED"})
	assert.Equal(t, StatusAborted, aborted.Status)
	assert.Equal(t, "aborted: SEQUENCE_ABORTED (5:COLLISION_DETECTED)", aborted.String())

	assert.Equal(t, "unknown", Outcome{}.Status.String())
}

func TestErrors(t *testing.T) {
	cause := errors.New("connection refused")

	subErr := fmt.Errorf("execute: %w", &SubscriptionError{Topic: notification.TopicActions, Err: cause})
	assert.ErrorIs(t, subErr, ErrSubscription)
	assert.ErrorIs(t, subErr, cause)
	assert.NotErrorIs(t, subErr, ErrCommand)
	assert.EqualError(t, subErr, "execute: subscribe to ActionEvents: connection refused")

	cmdErr := &CommandError{Topic: notification.TopicSequences, Err: cause}
	assert.ErrorIs(t, cmdErr, ErrCommand)
	assert.ErrorIs(t, cmdErr, cause)
	assert.NotErrorIs(t, cmdErr, ErrSubscription)

	var target *CommandError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", cmdErr), &target))
	assert.Equal(t, notification.TopicSequences, target.Topic)
}
