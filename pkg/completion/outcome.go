// Package completion describes how a watched controller operation ended.
//
// Semantic results (completed, aborted, timed out) are Outcome values.
// Infrastructure failures that prevent the watch from running at all are
// errors: *SubscriptionError and *CommandError.
package completion

import (
	"fmt"

	"github.com/Snehask3825/kortex/pkg/notification"
)

// Status is the tri-state result of a watched operation.
type Status int

const (
	// StatusUnknown is the zero value; no watch returns it
	StatusUnknown Status = iota
	// StatusCompleted means a terminal success notification arrived
	StatusCompleted
	// StatusAborted means the controller reported the operation aborted
	StatusAborted
	// StatusTimedOut means no terminal notification arrived in time.
	// The remote operation may still be running.
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusAborted:
		return "aborted"
	case StatusTimedOut:
		return "timed_out"
	default:
		return "unknown"
	}
}

// AbortReason carries the controller's diagnostics for an abort.
type AbortReason struct {
	// Code is the controller's sub-error code, treated as opaque
	Code notification.SubErrorCode `json:"code"`

	// TaskIndex is the sequence task that was running, if any
	TaskIndex int `json:"taskIndex,omitempty"`

	// Event is the name of the notification that reported the abort
	Event string `json:"event"`
}

func (r AbortReason) String() string {
	return fmt.Sprintf("%s (%s)", r.Event, r.Code)
}

// Outcome is the result of one watched operation.
type Outcome struct {
	Status Status `json:"status"`

	// Reason is set only when Status is StatusAborted
	Reason *AbortReason `json:"reason,omitempty"`
}

// Completed returns a successful outcome.
func Completed() Outcome {
	return Outcome{Status: StatusCompleted}
}

// Aborted returns an aborted outcome carrying reason.
func Aborted(reason AbortReason) Outcome {
	return Outcome{Status: StatusAborted, Reason: &reason}
}

// TimedOut returns the outcome for a watch whose timeout elapsed.
func TimedOut() Outcome {
	return Outcome{Status: StatusTimedOut}
}

// IsCompleted reports whether the operation finished successfully.
func (o Outcome) IsCompleted() bool {
	return o.Status == StatusCompleted
}

func (o Outcome) String() string {
	if o.Status == StatusAborted && o.Reason != nil {
		return fmt.Sprintf("%s: %s", o.Status, o.Reason)
	}
	return o.Status.String()
}
