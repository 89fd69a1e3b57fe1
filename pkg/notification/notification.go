package notification

import (
	"fmt"
	"time"
)

// Notification is a single event reported by the controller.
// It is a value type; copies are independent and nothing mutates a
// notification after it has been published.
type Notification struct {
	// Kind tells which of ActionEvent or SequenceEvent is meaningful
	Kind Kind `json:"kind"`

	// ActionEvent is the status code for KindAction notifications
	ActionEvent ActionEvent `json:"actionEvent,omitempty"`

	// SequenceEvent is the event identifier for KindSequence notifications
	SequenceEvent SequenceEvent `json:"sequenceEvent,omitempty"`

	// AbortDetails is the diagnostic sub-error code for aborts
	AbortDetails SubErrorCode `json:"abortDetails,omitempty"`

	// TaskIndex is the index of the sequence task the event refers to
	TaskIndex int `json:"taskIndex,omitempty"`

	// Handle identifies the action or sequence that produced the event
	Handle string `json:"handle,omitempty"`

	// Timestamp is when the controller emitted the event
	Timestamp time.Time `json:"timestamp"`
}

// NewActionNotification creates an action notification stamped with the current time.
func NewActionNotification(event ActionEvent, handle string) Notification {
	return Notification{
		Kind:        KindAction,
		ActionEvent: event,
		Handle:      handle,
		Timestamp:   time.Now().UTC(),
	}
}

// NewSequenceNotification creates a sequence notification for the given task.
func NewSequenceNotification(event SequenceEvent, handle string, taskIndex int) Notification {
	return Notification{
		Kind:          KindSequence,
		SequenceEvent: event,
		Handle:        handle,
		TaskIndex:     taskIndex,
		Timestamp:     time.Now().UTC(),
	}
}

// WithAbortDetails returns a copy carrying the given sub-error code.
func (n Notification) WithAbortDetails(code SubErrorCode) Notification {
	n.AbortDetails = code
	return n
}

// WithTimestamp returns a copy with the given timestamp.
func (n Notification) WithTimestamp(ts time.Time) Notification {
	n.Timestamp = ts
	return n
}

// Topic returns the topic this notification is published on, or "" for
// notifications of unknown kind.
func (n Notification) Topic() Topic {
	switch n.Kind {
	case KindAction:
		return TopicActions
	case KindSequence:
		return TopicSequences
	default:
		return ""
	}
}

// EventName returns the name of the event code that is meaningful for the kind.
func (n Notification) EventName() string {
	switch n.Kind {
	case KindAction:
		return n.ActionEvent.String()
	case KindSequence:
		return n.SequenceEvent.String()
	default:
		return "UNKNOWN"
	}
}

func (n Notification) String() string {
	switch n.Kind {
	case KindSequence:
		return fmt.Sprintf("%s task=%d handle=%s", n.EventName(), n.TaskIndex, n.Handle)
	default:
		return fmt.Sprintf("%s handle=%s", n.EventName(), n.Handle)
	}
}

// Terminal reports whether n ends the action or sequence it refers to.
func (n Notification) Terminal() bool {
	switch n.Kind {
	case KindAction:
		return n.ActionEvent == ActionEnd || n.ActionEvent == ActionAbort
	case KindSequence:
		return n.SequenceEvent == SequenceCompleted || n.SequenceEvent == SequenceAborted
	default:
		return false
	}
}
