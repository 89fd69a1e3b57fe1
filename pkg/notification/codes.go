package notification

import "fmt"

// Kind discriminates the two notification families.
type Kind int

const (
	// KindUnknown is the zero value and never matches a watch
	KindUnknown Kind = iota
	// KindAction is emitted on the ActionEvents topic
	KindAction
	// KindSequence is emitted on the SequenceEvents topic
	KindSequence
)

var kindNames = map[Kind]string{
	KindUnknown:  "UNKNOWN",
	KindAction:   "ACTION",
	KindSequence: "SEQUENCE",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Unrecognized names decode to KindUnknown.
func (k *Kind) UnmarshalText(text []byte) error {
	*k = KindUnknown
	for value, name := range kindNames {
		if name == string(text) {
			*k = value
			break
		}
	}
	return nil
}

// ActionEvent is the status code carried by action notifications.
type ActionEvent int32

const (
	ActionEventUnspecified ActionEvent = iota
	ActionEnd
	ActionAbort
	ActionPause
	ActionStart
	ActionFeedback
)

var actionEventNames = map[ActionEvent]string{
	ActionEventUnspecified: "UNSPECIFIED_ACTION_EVENT",
	ActionEnd:              "ACTION_END",
	ActionAbort:            "ACTION_ABORT",
	ActionPause:            "ACTION_PAUSE",
	ActionStart:            "ACTION_START",
	ActionFeedback:         "ACTION_FEEDBACK",
}

func (e ActionEvent) String() string {
	if name, ok := actionEventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("ActionEvent(%d)", int32(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e ActionEvent) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Unrecognized names decode to ActionEventUnspecified.
func (e *ActionEvent) UnmarshalText(text []byte) error {
	*e = ActionEventUnspecified
	for value, name := range actionEventNames {
		if name == string(text) {
			*e = value
			break
		}
	}
	return nil
}

// SequenceEvent is the event identifier carried by sequence notifications.
type SequenceEvent int32

const (
	SequenceTaskStarted SequenceEvent = iota
	SequenceTaskCompleted
	SequenceStarted
	SequenceCompleted
	SequenceAborted
	SequencePaused
	SequenceTaskError
)

var sequenceEventNames = map[SequenceEvent]string{
	SequenceTaskStarted:   "SEQUENCE_TASK_STARTED",
	SequenceTaskCompleted: "SEQUENCE_TASK_COMPLETED",
	SequenceStarted:       "SEQUENCE_STARTED",
	SequenceCompleted:     "SEQUENCE_COMPLETED",
	SequenceAborted:       "SEQUENCE_ABORTED",
	SequencePaused:        "SEQUENCE_PAUSED",
	SequenceTaskError:     "SEQUENCE_TASK_ERROR",
}

func (e SequenceEvent) String() string {
	if name, ok := sequenceEventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("SequenceEvent(%d)", int32(e))
}

// MarshalText implements encoding.TextMarshaler.
func (e SequenceEvent) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
// Unrecognized names decode to an out-of-range value so they can never be
// mistaken for a terminal event.
func (e *SequenceEvent) UnmarshalText(text []byte) error {
	*e = SequenceEvent(-1)
	for value, name := range sequenceEventNames {
		if name == string(text) {
			*e = value
			break
		}
	}
	return nil
}

// SubErrorCode is the diagnostic code attached to aborts. Its enumeration
// belongs to the controller; the names below are informational only and the
// code is otherwise carried as an opaque value.
type SubErrorCode uint32

const (
	SubErrorNone SubErrorCode = iota
	SubErrorMethodFailed
	SubErrorUnsupportedAction
	SubErrorInvalidParameter
	SubErrorJointLimitsExceeded
	SubErrorCollisionDetected
	SubErrorRobotInFault
	SubErrorStopActionRequested
)

var subErrorNames = map[SubErrorCode]string{
	SubErrorNone:                "SUB_ERROR_NONE",
	SubErrorMethodFailed:        "METHOD_FAILED",
	SubErrorUnsupportedAction:   "UNSUPPORTED_ACTION",
	SubErrorInvalidParameter:    "INVALID_PARAM",
	SubErrorJointLimitsExceeded: "JOINT_LIMITS_EXCEEDED",
	SubErrorCollisionDetected:   "COLLISION_DETECTED",
	SubErrorRobotInFault:        "ROBOT_IN_FAULT",
	SubErrorStopActionRequested: "STOP_ACTION_REQUESTED",
}

// Name returns the symbolic name of the code, or "UNKNOWN_SUB_ERROR" for
// codes this client does not know about.
func (c SubErrorCode) Name() string {
	if name, ok := subErrorNames[c]; ok {
		return name
	}
	return "UNKNOWN_SUB_ERROR"
}

func (c SubErrorCode) String() string {
	return fmt.Sprintf("%d:%s", uint32(c), c.Name())
}

// ParseSubErrorCode looks up a code by symbolic name.
func ParseSubErrorCode(name string) (SubErrorCode, bool) {
	for value, n := range subErrorNames {
		if n == name {
			return value, true
		}
	}
	return 0, false
}
