package command

import (
	"fmt"
)

// ActionHandle identifies an action stored on the controller.
type ActionHandle string

// SequenceHandle identifies a sequence created on the controller.
type SequenceHandle string

// ActionType is the kind of motion or command an action performs.
type ActionType int

const (
	ActionTypeUnspecified ActionType = iota
	ReachJointAngles
	ReachPose
	SendGripperCommand
)

var actionTypeNames = map[ActionType]string{
	ActionTypeUnspecified: "UNSPECIFIED_ACTION",
	ReachJointAngles:      "REACH_JOINT_ANGLES",
	ReachPose:             "REACH_POSE",
	SendGripperCommand:    "SEND_GRIPPER_COMMAND",
}

func (t ActionType) String() string {
	if name, ok := actionTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("ActionType(%d)", int(t))
}

// MarshalText implements encoding.TextMarshaler.
func (t ActionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ActionType) UnmarshalText(text []byte) error {
	for value, name := range actionTypeNames {
		if name == string(text) {
			*t = value
			return nil
		}
	}
	return fmt.Errorf("unknown action type %q", string(text))
}

// ServoingMode selects how the controller accepts motion commands.
type ServoingMode int

const (
	ServoingModeUnspecified ServoingMode = iota
	SingleLevelServoing
	LowLevelServoing
	BypassServoing
)

var servoingModeNames = map[ServoingMode]string{
	ServoingModeUnspecified: "UNSPECIFIED_SERVOING_MODE",
	SingleLevelServoing:     "SINGLE_LEVEL_SERVOING",
	LowLevelServoing:        "LOW_LEVEL_SERVOING",
	BypassServoing:          "BYPASS_SERVOING",
}

func (m ServoingMode) String() string {
	if name, ok := servoingModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("ServoingMode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m ServoingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ServoingMode) UnmarshalText(text []byte) error {
	for value, name := range servoingModeNames {
		if name == string(text) {
			*m = value
			return nil
		}
	}
	return fmt.Errorf("unknown servoing mode %q", string(text))
}

// GripperMode selects how finger values are interpreted.
type GripperMode int

const (
	GripperModeUnspecified GripperMode = iota
	GripperForce
	GripperSpeed
	GripperPosition
)

var gripperModeNames = map[GripperMode]string{
	GripperModeUnspecified: "UNSPECIFIED_GRIPPER_MODE",
	GripperForce:           "GRIPPER_FORCE",
	GripperSpeed:           "GRIPPER_SPEED",
	GripperPosition:        "GRIPPER_POSITION",
}

func (m GripperMode) String() string {
	if name, ok := gripperModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("GripperMode(%d)", int(m))
}

// MarshalText implements encoding.TextMarshaler.
func (m GripperMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *GripperMode) UnmarshalText(text []byte) error {
	for value, name := range gripperModeNames {
		if name == string(text) {
			*m = value
			return nil
		}
	}
	return fmt.Errorf("unknown gripper mode %q", string(text))
}

// Pose is a cartesian tool pose. Positions are in meters, angles in degrees.
type Pose struct {
	X      float64 `json:"x" yaml:"x"`
	Y      float64 `json:"y" yaml:"y"`
	Z      float64 `json:"z" yaml:"z"`
	ThetaX float64 `json:"thetaX" yaml:"thetaX"`
	ThetaY float64 `json:"thetaY" yaml:"thetaY"`
	ThetaZ float64 `json:"thetaZ" yaml:"thetaZ"`
}

// Offset returns p translated by (dx, dy, dz); orientation is unchanged.
func (p Pose) Offset(dx, dy, dz float64) Pose {
	p.X += dx
	p.Y += dy
	p.Z += dz
	return p
}

// Action is a stored or ad-hoc controller action.
type Action struct {
	Name            string       `json:"name" yaml:"name"`
	Handle          ActionHandle `json:"handle,omitempty" yaml:"handle,omitempty"`
	Type            ActionType   `json:"type" yaml:"type"`
	ApplicationData string       `json:"applicationData,omitempty" yaml:"applicationData,omitempty"`

	// ReachPose is the target for ReachPose actions
	ReachPose *Pose `json:"reachPose,omitempty" yaml:"reachPose,omitempty"`

	// JointAngles is the target for ReachJointAngles actions, in degrees
	JointAngles []float64 `json:"jointAngles,omitempty" yaml:"jointAngles,omitempty"`
}

// Task is one step of a sequence.
type Task struct {
	GroupIdentifier int    `json:"groupIdentifier" yaml:"groupIdentifier"`
	Action          Action `json:"action" yaml:"action"`
}

// Sequence is an ordered list of tasks played as one operation.
type Sequence struct {
	Name  string `json:"name" yaml:"name"`
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Finger is one finger target of a gripper command.
type Finger struct {
	Identifier int     `json:"identifier"`
	Value      float64 `json:"value"`
}

// GripperCommand moves the gripper fingers.
type GripperCommand struct {
	Mode    GripperMode `json:"mode"`
	Fingers []Finger    `json:"fingers"`
}

// Feedback is the subset of cyclic feedback the client uses.
type Feedback struct {
	ToolPose Pose `json:"toolPose"`
}

// Validate checks that the action has a name and a target for its type.
func (a Action) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidAction)
	}
	switch a.Type {
	case ReachPose:
		if a.ReachPose == nil {
			return fmt.Errorf("%w: %s requires a pose", ErrInvalidAction, a.Type)
		}
	case ReachJointAngles:
		if len(a.JointAngles) == 0 {
			return fmt.Errorf("%w: %s requires joint angles", ErrInvalidAction, a.Type)
		}
	default:
		return fmt.Errorf("%w: unsupported type %s", ErrInvalidAction, a.Type)
	}
	return nil
}

// Validate checks that the sequence has tasks and every task action is valid.
func (s Sequence) Validate() error {
	if len(s.Tasks) == 0 {
		return ErrEmptySequence
	}
	for i, task := range s.Tasks {
		if err := task.Action.Validate(); err != nil {
			return fmt.Errorf("task %d: %w", i, err)
		}
	}
	return nil
}

// Validate checks finger values for position commands.
func (c GripperCommand) Validate() error {
	if len(c.Fingers) == 0 {
		return fmt.Errorf("%w: no fingers", ErrInvalidGripperCommand)
	}
	if c.Mode == GripperModeUnspecified {
		return fmt.Errorf("%w: mode is required", ErrInvalidGripperCommand)
	}
	for _, f := range c.Fingers {
		if c.Mode == GripperPosition && (f.Value < 0 || f.Value > 1) {
			return fmt.Errorf("%w: finger %d position %.2f outside [0, 1]", ErrInvalidGripperCommand, f.Identifier, f.Value)
		}
	}
	return nil
}
