package controller

import (
	"errors"
	"time"

	"github.com/Snehask3825/kortex/pkg/command"
)

var (
	// ErrInvalidStepDuration is returned when the motion step duration is not positive
	ErrInvalidStepDuration = errors.New("step duration must be positive")
	// ErrEmptyName is returned when the controller has no name
	ErrEmptyName = errors.New("controller name cannot be empty")
)

// Config represents configuration for a simulated controller
type Config struct {
	// Name identifies the controller in logs
	Name string `yaml:"name"`

	// StepDuration is how long one action, or one sequence task, takes to run
	StepDuration time.Duration `yaml:"stepDuration"`

	// Actions are stored on the controller at startup. Empty selects DefaultActions.
	Actions []command.Action `yaml:"actions"`
}

// SetDefaults sets sensible default values for unset configuration fields
func (c *Config) SetDefaults() {
	if c.Name == "" {
		c.Name = "kortex-sim"
	}
	if c.StepDuration == 0 {
		c.StepDuration = 500 * time.Millisecond
	}
	if len(c.Actions) == 0 {
		c.Actions = DefaultActions()
	}
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Name == "" {
		return ErrEmptyName
	}
	if c.StepDuration <= 0 {
		return ErrInvalidStepDuration
	}
	for _, a := range c.Actions {
		if err := a.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// DefaultActions returns the joint-angle positions every arm ships with.
func DefaultActions() []command.Action {
	return []command.Action{
		{Name: "Home", Type: command.ReachJointAngles, JointAngles: []float64{0, 15, 180, 230, 0, 55, 90}},
		{Name: "Zero", Type: command.ReachJointAngles, JointAngles: []float64{0, 0, 0, 0, 0, 0, 0}},
		{Name: "Retract", Type: command.ReachJointAngles, JointAngles: []float64{0, 340, 180, 214, 0, 310, 90}},
		{Name: "Packaging", Type: command.ReachJointAngles, JointAngles: []float64{0, 330, 180, 214, 0, 115, 270}},
	}
}
