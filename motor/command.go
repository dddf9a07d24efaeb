package motor

import (
	"fmt"
	"time"
)

// Axis is a mechanical degree of freedom driven by the motor controller.
type Axis int

const (
	BuildPlatform Axis = iota
	ResinTray
)

func (a Axis) String() string {
	switch a {
	case BuildPlatform:
		return "platform"
	case ResinTray:
		return "tray"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Action is the operation a Command asks the controller to perform.
type Action int

const (
	Home Action = iota + 1
	Reset
	Enable
	Disable
	SetMicrostepping
	MoveSteps
)

func (a Action) String() string {
	switch a {
	case Home:
		return "home"
	case Reset:
		return "reset"
	case Enable:
		return "enable"
	case Disable:
		return "disable"
	case SetMicrostepping:
		return "microstepping"
	case MoveSteps:
		return "move"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// control actions address the whole controller rather than one axis
func (a Action) control() bool {
	switch a {
	case Reset, Enable, Disable, SetMicrostepping:
		return true
	}
	return false
}

// Mode is a microstepping mode, from full steps (1) to 1/32 steps (6).
type Mode uint8

const (
	FullStep Mode = iota + 1
	HalfStep
	QuarterStep
	EighthStep
	SixteenthStep
	ThirtySecondStep
)

func (m Mode) Valid() bool { return m >= FullStep && m <= ThirtySecondStep }

// Command is one request to the motor controller.
type Command struct {
	Axis   Axis
	Action Action
	Mode   Mode

	// Steps is signed; positive moves the platform up and the tray forward.
	Steps int32
	// Rate is in steps per second.
	Rate uint32

	IssuedAt time.Time
}

func NewHome(axis Axis) Command { return Command{Axis: axis, Action: Home} }

func NewMove(axis Axis, steps int32, rate uint32) Command {
	return Command{Axis: axis, Action: MoveSteps, Steps: steps, Rate: rate}
}

// NewControl returns a Reset, Enable or Disable command.
func NewControl(action Action) Command { return Command{Action: action} }

func NewMicrostepping(mode Mode) (Command, error) {
	if !mode.Valid() {
		return Command{}, fmt.Errorf("microstepping mode %d: %w", mode, ErrInvalidMode)
	}
	return Command{Action: SetMicrostepping, Mode: mode}, nil
}

// Same reports whether c and o ask for the same motion, ignoring when they
// were issued.
func (c Command) Same(o Command) bool {
	c.IssuedAt, o.IssuedAt = time.Time{}, time.Time{}
	return c == o
}

// estimate is how long the controller should need to carry out c.
func (c Command) estimate(homeAllowance time.Duration) time.Duration {
	switch c.Action {
	case Home:
		return homeAllowance
	case MoveSteps:
		if c.Rate == 0 {
			return 0
		}
		steps := int64(c.Steps)
		if steps < 0 {
			steps = -steps
		}
		return time.Duration(steps) * time.Second / time.Duration(c.Rate)
	}
	return 0
}

func (c Command) String() string {
	switch {
	case c.Action == MoveSteps:
		return fmt.Sprintf("move %s %d@%d", c.Axis, c.Steps, c.Rate)
	case c.Action == SetMicrostepping:
		return fmt.Sprintf("microstepping %d", c.Mode)
	case c.Action.control():
		return c.Action.String()
	}
	return c.Action.String() + " " + c.Axis.String()
}
