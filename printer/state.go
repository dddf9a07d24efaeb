package printer

import (
	"fmt"
	"strings"
)

// State is a step of the print process.
type State int

const (
	Home State = iota
	Idle
	Calibrating
	DoorOpen
	Preparing
	Exposing
	Separating
	Approaching
	Pressing
	Paused
	Cancelling
	JobComplete
	Jammed
)

var stateNames = [...]string{
	Home:        "Home",
	Idle:        "Idle",
	Calibrating: "Calibrating",
	DoorOpen:    "DoorOpen",
	Preparing:   "Preparing",
	Exposing:    "Exposing",
	Separating:  "Separating",
	Approaching: "Approaching",
	Pressing:    "Pressing",
	Paused:      "Paused",
	Cancelling:  "Cancelling",
	JobComplete: "JobComplete",
	Jammed:      "Jammed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Printing reports whether s is one of the states a job moves through.
func (s State) Printing() bool { return s >= Preparing && s <= Pressing }

// Command is a request from the user to the print process.
type Command int

const (
	CmdStart Command = iota + 1
	CmdPause
	CmdResume
	CmdCancel
	CmdReset
	CmdHome
	CmdCalibrate
	CmdExitCalibration
)

var commandNames = map[Command]string{
	CmdStart:           "START",
	CmdPause:           "PAUSE",
	CmdResume:          "RESUME",
	CmdCancel:          "CANCEL",
	CmdReset:           "RESET",
	CmdHome:            "HOME",
	CmdCalibrate:       "CALIBRATE",
	CmdExitCalibration: "EXITCALIBRATION",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand returns the command named by verb, ignoring case.
func ParseCommand(verb string) (Command, error) {
	verb = strings.ToUpper(strings.TrimSpace(verb))
	for c, name := range commandNames {
		if name == verb {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command '%s'", verb)
}
