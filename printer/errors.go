package printer

import "fmt"

// InvalidTransitionError is returned for a command the current state does not
// accept. The state is left unchanged.
type InvalidTransitionError struct {
	State   State
	Command Command
	Reason  string
}

func (e *InvalidTransitionError) Error() string {
	msg := fmt.Sprintf("printer: %s not allowed in state %s", e.Command, e.State)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func reject(s State, c Command, reason string) error {
	return &InvalidTransitionError{State: s, Command: c, Reason: reason}
}
