package motor

import (
	"errors"
	"fmt"
)

var (
	ErrBusy         = errors.New("motor: command already outstanding")
	ErrInvalidMode  = errors.New("motor: invalid microstepping mode")
	ErrProtocolInit = errors.New("motor: controller did not complete initialization")
)

// FaultCode classifies a Fault.
type FaultCode int

const (
	// FaultTimeout means every attempt of a command timed out.
	FaultTimeout FaultCode = iota + 1
	// FaultController means the controller reported an error status.
	FaultController
)

func (c FaultCode) String() string {
	switch c {
	case FaultTimeout:
		return "timeout"
	case FaultController:
		return "controller error"
	}
	return fmt.Sprintf("FaultCode(%d)", int(c))
}

// Fault is a command the controller could not carry out.
type Fault struct {
	Code     FaultCode
	Command  Command
	Attempts int
	// Status is the status register value for FaultController.
	Status byte
}

func (f *Fault) Error() string {
	if f.Code == FaultController {
		return fmt.Sprintf("motor: %s failed with status 0x%02x", f.Command, f.Status)
	}
	return fmt.Sprintf("motor: %s: %s after %d attempts", f.Command, f.Code, f.Attempts)
}
