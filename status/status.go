package status

import (
	"encoding/json"
	"fmt"
)

// Change tells consumers whether a snapshot was taken on the way into a state
// or on the way out of it.
type Change int

const (
	None Change = iota
	Entering
	Leaving
)

func (c Change) String() string {
	switch c {
	case None:
		return "none"
	case Entering:
		return "entering"
	case Leaving:
		return "leaving"
	}
	return fmt.Sprintf("Change(%d)", int(c))
}

func (c Change) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// ErrorCode identifies why a snapshot carries IsError.
type ErrorCode int

const (
	NoError ErrorCode = iota
	MotorTimeout
	MotorError
	RotationJam
	Cancelled
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "none"
	case MotorTimeout:
		return "motor timeout"
	case MotorError:
		return "motor error"
	case RotationJam:
		return "rotation jam"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

// PrinterStatus is a snapshot of the print process. It is passed by value so
// every consumer holds its own copy.
type PrinterStatus struct {
	State        string
	Change       Change
	IsError      bool
	ErrorCode    ErrorCode
	ErrorMessage string
	Layer        int
	TotalLayers  int
	SecondsLeft  int
	JobName      string
	Temperature  float64
}

type document struct {
	PrinterStatus PrinterStatus
}

// Document renders s as the single line key-value document handed to status
// consumers.
func (s PrinterStatus) Document() ([]byte, error) {
	return json.Marshal(document{PrinterStatus: s})
}

func (s PrinterStatus) String() string {
	str := fmt.Sprintf("%s (%s) layer %d/%d", s.State, s.Change, s.Layer, s.TotalLayers)
	if s.IsError {
		str += fmt.Sprintf(" error %d: %s", s.ErrorCode, s.ErrorMessage)
	}
	return str
}
