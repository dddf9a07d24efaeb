package event

import "strconv"

// Type is the logical category of an event source.
type Type int

const (
	MotorInterrupt Type = iota
	MotorTimeout
	ButtonInterrupt
	DoorInterrupt
	RotationInterrupt
	DelayEnd
	ExposureEnd
	TemperatureTimer
	UICommand
	PrinterStatusUpdate
	Keyboard

	numTypes
)

var typeNames = [numTypes]string{
	MotorInterrupt:      "MotorInterrupt",
	MotorTimeout:        "MotorTimeout",
	ButtonInterrupt:     "ButtonInterrupt",
	DoorInterrupt:       "DoorInterrupt",
	RotationInterrupt:   "RotationInterrupt",
	DelayEnd:            "DelayEnd",
	ExposureEnd:         "ExposureEnd",
	TemperatureTimer:    "TemperatureTimer",
	UICommand:           "UICommand",
	PrinterStatusUpdate: "PrinterStatusUpdate",
	Keyboard:            "Keyboard",
}

// urgent types are drained, in this order, before any other ready source.
// Status snapshots go first so consumers observe every transition before the
// next event is handled. A motor interrupt always precedes a motor timeout
// that became ready with it; the timeout is stale once the interrupt has
// resolved the command.
var urgent = []Type{PrinterStatusUpdate, DoorInterrupt, MotorInterrupt, MotorTimeout}

func (t Type) String() string {
	if !t.Valid() {
		return "Type(" + strconv.Itoa(int(t)) + ")"
	}
	return typeNames[t]
}

func (t Type) Valid() bool { return t >= 0 && t < numTypes }

func (t Type) urgent() bool {
	for _, u := range urgent {
		if u == t {
			return true
		}
	}
	return false
}

// Essential reports whether a read failure on this type's source is fatal
// to the run loop.
func (t Type) Essential() bool {
	switch t {
	case MotorInterrupt, MotorTimeout, DoorInterrupt:
		return true
	}
	return false
}

// Types returns every event type in declaration order.
func Types() []Type {
	types := make([]Type, numTypes)
	for i := range types {
		types[i] = Type(i)
	}
	return types
}
