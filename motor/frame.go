package motor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Controller register addresses.
const (
	GeneralRegister  byte = 0x20
	PlatformRegister byte = 0x21
	TrayRegister     byte = 0x22
	StatusRegister   byte = 0x30
)

// Values read back from StatusRegister. Anything else is an error code.
const (
	StatusCompleted byte = 0x00
	StatusBusy      byte = 0x01
)

const (
	wireHome          byte = 0x01
	wireMove          byte = 0x02
	wireReset         byte = 0x10
	wireEnable        byte = 0x11
	wireDisable       byte = 0x12
	wireMicrostepping byte = 0x13
)

var errBadFrame = errors.New("motor: malformed frame")

func axisRegister(a Axis) (byte, error) {
	switch a {
	case BuildPlatform:
		return PlatformRegister, nil
	case ResinTray:
		return TrayRegister, nil
	}
	return 0, fmt.Errorf("motor: unknown axis %d", int(a))
}

// Frame encodes c as [register, action, args...].
func (c Command) Frame() ([]byte, error) {
	switch c.Action {
	case Reset:
		return []byte{GeneralRegister, wireReset}, nil
	case Enable:
		return []byte{GeneralRegister, wireEnable}, nil
	case Disable:
		return []byte{GeneralRegister, wireDisable}, nil
	case SetMicrostepping:
		if !c.Mode.Valid() {
			return nil, fmt.Errorf("microstepping mode %d: %w", c.Mode, ErrInvalidMode)
		}
		return []byte{GeneralRegister, wireMicrostepping, byte(c.Mode)}, nil
	}

	reg, err := axisRegister(c.Axis)
	if err != nil {
		return nil, err
	}
	switch c.Action {
	case Home:
		return []byte{reg, wireHome}, nil
	case MoveSteps:
		frame := make([]byte, 10)
		frame[0], frame[1] = reg, wireMove
		binary.LittleEndian.PutUint32(frame[2:], uint32(c.Steps))
		binary.LittleEndian.PutUint32(frame[6:], c.Rate)
		return frame, nil
	}
	return nil, fmt.Errorf("motor: unknown action %d", int(c.Action))
}

// ParseFrame decodes a frame produced by Command.Frame.
func ParseFrame(frame []byte) (Command, error) {
	if len(frame) < 2 {
		return Command{}, errBadFrame
	}
	var c Command
	switch frame[0] {
	case GeneralRegister:
		switch frame[1] {
		case wireReset:
			c.Action = Reset
		case wireEnable:
			c.Action = Enable
		case wireDisable:
			c.Action = Disable
		case wireMicrostepping:
			if len(frame) != 3 {
				return Command{}, errBadFrame
			}
			c.Action = SetMicrostepping
			c.Mode = Mode(frame[2])
		default:
			return Command{}, errBadFrame
		}
		return c, nil
	case PlatformRegister:
		c.Axis = BuildPlatform
	case TrayRegister:
		c.Axis = ResinTray
	default:
		return Command{}, errBadFrame
	}

	switch frame[1] {
	case wireHome:
		c.Action = Home
	case wireMove:
		if len(frame) != 10 {
			return Command{}, errBadFrame
		}
		c.Action = MoveSteps
		c.Steps = int32(binary.LittleEndian.Uint32(frame[2:]))
		c.Rate = binary.LittleEndian.Uint32(frame[6:])
	default:
		return Command{}, errBadFrame
	}
	return c, nil
}
