package bus

import (
	"errors"
	"strconv"
	"strings"
)

type replyKind int

const (
	replyOK replyKind = iota
	replyError
	replyRegister
	replyInterrupt
	replyReset
)

func (k replyKind) String() string {
	switch k {
	case replyOK:
		return "ok"
	case replyError:
		return "error"
	case replyRegister:
		return "register"
	case replyInterrupt:
		return "interrupt"
	case replyReset:
		return "reset"
	}
	return "unknown"
}

type reply struct {
	kind  replyKind
	addr  byte
	value byte
	err   error
}

func parseHexByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	return byte(v), err
}

func parseLine(line string) (reply, error) {
	switch {
	case line == "ok":
		return reply{kind: replyOK}, nil
	case line == "!":
		return reply{kind: replyInterrupt}, nil
	case line == "reset":
		return reply{kind: replyReset}, nil
	case strings.HasPrefix(line, "error:"):
		msg := strings.TrimSpace(strings.TrimPrefix(line, "error:"))
		return reply{kind: replyError, err: errors.New("bus: device error: " + msg)}, nil
	case strings.HasPrefix(line, "r "):
		parts := strings.Fields(line)
		if len(parts) != 3 {
			return reply{}, errors.New("invalid register reply: " + line)
		}
		addr, err := parseHexByte(parts[1])
		if err != nil {
			return reply{}, err
		}
		value, err := parseHexByte(parts[2])
		if err != nil {
			return reply{}, err
		}
		return reply{kind: replyRegister, addr: addr, value: value}, nil
	}

	return reply{}, errors.New("unknown message: " + line)
}
