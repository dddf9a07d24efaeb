package bus

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/motor"
	"github.com/rs/zerolog"
)

var (
	// ErrDeviceReset is returned if the controller announces a reset while a
	// request is waiting for its reply.
	ErrDeviceReset = errors.New("bus: device reset")
	// ErrReplyTimeout is returned when no reply arrives in time.
	ErrReplyTimeout = errors.New("bus: reply timeout")
)

// DefaultReplyTimeout bounds every request made over a Conn.
const DefaultReplyTimeout = 100 * time.Millisecond

// Conn is a line oriented link to the motor controller.
//
//	host: W <hex frame>   -> device: ok | error:<message>
//	host: R <hex addr>    -> device: r <hex addr> <hex value>
//	device: !             (interrupt line raised)
//	device: reset         (controller rebooted)
type Conn struct {
	rw      io.ReadWriter
	scan    *bufio.Scanner
	timeout time.Duration
	log     zerolog.Logger

	replyCh   chan reply
	resetCh   chan struct{}
	closeCh   chan struct{}
	closeOnce sync.Once
	interrupt *event.Queue

	// one request at a time
	mx sync.Mutex
}

var _ motor.Bus = &Conn{}

// NewConn creates a new Conn using the provided ReadWriter and starts reading
// from it.
func NewConn(rw io.ReadWriter, timeout time.Duration, log zerolog.Logger) *Conn {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}
	c := &Conn{
		rw:        rw,
		scan:      bufio.NewScanner(rw),
		timeout:   timeout,
		log:       log.With().Str("component", "bus").Logger(),
		replyCh:   make(chan reply, 4),
		resetCh:   make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
		interrupt: event.NewQueue(1),
	}
	go c.readLoop()
	return c
}

// Interrupts is the MotorInterrupt event source. Interrupts raised before
// the previous one was read are coalesced.
func (c *Conn) Interrupts() event.Source { return c.interrupt }

// Close will abort any in-progress request and close the underlying
// ReadWriter, if it implements io.Closer.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closeCh)
		c.interrupt.Close()
		if closer, ok := c.rw.(io.Closer); ok {
			err = closer.Close()
		}
	})
	return err
}

func (c *Conn) readLoop() {
	for c.scan.Scan() {
		line := strings.TrimSpace(c.scan.Text())
		if line == "" {
			continue
		}
		r, err := parseLine(line)
		if err != nil {
			c.log.Warn().Err(err).Msg("parse")
			continue
		}
		switch r.kind {
		case replyInterrupt:
			if err := c.interrupt.Push(time.Now()); err != nil && err != event.ErrQueueFull {
				return
			}
		case replyReset:
			c.log.Warn().Msg("controller reset")
			select {
			case c.resetCh <- struct{}{}:
			default:
			}
		default:
			select {
			case c.replyCh <- r:
			default:
				c.log.Warn().Str("line", line).Msg("dropped unsolicited reply")
			}
		}
	}

	select {
	case <-c.closeCh:
	default:
		c.log.Error().Err(c.scan.Err()).Msg("read loop stopped")
		c.interrupt.Close()
	}
}

func (c *Conn) request(line string) (reply, error) {
	c.mx.Lock()
	defer c.mx.Unlock()

	select {
	case <-c.closeCh:
		return reply{}, io.ErrClosedPipe
	default:
	}

	// replies that arrived after an earlier request gave up
	for drained := false; !drained; {
		select {
		case <-c.replyCh:
		case <-c.resetCh:
		default:
			drained = true
		}
	}

	if _, err := io.WriteString(c.rw, line+"\n"); err != nil {
		return reply{}, err
	}

	t := time.NewTimer(c.timeout)
	defer t.Stop()
	select {
	case <-c.closeCh:
		return reply{}, io.ErrClosedPipe
	case <-c.resetCh:
		return reply{}, ErrDeviceReset
	case r := <-c.replyCh:
		return r, r.err
	case <-t.C:
		return reply{}, ErrReplyTimeout
	}
}

// WriteFrame sends frame and waits for the controller to acknowledge it.
func (c *Conn) WriteFrame(frame []byte) error {
	r, err := c.request("W " + hex.EncodeToString(frame))
	if err != nil {
		return err
	}
	if r.kind != replyOK {
		return fmt.Errorf("bus: unexpected reply to write: %s", r.kind)
	}
	return nil
}

// ReadRegister reads a single register.
func (c *Conn) ReadRegister(addr byte) (byte, error) {
	r, err := c.request(fmt.Sprintf("R %02x", addr))
	if err != nil {
		return 0, err
	}
	if r.kind != replyRegister || r.addr != addr {
		return 0, fmt.Errorf("bus: unexpected reply to read of 0x%02x: %s", addr, r.kind)
	}
	return r.value, nil
}
