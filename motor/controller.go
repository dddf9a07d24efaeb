package motor

import (
	"fmt"
	"time"

	"github.com/mastercactapus/gsla/event"
	"github.com/rs/zerolog"
)

// Bus is the minimal transport to the motor controller.
type Bus interface {
	WriteFrame(frame []byte) error
	ReadRegister(addr byte) (byte, error)
}

// Alarm is the timer backing the MotorTimeout event source.
type Alarm interface {
	Arm(d time.Duration)
	Disarm()
}

// Result is how an outstanding command was resolved.
type Result int

const (
	Completed Result = iota
	CompletedWithError
	Faulted
)

func (r Result) String() string {
	switch r {
	case Completed:
		return "completed"
	case CompletedWithError:
		return "completed with error"
	case Faulted:
		return "faulted"
	}
	return fmt.Sprintf("Result(%d)", int(r))
}

// Outcome is delivered to the OutcomeHandler once per submitted command
// (unless the command is aborted).
type Outcome struct {
	Command Command
	Result  Result
	// Fault is set unless Result is Completed.
	Fault *Fault
}

type OutcomeHandler interface {
	MotorOutcome(o Outcome)
}

type Config struct {
	// InitTimeout bounds the handshake in Initialize.
	InitTimeout time.Duration
	// PollInterval is how often Initialize reads the status register.
	PollInterval time.Duration
	// TimeoutMargin is added to a command's estimated duration.
	TimeoutMargin time.Duration
	// HomeAllowance is the estimated duration of a home command.
	HomeAllowance time.Duration
	// Backoff is added to the deadline once per retry already made.
	Backoff time.Duration
	// Retries is how many times a timed out command is re-sent before
	// it is reported as a fault.
	Retries int
}

func DefaultConfig() Config {
	return Config{
		InitTimeout:   5 * time.Second,
		PollInterval:  10 * time.Millisecond,
		TimeoutMargin: 5 * time.Second,
		HomeAllowance: 20 * time.Second,
		Backoff:       2 * time.Second,
		Retries:       2,
	}
}

// Session is the bookkeeping for the outstanding command.
type Session struct {
	Command  Command
	Deadline time.Time
	// Retries left before the next timeout becomes a fault.
	Retries  int
	Attempts int
	// Acked is set when the last write of the command was accepted by the
	// bus. An unacknowledged command is assumed dropped.
	Acked bool
}

// Controller is the host side of the motor controller protocol. At most one
// command is outstanding; each is paired with a deadline on the MotorTimeout
// alarm and resolved by a MotorInterrupt (status register read) or by the
// timeout path.
//
// Controller is driven from the event loop and is not safe for concurrent use.
type Controller struct {
	bus     Bus
	alarm   Alarm
	cfg     Config
	log     zerolog.Logger
	handler OutcomeHandler

	now   func() time.Time
	sleep func(time.Duration)

	outstanding *Session
}

var _ event.Subscriber = &Controller{}

func NewController(bus Bus, alarm Alarm, cfg Config, log zerolog.Logger) *Controller {
	return &Controller{
		bus:   bus,
		alarm: alarm,
		cfg:   cfg,
		log:   log.With().Str("component", "motor").Logger(),
		now:   time.Now,
		sleep: time.Sleep,
	}
}

// SetOutcomeHandler sets who receives resolved commands.
func (c *Controller) SetOutcomeHandler(h OutcomeHandler) { c.handler = h }

// Initialize resets the controller and waits, at most InitTimeout, for it to
// report an idle status. It blocks and must run before the event loop.
func (c *Controller) Initialize() error {
	frame, _ := NewControl(Reset).Frame()
	deadline := c.now().Add(c.cfg.InitTimeout)

	var written bool
	var lastErr error
	for {
		if !written {
			lastErr = c.bus.WriteFrame(frame)
			written = lastErr == nil
		} else {
			var status byte
			status, lastErr = c.bus.ReadRegister(StatusRegister)
			if lastErr == nil {
				switch status {
				case StatusCompleted:
					c.log.Info().Msg("controller ready")
					return nil
				case StatusBusy:
				default:
					lastErr = fmt.Errorf("status 0x%02x", status)
				}
			}
		}

		if !c.now().Before(deadline) {
			if lastErr != nil {
				return fmt.Errorf("%w: %v", ErrProtocolInit, lastErr)
			}
			return ErrProtocolInit
		}
		c.sleep(c.cfg.PollInterval)
	}
}

// Busy reports whether a command is outstanding.
func (c *Controller) Busy() bool { return c.outstanding != nil }

// Session returns a copy of the outstanding command's session.
func (c *Controller) Session() (Session, bool) {
	if c.outstanding == nil {
		return Session{}, false
	}
	return *c.outstanding, true
}

// Submit sends cmd and arms its timeout. It does not wait for the command to
// finish; the result arrives later through the OutcomeHandler.
//
// A transport error while writing is treated as a dropped command: the
// session stays armed and the timeout path re-sends it.
func (c *Controller) Submit(cmd Command) error {
	if c.outstanding != nil {
		return ErrBusy
	}
	frame, err := cmd.Frame()
	if err != nil {
		return err
	}
	if cmd.IssuedAt.IsZero() {
		cmd.IssuedAt = c.now()
	}

	c.outstanding = &Session{Command: cmd, Retries: c.cfg.Retries}
	c.send(frame)
	return nil
}

func (c *Controller) Reset() error   { return c.Submit(NewControl(Reset)) }
func (c *Controller) Enable() error  { return c.Submit(NewControl(Enable)) }
func (c *Controller) Disable() error { return c.Submit(NewControl(Disable)) }

func (c *Controller) SetMicrosteppingMode(mode Mode) error {
	cmd, err := NewMicrostepping(mode)
	if err != nil {
		return err
	}
	return c.Submit(cmd)
}

// Abort forgets the outstanding command without reporting an outcome.
func (c *Controller) Abort() {
	if c.outstanding == nil {
		return
	}
	c.log.Info().Stringer("command", c.outstanding.Command).Msg("abort")
	c.alarm.Disarm()
	c.outstanding = nil
}

func (c *Controller) timeoutFor(s *Session) time.Duration {
	return c.cfg.TimeoutMargin +
		s.Command.estimate(c.cfg.HomeAllowance) +
		time.Duration(s.Attempts)*c.cfg.Backoff
}

func (c *Controller) send(frame []byte) {
	s := c.outstanding
	d := c.timeoutFor(s)
	s.Attempts++
	s.Deadline = c.now().Add(d)

	err := c.bus.WriteFrame(frame)
	s.Acked = err == nil
	if err != nil {
		c.log.Warn().Err(err).Stringer("command", s.Command).Int("attempt", s.Attempts).Msg("write frame")
	} else {
		c.log.Debug().Stringer("command", s.Command).Int("attempt", s.Attempts).Dur("timeout", d).Msg("sent")
	}
	c.alarm.Arm(d)
}

// extend re-arms the deadline of a command that is still running.
func (c *Controller) extend() {
	s := c.outstanding
	d := c.timeoutFor(s)
	s.Attempts++
	s.Deadline = c.now().Add(d)
	c.alarm.Arm(d)
}

// HandleEvent resolves the outstanding command on MotorInterrupt and
// MotorTimeout events.
func (c *Controller) HandleEvent(t event.Type, payload interface{}) {
	switch t {
	case event.MotorInterrupt:
		c.interrupt()
	case event.MotorTimeout:
		c.timeout()
	}
}

func (c *Controller) interrupt() {
	if c.outstanding == nil {
		c.log.Debug().Msg("interrupt with nothing outstanding")
		return
	}
	status, err := c.bus.ReadRegister(StatusRegister)
	if err != nil {
		// the timeout path will recover
		c.log.Warn().Err(err).Msg("read status register")
		return
	}

	if status == StatusBusy {
		c.log.Debug().Stringer("command", c.outstanding.Command).Msg("spurious interrupt, still busy")
		return
	}
	c.resolveStatus(status)
}

// resolveStatus resolves the outstanding command from a status register value
// other than StatusBusy.
func (c *Controller) resolveStatus(status byte) {
	s := c.outstanding
	switch status {
	case StatusCompleted:
		c.resolve(Outcome{Command: s.Command, Result: Completed})
	default:
		c.resolve(Outcome{
			Command: s.Command,
			Result:  CompletedWithError,
			Fault:   &Fault{Code: FaultController, Command: s.Command, Attempts: s.Attempts, Status: status},
		})
	}
}

// timeout checks the status register before spending a retry. A command the
// controller finished (the interrupt was lost) is resolved, never re-sent; a
// relative move sent twice would run twice. Only a command that was never
// acknowledged, or whose status cannot be read, is re-sent. A command still
// running has its deadline extended.
func (c *Controller) timeout() {
	s := c.outstanding
	if s == nil {
		return
	}

	resend := !s.Acked
	if s.Acked {
		status, err := c.bus.ReadRegister(StatusRegister)
		switch {
		case err != nil:
			c.log.Warn().Err(err).Stringer("command", s.Command).Msg("timeout, read status register")
			resend = true
		case status != StatusBusy:
			c.log.Warn().Stringer("command", s.Command).Msg("timeout, command had finished")
			c.resolveStatus(status)
			return
		}
	}

	if s.Retries > 0 {
		s.Retries--
		if resend {
			c.log.Warn().Stringer("command", s.Command).Int("retries_left", s.Retries).Msg("timeout, re-sending")
			frame, _ := s.Command.Frame()
			c.send(frame)
			return
		}
		c.log.Warn().Stringer("command", s.Command).Int("retries_left", s.Retries).Msg("timeout, still busy")
		c.extend()
		return
	}

	c.log.Error().Stringer("command", s.Command).Int("attempts", s.Attempts).Msg("timeout, giving up")
	c.resolve(Outcome{
		Command: s.Command,
		Result:  Faulted,
		Fault:   &Fault{Code: FaultTimeout, Command: s.Command, Attempts: s.Attempts},
	})
}

func (c *Controller) resolve(o Outcome) {
	c.alarm.Disarm()
	c.outstanding = nil
	if o.Result == Completed {
		c.log.Debug().Stringer("command", o.Command).Dur("took", c.now().Sub(o.Command.IssuedAt)).Msg("completed")
	} else {
		c.log.Error().Err(o.Fault).Msg("command failed")
	}
	if c.handler != nil {
		c.handler.MotorOutcome(o)
	}
}
