package bus

import (
	"errors"
	"sync"
	"time"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/motor"
	"github.com/rs/zerolog"
)

var (
	errSimClosed  = errors.New("bus: simulator closed")
	errSimDropped = errors.New("bus: simulated frame lost")
)

// SimConfig controls how long simulated motions take.
type SimConfig struct {
	// Scale multiplies every motion duration. Zero completes motions
	// immediately (on the next scheduler tick).
	Scale float64
	// HomeDuration is how long a homing run takes before scaling.
	HomeDuration time.Duration
}

// Sim is an in-process motor controller. It accepts the same frames as the
// real board, reports busy while a motion runs, and raises the interrupt line
// when it finishes.
type Sim struct {
	cfg SimConfig
	log zerolog.Logger

	mx       sync.Mutex
	status   byte
	frames   [][]byte
	drop     int
	failCode byte
	jam      bool
	closed   bool
	gen      uint64
	t        *time.Timer

	interrupt *event.Queue
	rotation  *event.Queue
}

var _ motor.Bus = &Sim{}

// NewSim creates an idle simulator.
func NewSim(cfg SimConfig, log zerolog.Logger) *Sim {
	return &Sim{
		cfg:       cfg,
		log:       log.With().Str("component", "sim").Logger(),
		interrupt: event.NewQueue(1),
		rotation:  event.NewQueue(1),
	}
}

// Interrupts is the MotorInterrupt source.
func (s *Sim) Interrupts() event.Source { return s.interrupt }

// Rotations is a RotationInterrupt source, pulsed halfway through every tray
// move unless a jam was injected or the move is set to fail.
func (s *Sim) Rotations() event.Source { return s.rotation }

// DropNext makes the simulator lose the next n frames. Like the serial link
// when the board never answers, WriteFrame reports the loss.
func (s *Sim) DropNext(n int) {
	s.mx.Lock()
	s.drop = n
	s.mx.Unlock()
}

// FailNext makes the next motion finish with the given status code.
func (s *Sim) FailNext(code byte) {
	s.mx.Lock()
	s.failCode = code
	s.mx.Unlock()
}

// JamNext suppresses the rotation pulse of the next tray move.
func (s *Sim) JamNext() {
	s.mx.Lock()
	s.jam = true
	s.mx.Unlock()
}

// Frames returns a copy of every frame accepted so far, including dropped
// ones.
func (s *Sim) Frames() [][]byte {
	s.mx.Lock()
	defer s.mx.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

func (s *Sim) Close() error {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.gen++
	if s.t != nil {
		s.t.Stop()
	}
	s.interrupt.Close()
	s.rotation.Close()
	return nil
}

func (s *Sim) duration(c motor.Command) time.Duration {
	var d time.Duration
	switch c.Action {
	case motor.Home:
		d = s.cfg.HomeDuration
	case motor.MoveSteps:
		steps := int64(c.Steps)
		if steps < 0 {
			steps = -steps
		}
		if c.Rate > 0 {
			d = time.Duration(steps) * time.Second / time.Duration(c.Rate)
		}
	}
	return time.Duration(float64(d) * s.cfg.Scale)
}

func (s *Sim) WriteFrame(frame []byte) error {
	cmd, err := motor.ParseFrame(frame)
	if err != nil {
		return err
	}

	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return errSimClosed
	}
	s.frames = append(s.frames, append([]byte(nil), frame...))
	if s.drop > 0 {
		s.drop--
		s.log.Debug().Stringer("command", cmd).Msg("dropped")
		return errSimDropped
	}

	// a new frame supersedes whatever was running
	s.gen++
	if s.t != nil {
		s.t.Stop()
	}
	s.status = motor.StatusBusy
	gen := s.gen
	d := s.duration(cmd)
	if cmd.Action == motor.MoveSteps && cmd.Axis == motor.ResinTray {
		// the sensor passes the flag halfway through a rotation
		time.AfterFunc(d/2, func() { s.rotate(gen) })
	}
	s.t = time.AfterFunc(d, func() { s.finish(gen) })
	return nil
}

func (s *Sim) rotate(gen uint64) {
	s.mx.Lock()
	if s.closed || gen != s.gen || s.failCode != motor.StatusCompleted {
		s.mx.Unlock()
		return
	}
	if s.jam {
		s.jam = false
		s.mx.Unlock()
		return
	}
	s.mx.Unlock()
	_ = s.rotation.Push(time.Now())
}

func (s *Sim) finish(gen uint64) {
	s.mx.Lock()
	if s.closed || gen != s.gen {
		s.mx.Unlock()
		return
	}
	s.status = s.failCode
	s.failCode = motor.StatusCompleted
	s.mx.Unlock()

	_ = s.interrupt.Push(time.Now())
}

func (s *Sim) ReadRegister(addr byte) (byte, error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return 0, errSimClosed
	}
	if addr != motor.StatusRegister {
		return 0, nil
	}
	return s.status, nil
}
