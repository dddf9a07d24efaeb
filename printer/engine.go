package printer

import (
	"fmt"
	"math"
	"time"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/motor"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
)

// Motors is the part of the motor protocol the engine drives.
type Motors interface {
	Submit(cmd motor.Command) error
	Abort()
}

// Alarm is a single-shot timer that feeds an event source.
type Alarm interface {
	Arm(d time.Duration)
	Disarm()
	Remaining() time.Duration
}

// Timers are the alarms owned by the engine.
type Timers struct {
	Exposure    Alarm // ExposureEnd
	Delay       Alarm // DelayEnd
	Temperature Alarm // TemperatureTimer
}

// Publisher receives every status.PrinterStatus snapshot.
type Publisher interface {
	Push(v interface{}) error
}

// Thermometer returns the last resin temperature reading, if any.
type Thermometer interface {
	Temperature() (float64, bool)
}

// Settings are the mechanical and timing parameters of a print.
type Settings struct {
	Microstepping motor.Mode
	// StepRate is used for every move, in steps per second.
	StepRate uint32

	Exposure      time.Duration
	FirstExposure time.Duration
	SettleDelay   time.Duration

	// Platform steps are positive upwards, tray steps positive forwards.
	StartSteps       int32
	LayerSteps       int32
	LiftSteps        int32
	SeparationSteps  int32
	PressSteps       int32
	CalibrationSteps int32

	// DetectJams requires a rotation pulse during every tray move.
	DetectJams bool
	// MotionPerLayer is the time spent moving between exposures, used for
	// the remaining time estimate.
	MotionPerLayer time.Duration

	TemperatureInterval  time.Duration
	TemperatureThreshold float64
}

func DefaultSettings() Settings {
	return Settings{
		Microstepping:        motor.SixteenthStep,
		StepRate:             800,
		Exposure:             8 * time.Second,
		FirstExposure:        60 * time.Second,
		SettleDelay:          time.Second,
		StartSteps:           -16000,
		LayerSteps:           40,
		LiftSteps:            2000,
		SeparationSteps:      400,
		CalibrationSteps:     -16040,
		MotionPerLayer:       6 * time.Second,
		TemperatureInterval:  10 * time.Second,
		TemperatureThreshold: 0.5,
	}
}

// Job is a print request.
type Job struct {
	Name   string
	Layers int
}

// Engine is the print-process state machine. It is driven from the event loop
// (HandleEvent, MotorOutcome, Handle) and is not safe for concurrent use.
type Engine struct {
	motors Motors
	timers Timers
	pub    Publisher
	thermo Thermometer
	cfg    Settings
	job    Job
	log    zerolog.Logger

	state      State
	pausedFrom State

	active Job
	layer  int

	plan     []motor.Command
	planDone func()
	pending  *motor.Command
	rotated  bool

	delayThen      func()
	pausedExposure time.Duration
	pausedDelay    time.Duration

	doorOpen bool

	errCode status.ErrorCode
	errMsg  string

	temperature float64
	last        status.PrinterStatus
}

var (
	_ event.Subscriber     = &Engine{}
	_ motor.OutcomeHandler = &Engine{}
)

// NewEngine creates an Engine in the Home state. job is what a START without
// arguments prints. thermo may be nil.
func NewEngine(motors Motors, timers Timers, pub Publisher, thermo Thermometer, cfg Settings, job Job, log zerolog.Logger) (*Engine, error) {
	if !cfg.Microstepping.Valid() {
		return nil, fmt.Errorf("printer: microstepping %d: %w", cfg.Microstepping, motor.ErrInvalidMode)
	}
	if cfg.StepRate == 0 {
		return nil, fmt.Errorf("printer: step rate must be positive")
	}
	return &Engine{
		motors: motors,
		timers: timers,
		pub:    pub,
		thermo: thermo,
		cfg:    cfg,
		job:    job,
		log:    log.With().Str("component", "printer").Logger(),
	}, nil
}

// Begin starts temperature sampling and homes the printer.
func (e *Engine) Begin() {
	e.sampleTemperature()
	e.transition(Home)
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Status returns the last published snapshot.
func (e *Engine) Status() status.PrinterStatus { return e.last }

// Republish publishes the last snapshot again, unchanged.
func (e *Engine) Republish() { e.push(e.last) }

// Shutdown stops the job timers and publishes a final Leaving snapshot.
func (e *Engine) Shutdown() {
	e.timers.Temperature.Disarm()
	e.stopJob()
	e.publish(status.Leaving)
}

// HandleEvent handles the hardware and timer events the engine subscribes to.
func (e *Engine) HandleEvent(t event.Type, payload interface{}) {
	switch t {
	case event.DoorInterrupt:
		open, _ := payload.(bool)
		e.door(open)
	case event.ButtonInterrupt:
		if pressed, _ := payload.(bool); pressed {
			e.button()
		}
	case event.RotationInterrupt:
		if e.pending != nil && rotates(*e.pending) {
			e.rotated = true
		}
	case event.ExposureEnd:
		if e.state == Exposing {
			e.transition(Separating)
		}
	case event.DelayEnd:
		if e.state == Paused || e.delayThen == nil {
			return
		}
		fn := e.delayThen
		e.delayThen = nil
		fn()
	case event.TemperatureTimer:
		e.sampleTemperature()
	}
}

// MotorOutcome advances the current motion plan, or jams on a fault.
func (e *Engine) MotorOutcome(o motor.Outcome) {
	if e.pending == nil || !e.pending.Same(o.Command) {
		e.log.Warn().Stringer("command", o.Command).Msg("outcome for a command not in flight")
		return
	}
	cmd := *e.pending
	e.pending = nil

	if o.Result != motor.Completed {
		code := status.MotorError
		msg := o.Result.String()
		if o.Fault != nil {
			msg = o.Fault.Error()
			if o.Fault.Code == motor.FaultTimeout {
				code = status.MotorTimeout
			}
		}
		e.fault(code, msg)
		return
	}
	if e.cfg.DetectJams && rotates(cmd) && !e.rotated {
		e.fault(status.RotationJam, fmt.Sprintf("no rotation detected during %s", cmd))
		return
	}
	e.step()
}

// Handle applies a user command. A command the current state does not accept
// returns an *InvalidTransitionError and changes nothing.
func (e *Engine) Handle(cmd Command) error {
	switch cmd {
	case CmdStart:
		return e.StartJob(e.job)
	case CmdPause:
		if !e.state.Printing() {
			return reject(e.state, cmd, "not printing")
		}
		e.pause()
	case CmdResume:
		if e.state != Paused {
			return reject(e.state, cmd, "not paused")
		}
		if e.doorOpen {
			return reject(e.state, cmd, "door is open")
		}
		e.resume()
	case CmdCancel:
		switch e.state {
		case Jammed:
			return reject(e.state, cmd, "reset required")
		case Idle, DoorOpen, Cancelling, JobComplete:
			return reject(e.state, cmd, "nothing to cancel")
		}
		e.transition(Cancelling)
	case CmdReset:
		if e.state != Jammed {
			return reject(e.state, cmd, "not jammed")
		}
		e.transition(Home)
	case CmdHome:
		if e.state != Idle {
			return reject(e.state, cmd, "")
		}
		e.transition(Home)
	case CmdCalibrate:
		if e.state != Idle {
			return reject(e.state, cmd, "")
		}
		e.transition(Calibrating)
	case CmdExitCalibration:
		if e.state != Calibrating {
			return reject(e.state, cmd, "not calibrating")
		}
		e.transition(Home)
	default:
		return fmt.Errorf("printer: unknown command %d", int(cmd))
	}
	return nil
}

// StartJob starts printing job from Idle.
func (e *Engine) StartJob(job Job) error {
	if e.state != Idle {
		return reject(e.state, CmdStart, "")
	}
	if job.Layers <= 0 {
		return reject(e.state, CmdStart, "job has no layers")
	}
	e.active = job
	e.layer = 0
	e.transition(Preparing)
	return nil
}

func (e *Engine) transition(s State) {
	from := e.state
	e.state = s
	e.log.Info().Stringer("from", from).Stringer("to", s).Msg("transition")

	switch s {
	case Home, Idle:
		e.errCode, e.errMsg = status.NoError, ""
		e.active = Job{}
		e.layer = 0
	case Exposing:
		e.layer++
	case Cancelling:
		if e.active.Layers > 0 {
			e.errCode, e.errMsg = status.Cancelled, "job cancelled"
		}
	}
	e.publish(status.Entering)

	switch s {
	case Home:
		e.runPlan(func() { e.transition(Idle) }, e.homePlan()...)
	case Idle:
		if e.doorOpen {
			e.transition(DoorOpen)
		}
	case Calibrating:
		e.runPlan(nil,
			motor.NewHome(motor.BuildPlatform),
			e.move(motor.BuildPlatform, e.cfg.CalibrationSteps),
		)
	case Preparing:
		e.runPlan(func() { e.settle(func() { e.transition(Exposing) }) },
			motor.NewHome(motor.BuildPlatform),
			e.move(motor.BuildPlatform, e.cfg.StartSteps),
		)
	case Exposing:
		d := e.cfg.Exposure
		if e.layer == 1 && e.cfg.FirstExposure > 0 {
			d = e.cfg.FirstExposure
		}
		e.log.Info().Int("layer", e.layer).Dur("exposure", d).Msg("exposing")
		e.timers.Exposure.Arm(d)
	case Separating:
		e.runPlan(func() { e.transition(Approaching) },
			e.move(motor.ResinTray, e.cfg.SeparationSteps),
			e.move(motor.BuildPlatform, e.cfg.LiftSteps),
		)
	case Approaching:
		e.runPlan(func() { e.settle(e.nextLayer) },
			e.move(motor.ResinTray, -e.cfg.SeparationSteps),
			e.move(motor.BuildPlatform, -(e.cfg.LiftSteps - e.cfg.LayerSteps)),
		)
	case Pressing:
		e.runPlan(func() { e.transition(Exposing) },
			e.move(motor.BuildPlatform, -e.cfg.PressSteps),
			e.move(motor.BuildPlatform, e.cfg.PressSteps),
		)
	case Cancelling:
		e.stopJob()
		e.runPlan(func() { e.transition(Idle) },
			append([]motor.Command{motor.NewControl(motor.Reset)}, e.homePlan()...)...,
		)
	case JobComplete:
		e.transition(Idle)
	case Jammed:
		e.stopJob()
	}
}

func (e *Engine) nextLayer() {
	switch {
	case e.layer >= e.active.Layers:
		e.transition(JobComplete)
	case e.cfg.PressSteps > 0:
		e.transition(Pressing)
	default:
		e.transition(Exposing)
	}
}

func (e *Engine) homePlan() []motor.Command {
	// validated in NewEngine
	micro, _ := motor.NewMicrostepping(e.cfg.Microstepping)
	return []motor.Command{
		micro,
		motor.NewControl(motor.Enable),
		motor.NewHome(motor.ResinTray),
		motor.NewHome(motor.BuildPlatform),
	}
}

func (e *Engine) move(axis motor.Axis, steps int32) motor.Command {
	return motor.NewMove(axis, steps, e.cfg.StepRate)
}

func rotates(c motor.Command) bool {
	return c.Action == motor.MoveSteps && c.Axis == motor.ResinTray
}

// runPlan replaces the current motion plan. done runs once every command
// has completed.
func (e *Engine) runPlan(done func(), cmds ...motor.Command) {
	if e.pending != nil {
		e.motors.Abort()
		e.pending = nil
	}
	e.plan = cmds
	e.planDone = done
	e.step()
}

// step submits the next command of the plan. Nothing is submitted while
// paused or while a command is still in flight.
func (e *Engine) step() {
	if e.pending != nil || e.state == Paused {
		return
	}
	if len(e.plan) == 0 {
		done := e.planDone
		e.planDone = nil
		if done != nil {
			done()
		}
		return
	}

	cmd := e.plan[0]
	e.plan = e.plan[1:]
	if err := e.motors.Submit(cmd); err != nil {
		e.fault(status.MotorError, fmt.Sprintf("submit %s: %v", cmd, err))
		return
	}
	e.pending = &cmd
	e.rotated = false
}

func (e *Engine) settle(then func()) {
	if e.cfg.SettleDelay <= 0 {
		then()
		return
	}
	e.delayThen = then
	e.timers.Delay.Arm(e.cfg.SettleDelay)
}

// stopJob drops every pending motion and timer of the job.
func (e *Engine) stopJob() {
	e.timers.Exposure.Disarm()
	e.timers.Delay.Disarm()
	e.delayThen = nil
	e.plan = nil
	e.planDone = nil
	if e.pending != nil {
		e.motors.Abort()
		e.pending = nil
	}
}

func (e *Engine) fault(code status.ErrorCode, msg string) {
	e.log.Error().Stringer("code", code).Stringer("state", e.state).Msg(msg)
	e.errCode, e.errMsg = code, msg
	e.transition(Jammed)
}

// pause keeps any command in flight running but holds back the rest of the
// plan and the job timers.
func (e *Engine) pause() {
	e.pausedFrom = e.state
	e.pausedExposure, e.pausedDelay = 0, 0
	if e.state == Exposing {
		e.pausedExposure = e.timers.Exposure.Remaining()
		e.timers.Exposure.Disarm()
	}
	if e.delayThen != nil {
		e.pausedDelay = e.timers.Delay.Remaining()
		e.timers.Delay.Disarm()
	}
	e.transition(Paused)
}

func (e *Engine) resume() {
	e.state = e.pausedFrom
	e.log.Info().Stringer("to", e.state).Msg("resume")
	e.publish(status.Entering)

	if e.state == Exposing {
		e.timers.Exposure.Arm(e.pausedExposure)
	}
	if e.delayThen != nil {
		e.timers.Delay.Arm(e.pausedDelay)
	}
	e.step()
}

func (e *Engine) door(open bool) {
	if open == e.doorOpen {
		return
	}
	e.doorOpen = open
	e.log.Info().Bool("open", open).Msg("door")

	switch {
	case open && e.state.Printing():
		e.pause()
	case open && e.state == Idle:
		e.transition(DoorOpen)
	case !open && e.state == DoorOpen:
		e.transition(Idle)
	}
}

func (e *Engine) button() {
	var err error
	switch {
	case e.state.Printing():
		err = e.Handle(CmdPause)
	case e.state == Paused:
		err = e.Handle(CmdResume)
	case e.state == Jammed:
		err = e.Handle(CmdReset)
	}
	if err != nil {
		e.log.Warn().Err(err).Msg("button")
	}
}

func (e *Engine) sampleTemperature() {
	if e.thermo == nil {
		return
	}
	if e.cfg.TemperatureInterval > 0 {
		e.timers.Temperature.Arm(e.cfg.TemperatureInterval)
	}
	t, ok := e.thermo.Temperature()
	if !ok || t == e.temperature {
		return
	}
	e.temperature = t
	if math.Abs(t-e.last.Temperature) >= e.cfg.TemperatureThreshold {
		e.publish(status.None)
	}
}

// secondsLeft estimates the time for the layers not yet exposed.
func (e *Engine) secondsLeft() int {
	left := e.active.Layers - e.layer
	if left <= 0 {
		return 0
	}
	per := e.cfg.Exposure + e.cfg.MotionPerLayer
	return int((time.Duration(left) * per).Seconds())
}

func (e *Engine) publish(change status.Change) {
	e.push(status.PrinterStatus{
		State:        e.state.String(),
		Change:       change,
		IsError:      e.errCode != status.NoError,
		ErrorCode:    e.errCode,
		ErrorMessage: e.errMsg,
		Layer:        e.layer,
		TotalLayers:  e.active.Layers,
		SecondsLeft:  e.secondsLeft(),
		JobName:      e.active.Name,
		Temperature:  e.temperature,
	})
}

func (e *Engine) push(s status.PrinterStatus) {
	e.last = s
	if err := e.pub.Push(s); err != nil {
		e.log.Error().Err(err).Msg("publish status")
	}
}
