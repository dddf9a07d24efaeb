package printer

import (
	"context"
	"testing"
	"time"

	"github.com/mastercactapus/gsla/bus"
	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/motor"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type subscriberFunc struct {
	fn func(t event.Type, payload interface{})
}

func (s *subscriberFunc) HandleEvent(t event.Type, payload interface{}) { s.fn(t, payload) }

// TestEngine_Simulated runs a whole job through the event loop against the
// simulated controller.
func TestEngine_Simulated(t *testing.T) {
	log := zerolog.Nop()
	sim := bus.NewSim(bus.SimConfig{Scale: 0.5, HomeDuration: 10 * time.Millisecond}, log)
	defer sim.Close()

	motorTimer := event.NewTimer()
	mcfg := motor.DefaultConfig()
	mcfg.TimeoutMargin = time.Second
	mcfg.HomeAllowance = 100 * time.Millisecond
	ctrl := motor.NewController(sim, motorTimer, mcfg, log)
	require.NoError(t, ctrl.Initialize())

	timers := Timers{Exposure: event.NewTimer(), Delay: event.NewTimer(), Temperature: event.NewTimer()}
	statusQ := event.NewQueue(0)
	cmdQ := event.NewQueue(0)

	cfg := DefaultSettings()
	cfg.Exposure = 2 * time.Millisecond
	cfg.FirstExposure = 5 * time.Millisecond
	cfg.SettleDelay = time.Millisecond
	cfg.StepRate = 20000
	cfg.DetectJams = true
	e, err := NewEngine(ctrl, timers, statusQ, nil, cfg, Job{Name: "sim", Layers: 3}, log)
	require.NoError(t, err)
	ctrl.SetOutcomeHandler(e)

	m := event.NewMultiplexer(log, nil)
	require.NoError(t, m.RegisterSource(event.MotorInterrupt, sim.Interrupts()))
	require.NoError(t, m.RegisterSource(event.RotationInterrupt, sim.Rotations()))
	require.NoError(t, m.RegisterSource(event.MotorTimeout, motorTimer))
	require.NoError(t, m.RegisterSource(event.ExposureEnd, timers.Exposure.(*event.Timer)))
	require.NoError(t, m.RegisterSource(event.DelayEnd, timers.Delay.(*event.Timer)))
	require.NoError(t, m.RegisterSource(event.PrinterStatusUpdate, statusQ))
	require.NoError(t, m.RegisterSource(event.UICommand, cmdQ))

	require.NoError(t, m.Subscribe(event.MotorInterrupt, ctrl))
	require.NoError(t, m.Subscribe(event.MotorTimeout, ctrl))
	for _, typ := range []event.Type{event.RotationInterrupt, event.ExposureEnd, event.DelayEnd} {
		require.NoError(t, m.Subscribe(typ, e))
	}
	require.NoError(t, m.Subscribe(event.UICommand, &subscriberFunc{func(_ event.Type, payload interface{}) {
		assert.NoError(t, e.Handle(payload.(Command)))
	}}))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var seen []status.PrinterStatus
	var started bool
	require.NoError(t, m.Subscribe(event.PrinterStatusUpdate, &subscriberFunc{func(_ event.Type, payload interface{}) {
		s := payload.(status.PrinterStatus)
		seen = append(seen, s)
		switch {
		case s.State == "Idle" && !started:
			started = true
			assert.NoError(t, cmdQ.Push(CmdStart))
		case s.State == "Idle", s.State == "Jammed":
			cancel()
		}
	}}))

	e.Begin()
	err = m.Run(ctx)
	assert.Equal(t, context.Canceled, err)

	var states []string
	for _, s := range seen {
		assert.False(t, s.IsError, "%s", s)
		states = append(states, s.State)
	}
	assert.Equal(t, []string{
		"Home", "Idle",
		"Preparing",
		"Exposing", "Separating", "Approaching",
		"Exposing", "Separating", "Approaching",
		"Exposing", "Separating", "Approaching",
		"JobComplete", "Idle",
	}, states)
	assert.False(t, ctrl.Busy())
}
