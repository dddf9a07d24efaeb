package bus

import (
	"testing"
	"time"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/motor"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitReady(t *testing.T, src event.Source) {
	t.Helper()
	select {
	case <-src.Ready():
	case <-time.After(time.Second):
		t.Fatal("source never became ready")
	}
}

func TestSim_Motion(t *testing.T) {
	s := NewSim(SimConfig{Scale: 0.001, HomeDuration: time.Second}, zerolog.Nop())
	defer s.Close()

	frame, _ := motor.NewMove(motor.ResinTray, 800, 800).Frame()
	require.NoError(t, s.WriteFrame(frame))
	st, err := s.ReadRegister(motor.StatusRegister)
	require.NoError(t, err)
	assert.Equal(t, motor.StatusBusy, st)

	waitReady(t, s.Interrupts())
	_, err = s.Interrupts().Read()
	require.NoError(t, err)
	st, _ = s.ReadRegister(motor.StatusRegister)
	assert.Equal(t, motor.StatusCompleted, st)

	_, err = s.Rotations().Read()
	assert.NoError(t, err, "tray move pulses the rotation sensor")
	assert.Len(t, s.Frames(), 1)
}

func TestSim_Faults(t *testing.T) {
	s := NewSim(SimConfig{}, zerolog.Nop())
	defer s.Close()
	home, _ := motor.NewHome(motor.BuildPlatform).Frame()

	s.FailNext(0x42)
	require.NoError(t, s.WriteFrame(home))
	waitReady(t, s.Interrupts())
	s.Interrupts().Read()
	st, _ := s.ReadRegister(motor.StatusRegister)
	assert.Equal(t, byte(0x42), st)

	s.DropNext(1)
	assert.Error(t, s.WriteFrame(home))
	time.Sleep(10 * time.Millisecond)
	_, err := s.Interrupts().Read()
	assert.Error(t, err, "dropped frame never completes")

	s.JamNext()
	move, _ := motor.NewMove(motor.ResinTray, 10, 1000).Frame()
	require.NoError(t, s.WriteFrame(move))
	waitReady(t, s.Interrupts())
	_, err = s.Rotations().Read()
	assert.Error(t, err)

	_, err = s.Interrupts().Read()
	require.NoError(t, err)
	assert.Error(t, s.WriteFrame([]byte{0x99}))
}
