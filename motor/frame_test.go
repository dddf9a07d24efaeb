package motor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommand_Frame(t *testing.T) {
	frame, err := NewMove(ResinTray, -2, 1000).Frame()
	require.NoError(t, err)
	assert.Equal(t, []byte{TrayRegister, wireMove, 0xfe, 0xff, 0xff, 0xff, 0xe8, 0x03, 0, 0}, frame)

	frame, err = NewHome(BuildPlatform).Frame()
	require.NoError(t, err)
	assert.Equal(t, []byte{PlatformRegister, wireHome}, frame)

	_, err = Command{Action: SetMicrostepping, Mode: 0}.Frame()
	assert.ErrorIs(t, err, ErrInvalidMode)

	_, err = Command{Axis: Axis(7), Action: Home}.Frame()
	assert.Error(t, err)
}

func TestParseFrame(t *testing.T) {
	move := NewMove(BuildPlatform, 1234, 800)
	frame, err := move.Frame()
	require.NoError(t, err)
	parsed, err := ParseFrame(frame)
	require.NoError(t, err)
	assert.True(t, move.Same(parsed))

	for _, bad := range [][]byte{
		nil,
		{GeneralRegister},
		{GeneralRegister, 0x7f},
		{PlatformRegister, wireMove, 1, 2},
		{0x55, wireHome},
	} {
		_, err = ParseFrame(bad)
		assert.Error(t, err, "%x", bad)
	}
}

func TestCommand_Estimate(t *testing.T) {
	assert.Equal(t, int64(2), int64(NewMove(ResinTray, -1600, 800).estimate(0).Seconds()))
	assert.Zero(t, NewMove(ResinTray, 100, 0).estimate(0))
	assert.Equal(t, "home tray", NewHome(ResinTray).String())
	assert.Equal(t, "move platform 10@20", NewMove(BuildPlatform, 10, 20).String())
}
