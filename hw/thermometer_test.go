package hw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemperature(t *testing.T) {
	v, err := parseTemperature([]byte("72 01 4b 46 7f ff 0e 10 57 : crc=57 YES\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"))
	require.NoError(t, err)
	assert.Equal(t, 23.125, v)

	v, err = parseTemperature([]byte("-1500\n"))
	require.NoError(t, err)
	assert.Equal(t, -1.5, v)

	_, err = parseTemperature([]byte("72 01 4b 46 7f ff 0e 10 57 : crc=57 NO\n72 01 4b 46 7f ff 0e 10 57 t=23125\n"))
	assert.Equal(t, errCRC, err)

	_, err = parseTemperature([]byte("warm"))
	assert.Error(t, err)
}

func TestThermometer(t *testing.T) {
	name := filepath.Join(t.TempDir(), "temp")
	th := NewThermometer(name, 5*time.Millisecond, zerolog.Nop())
	defer th.Close()

	_, ok := th.Temperature()
	assert.False(t, ok)

	require.NoError(t, os.WriteFile(name, []byte("24500\n"), 0644))
	require.Eventually(t, func() bool {
		v, ok := th.Temperature()
		return ok && v == 24.5
	}, time.Second, 5*time.Millisecond)
}
