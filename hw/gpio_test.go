package hw

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExport(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "gpio48")
	require.NoError(t, os.Mkdir(dir, 0755))

	name, err := export(LineConfig{Number: 48, ActiveLow: true, Root: root})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "value"), name)

	for attr, want := range map[string]string{"direction": "in", "edge": "both", "active_low": "1"} {
		data, err := os.ReadFile(filepath.Join(dir, attr))
		require.NoError(t, err)
		assert.Equal(t, want, string(data), attr)
	}

	// not yet exported: the number is written to the export file first,
	// which a plain directory cannot turn into a gpio directory
	_, err = export(LineConfig{Number: 7, Root: root})
	assert.Error(t, err)
	data, err := os.ReadFile(filepath.Join(root, "export"))
	require.NoError(t, err)
	assert.Equal(t, "7", string(data))
}

func TestParseValue(t *testing.T) {
	v, err := parseValue([]byte("1\n"))
	require.NoError(t, err)
	assert.True(t, v)
	v, err = parseValue([]byte("0\n"))
	require.NoError(t, err)
	assert.False(t, v)
	_, err = parseValue(nil)
	assert.Error(t, err)
	_, err = parseValue([]byte("x"))
	assert.Error(t, err)
}

func TestDebouncer(t *testing.T) {
	t0 := time.Unix(1000, 0)
	at := func(ms int) time.Time { return t0.Add(time.Duration(ms) * time.Millisecond) }
	d := debouncer{window: 20 * time.Millisecond}

	assert.True(t, d.sample(true, at(0)), "door opened")
	_, pending := d.wait(at(0))
	assert.False(t, pending)

	// closed again inside the window
	assert.False(t, d.sample(false, at(5)))
	assert.True(t, d.value)
	w, pending := d.wait(at(5))
	assert.True(t, pending)
	assert.Equal(t, 15*time.Millisecond, w)
	w, pending = d.wait(at(25))
	assert.True(t, pending)
	assert.Zero(t, w)

	// the reading at the end of the window reports the close
	assert.True(t, d.sample(false, at(25)))
	assert.False(t, d.value)
	_, pending = d.wait(at(25))
	assert.False(t, pending)

	// a bounce back to the reported value inside the window is dropped
	assert.False(t, d.sample(true, at(30)))
	assert.False(t, d.sample(false, at(32)))
	_, pending = d.wait(at(32))
	assert.False(t, pending)
	assert.False(t, d.value)

	d = debouncer{}
	assert.True(t, d.sample(true, at(0)))
	assert.True(t, d.sample(false, at(0)))
}
