package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_File(t *testing.T) {
	name := filepath.Join(t.TempDir(), "gsla.log")
	log, closer, err := New(Options{Level: "debug", File: name, MaxSize: 1})
	require.NoError(t, err)
	log.Debug().Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestNew_Level(t *testing.T) {
	var buf bytes.Buffer
	log, _, err := New(Options{Level: "nope", Console: &buf})
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	assert.Contains(t, buf.String(), "invalid log level")
}

func TestEventLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewEventLogger(zerolog.New(&buf))

	l.HandleEvent(event.PrinterStatusUpdate, status.PrinterStatus{State: "Jammed", IsError: true, ErrorMessage: "stuck"})
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"state":"Jammed"`)
	buf.Reset()

	l.HandleEvent(event.Keyboard, "PAUSE")
	assert.Contains(t, buf.String(), `"command":"PAUSE"`)
	buf.Reset()

	l.Fault(event.DoorInterrupt, errors.New("gone"))
	assert.Contains(t, buf.String(), `"essential":true`)
}
