//go:build !linux

package hw

import (
	"errors"

	"github.com/mastercactapus/gsla/event"
	"github.com/rs/zerolog"
)

var errNoGPIO = errors.New("gpio: sysfs lines are only supported on linux")

// Line is unavailable on this platform.
type Line struct{}

var _ event.Source = &Line{}

func OpenLine(cfg LineConfig, log zerolog.Logger) (*Line, error) { return nil, errNoGPIO }

func (l *Line) Value() bool                { return false }
func (l *Line) Ready() <-chan struct{}     { return nil }
func (l *Line) Read() (interface{}, error) { return nil, errNoGPIO }
func (l *Line) Close() error               { return nil }
