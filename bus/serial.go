package bus

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tarm/serial"
)

// Config holds serial port configuration.
type Config struct {
	// Device path (e.g., "/dev/ttyO1")
	Device string
	Baud   int
	// Bridge, when set, is the websocket URL of a serial-port-json-server
	// that owns Device.
	Bridge string
	// ReplyTimeout bounds each request; zero uses DefaultReplyTimeout.
	ReplyTimeout time.Duration
}

// Open opens the serial port to the motor controller.
func Open(cfg Config, log zerolog.Logger) (*Conn, error) {
	if cfg.Bridge != "" {
		b, err := DialBridge(cfg.Bridge, cfg.Device, cfg.Baud, log)
		if err != nil {
			return nil, err
		}
		log.Info().Str("bridge", cfg.Bridge).Str("device", cfg.Device).Msg("bridge connected")
		return NewConn(b, cfg.ReplyTimeout, log), nil
	}
	port, err := serial.OpenPort(&serial.Config{
		Name: cfg.Device,
		Baud: cfg.Baud,
	})
	if err != nil {
		return nil, fmt.Errorf("open serial port %s: %w", cfg.Device, err)
	}
	log.Info().Str("device", cfg.Device).Int("baud", cfg.Baud).Msg("serial port open")
	return NewConn(port, cfg.ReplyTimeout, log), nil
}
