package logging

import (
	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
)

// EventLogger records every dispatched event and every source fault. It is
// subscribed ahead of everything else so its entries precede the effects of
// an event.
type EventLogger struct {
	log zerolog.Logger
}

var (
	_ event.Subscriber = &EventLogger{}
	_ event.FaultSink  = &EventLogger{}
)

func NewEventLogger(log zerolog.Logger) *EventLogger {
	return &EventLogger{log: log.With().Str("component", "events").Logger()}
}

func (l *EventLogger) HandleEvent(t event.Type, payload interface{}) {
	switch v := payload.(type) {
	case status.PrinterStatus:
		lvl := zerolog.InfoLevel
		if v.IsError {
			lvl = zerolog.ErrorLevel
		}
		l.log.WithLevel(lvl).
			Str("state", v.State).
			Stringer("change", v.Change).
			Int("layer", v.Layer).
			Int("layers", v.TotalLayers).
			Int("seconds_left", v.SecondsLeft).
			Str("error", v.ErrorMessage).
			Msg("status")
	case string:
		l.log.Info().Stringer("type", t).Str("command", v).Msg("event")
	case bool:
		l.log.Info().Stringer("type", t).Bool("value", v).Msg("event")
	default:
		// timers and motor interrupts are frequent
		l.log.Debug().Stringer("type", t).Msg("event")
	}
}

func (l *EventLogger) Fault(t event.Type, err error) {
	lvl := zerolog.WarnLevel
	if t.Essential() {
		lvl = zerolog.ErrorLevel
	}
	l.log.WithLevel(lvl).Err(err).Stringer("type", t).Bool("essential", t.Essential()).Msg("source failed")
}
