package terminal

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
)

// Console prints one line per status snapshot.
type Console struct {
	w io.Writer
}

var _ event.Subscriber = &Console{}

func NewConsole(w io.Writer) *Console { return &Console{w: w} }

func (c *Console) HandleEvent(t event.Type, payload interface{}) {
	s, ok := payload.(status.PrinterStatus)
	if !ok {
		return
	}
	fmt.Fprintln(c.w, Format(s))
}

// Reply prints the answer to a status query typed at the keyboard.
func (c *Console) Reply(s status.PrinterStatus) { fmt.Fprintln(c.w, Format(s)) }

// Format renders s for a person at a terminal.
func Format(s status.PrinterStatus) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(s.Change.String()), s.State)
	if s.TotalLayers > 0 {
		fmt.Fprintf(&b, " %s layer %d/%d", s.JobName, s.Layer, s.TotalLayers)
		if s.SecondsLeft > 0 {
			fmt.Fprintf(&b, " %dm%02ds left", s.SecondsLeft/60, s.SecondsLeft%60)
		}
	}
	if s.Temperature != 0 {
		fmt.Fprintf(&b, " %.1fC", s.Temperature)
	}
	if s.IsError {
		fmt.Fprintf(&b, " ERROR %d: %s", s.ErrorCode, s.ErrorMessage)
	}
	return b.String()
}

// ReadLines pushes every non-empty line of r to q until r is exhausted, then
// closes q.
func ReadLines(r io.Reader, q *event.Queue, log zerolog.Logger) {
	defer q.Close()
	s := bufio.NewScanner(r)
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		if err := q.Push(line); err != nil {
			log.Warn().Err(err).Str("line", line).Msg("dropped keyboard command")
		}
	}
	if err := s.Err(); err != nil {
		log.Error().Err(err).Msg("read stdin")
	}
}
