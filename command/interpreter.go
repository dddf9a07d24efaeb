package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mastercactapus/gsla/event"
	"github.com/mastercactapus/gsla/printer"
	"github.com/mastercactapus/gsla/status"
	"github.com/rs/zerolog"
)

// StatusVerb asks for the latest snapshot to be delivered again.
const StatusVerb = "GETSTATUS"

// IsStatusQuery reports whether line is a status query.
func IsStatusQuery(line string) bool {
	fields := strings.Fields(line)
	return len(fields) > 0 && strings.EqualFold(fields[0], StatusVerb)
}

// Printer is what the interpreter routes commands to.
type Printer interface {
	Handle(cmd printer.Command) error
	StartJob(job printer.Job) error
	Status() status.PrinterStatus
	Republish()
}

// A Replier answers status queries for the one source it is set for.
type Replier interface {
	Reply(s status.PrinterStatus)
}

// Interpreter turns UICommand and Keyboard lines into printer commands.
type Interpreter struct {
	p        Printer
	log      zerolog.Logger
	repliers map[event.Type]Replier
}

var _ event.Subscriber = &Interpreter{}

func NewInterpreter(p Printer, log zerolog.Logger) *Interpreter {
	return &Interpreter{
		p:        p,
		log:      log.With().Str("component", "command").Logger(),
		repliers: make(map[event.Type]Replier),
	}
}

// SetReplier makes status queries arriving as t answer r only. Queries from
// a source without a replier republish the snapshot to every consumer.
func (in *Interpreter) SetReplier(t event.Type, r Replier) { in.repliers[t] = r }

func (in *Interpreter) HandleEvent(t event.Type, payload interface{}) {
	var line string
	switch v := payload.(type) {
	case string:
		line = v
	case []byte:
		line = string(v)
	default:
		in.log.Warn().Stringer("type", t).Msgf("unexpected payload %T", payload)
		return
	}
	if err := in.run(in.repliers[t], line); err != nil {
		in.log.Warn().Err(err).Stringer("source", t).Str("line", line).Msg("command rejected")
	}
}

// Execute runs one command line. Blank lines are ignored.
//
//	GETSTATUS
//	START [name layers]
//	PAUSE | RESUME | CANCEL | RESET | HOME | CALIBRATE | EXITCALIBRATION
func (in *Interpreter) Execute(line string) error { return in.run(nil, line) }

func (in *Interpreter) run(r Replier, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	verb := strings.ToUpper(fields[0])
	args := fields[1:]

	if verb == StatusVerb {
		if r != nil {
			r.Reply(in.p.Status())
			return nil
		}
		in.p.Republish()
		return nil
	}

	cmd, err := printer.ParseCommand(verb)
	if err != nil {
		return err
	}
	if cmd == printer.CmdStart && len(args) > 0 {
		job, err := parseJob(args)
		if err != nil {
			return err
		}
		return in.p.StartJob(job)
	}
	if len(args) > 0 {
		return fmt.Errorf("%s takes no arguments", verb)
	}
	return in.p.Handle(cmd)
}

func parseJob(args []string) (printer.Job, error) {
	if len(args) != 2 {
		return printer.Job{}, fmt.Errorf("usage: START <name> <layers>")
	}
	layers, err := strconv.Atoi(args[1])
	if err != nil || layers <= 0 {
		return printer.Job{}, fmt.Errorf("invalid layer count '%s'", args[1])
	}
	return printer.Job{Name: args[0], Layers: layers}, nil
}
