package event

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/rs/zerolog"
)

var (
	ErrDuplicateSource = errors.New("event: source already registered")
	ErrUnknownType     = errors.New("event: unknown event type")
	ErrSourceClosed    = errors.New("event: source closed")

	ErrUncomparableSubscriber = errors.New("event: subscriber is not comparable")
)

// A Source is a waitable handle plus the reader of its payload.
//
// Ready must return the same channel on every call. A receive on it means
// Read has a payload available.
type Source interface {
	Ready() <-chan struct{}
	Read() (interface{}, error)
}

// A Subscriber receives every event of the types it subscribed to.
type Subscriber interface {
	HandleEvent(t Type, payload interface{})
}

// A FaultSink is told about source read failures.
type FaultSink interface {
	Fault(t Type, err error)
}

// FaultFunc adapts a function to a FaultSink.
type FaultFunc func(t Type, err error)

func (fn FaultFunc) Fault(t Type, err error) { fn(t, err) }

// Multiplexer waits on a set of sources and dispatches their payloads to
// subscribers, one event at a time, on the goroutine that calls Run.
//
// Registration and subscription are not safe for concurrent use; do them
// before Run or from within a subscriber.
type Multiplexer struct {
	log    zerolog.Logger
	faults FaultSink

	sources     [numTypes]Source
	subscribers [numTypes][]Subscriber

	cases []reflect.SelectCase
	types []Type
	dirty bool
}

func NewMultiplexer(log zerolog.Logger, faults FaultSink) *Multiplexer {
	if faults == nil {
		faults = FaultFunc(func(Type, error) {})
	}
	return &Multiplexer{
		log:    log.With().Str("component", "events").Logger(),
		faults: faults,
		dirty:  true,
	}
}

// RegisterSource binds src to t. Each type has at most one source.
func (m *Multiplexer) RegisterSource(t Type, src Source) error {
	if !t.Valid() {
		return fmt.Errorf("register %s: %w", t, ErrUnknownType)
	}
	if m.sources[t] != nil {
		return fmt.Errorf("register %s: %w", t, ErrDuplicateSource)
	}
	m.sources[t] = src
	m.dirty = true
	return nil
}

// Subscribe appends s to the subscribers of t. Subscribing a subscriber that
// is already registered for t is a no-op, so s still runs once per event at
// its original position. Subscribers must be comparable (pointers, usually);
// others are rejected with ErrUncomparableSubscriber.
func (m *Multiplexer) Subscribe(t Type, s Subscriber) error {
	if !t.Valid() {
		return fmt.Errorf("subscribe %s: %w", t, ErrUnknownType)
	}
	if s == nil {
		return fmt.Errorf("subscribe %s: nil subscriber", t)
	}
	if !reflect.ValueOf(s).Comparable() {
		return fmt.Errorf("subscribe %s: %T: %w", t, s, ErrUncomparableSubscriber)
	}
	for _, existing := range m.subscribers[t] {
		if existing == s {
			return nil
		}
	}
	m.subscribers[t] = append(m.subscribers[t], s)
	return nil
}

// Subscribers returns the number of subscribers registered for t.
func (m *Multiplexer) Subscribers(t Type) int {
	if !t.Valid() {
		return 0
	}
	return len(m.subscribers[t])
}

// Run waits for and dispatches events until ctx is done or an essential
// source fails.
func (m *Multiplexer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := m.dispatchUrgent(-1)
		if err != nil {
			return err
		}
		if handled {
			continue
		}

		if m.dirty {
			m.rebuild()
		}
		m.cases[0].Chan = reflect.ValueOf(ctx.Done())
		chosen, _, _ := reflect.Select(m.cases)
		if chosen == 0 {
			return ctx.Err()
		}
		t := m.types[chosen]

		// the select consumed t's readiness, so dispatchUrgent is told about
		// it; anything urgent that became ready alongside t keeps its order
		if _, err = m.dispatchUrgent(t); err != nil {
			return err
		}
		if !t.urgent() {
			if err = m.dispatch(t); err != nil {
				return err
			}
		}
	}
}

// Drain dispatches every payload of t that is ready right now, without
// blocking. It is used to flush status snapshots after Run has returned.
func (m *Multiplexer) Drain(t Type) error {
	if !t.Valid() || m.sources[t] == nil {
		return nil
	}
	for m.sources[t] != nil && m.poll(t) {
		if err := m.dispatch(t); err != nil {
			return err
		}
	}
	return nil
}

func (m *Multiplexer) poll(t Type) bool {
	select {
	case <-m.sources[t].Ready():
		return true
	default:
		return false
	}
}

// dispatchUrgent dispatches every ready urgent type in priority order.
// selected, if urgent, is treated as ready without polling.
func (m *Multiplexer) dispatchUrgent(selected Type) (bool, error) {
	var handled bool
	for _, t := range urgent {
		if m.sources[t] == nil {
			continue
		}
		if t != selected && !m.poll(t) {
			continue
		}
		handled = true
		if err := m.dispatch(t); err != nil {
			return handled, err
		}
	}
	return handled, nil
}

func (m *Multiplexer) dispatch(t Type) error {
	payload, err := m.sources[t].Read()
	if err != nil {
		return m.readFailed(t, err)
	}
	for _, s := range m.subscribers[t] {
		s.HandleEvent(t, payload)
	}
	return nil
}

func (m *Multiplexer) readFailed(t Type, err error) error {
	m.faults.Fault(t, err)
	if errors.Is(err, ErrSourceClosed) {
		m.log.Warn().Stringer("type", t).Msg("source closed, removing")
		m.sources[t] = nil
		m.dirty = true
	}
	if t.Essential() {
		return fmt.Errorf("event: essential source %s failed: %w", t, err)
	}
	return nil
}

func (m *Multiplexer) rebuild() {
	m.cases = m.cases[:0]
	m.types = m.types[:0]

	// index 0 is reserved for ctx.Done()
	m.cases = append(m.cases, reflect.SelectCase{Dir: reflect.SelectRecv})
	m.types = append(m.types, -1)
	for t, src := range m.sources {
		if src == nil {
			continue
		}
		m.cases = append(m.cases, reflect.SelectCase{
			Dir:  reflect.SelectRecv,
			Chan: reflect.ValueOf(src.Ready()),
		})
		m.types = append(m.types, Type(t))
	}
	m.dirty = false
}
