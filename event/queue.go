package event

import (
	"errors"
	"sync"
)

var ErrQueueFull = errors.New("event: queue full")

// Queue is a Source fed by Push. It is how goroutines outside the run loop
// (network handlers, stdin readers, serial readers) hand payloads to it, and
// how subscribers post events for later dispatch.
type Queue struct {
	mx     sync.Mutex
	items  []interface{}
	limit  int
	closed bool
	ready  chan struct{}
}

var _ Source = &Queue{}

// NewQueue creates a Queue holding at most limit payloads. A limit of zero
// means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

func (q *Queue) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Push appends v. It never blocks; a full queue returns ErrQueueFull.
func (q *Queue) Push(v interface{}) error {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed {
		return ErrSourceClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		return ErrQueueFull
	}
	q.items = append(q.items, v)
	q.signal()
	return nil
}

// Close makes the queue report ErrSourceClosed once drained.
func (q *Queue) Close() {
	q.mx.Lock()
	defer q.mx.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.signal()
}

func (q *Queue) Len() int {
	q.mx.Lock()
	defer q.mx.Unlock()
	return len(q.items)
}

func (q *Queue) Ready() <-chan struct{} { return q.ready }

// Read pops the oldest payload.
func (q *Queue) Read() (interface{}, error) {
	q.mx.Lock()
	defer q.mx.Unlock()
	if len(q.items) == 0 {
		if q.closed {
			return nil, ErrSourceClosed
		}
		return nil, errors.New("event: queue empty")
	}
	v := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) > 0 || q.closed {
		q.signal()
	}
	return v, nil
}
