package event

import (
	"sync"
	"time"
)

// Timer is a single-shot Source that becomes ready when its deadline passes.
//
// Arm replaces any earlier deadline and Disarm cancels it; in both cases an
// expiry that has not been read yet is discarded, so a subscriber that
// rearms or disarms from inside the run loop never sees a stale event.
type Timer struct {
	mx       sync.Mutex
	t        *time.Timer
	gen      uint64
	armed    bool
	deadline time.Time
	fired    time.Time
	ready    chan struct{}
}

var _ Source = &Timer{}

func NewTimer() *Timer {
	return &Timer{ready: make(chan struct{}, 1)}
}

func (t *Timer) Arm(d time.Duration) {
	if d < 0 {
		d = 0
	}
	t.mx.Lock()
	defer t.mx.Unlock()
	t.stopLocked()
	gen := t.gen
	t.armed = true
	t.deadline = time.Now().Add(d)
	t.t = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Timer) Disarm() {
	t.mx.Lock()
	defer t.mx.Unlock()
	t.stopLocked()
}

func (t *Timer) stopLocked() {
	if t.t != nil {
		t.t.Stop()
		t.t = nil
	}
	t.gen++
	t.armed = false
	select {
	case <-t.ready:
	default:
	}
}

func (t *Timer) fire(gen uint64) {
	t.mx.Lock()
	defer t.mx.Unlock()
	if gen != t.gen || !t.armed {
		return
	}
	t.armed = false
	t.fired = time.Now()
	select {
	case t.ready <- struct{}{}:
	default:
	}
}

// Armed reports whether a deadline is pending.
func (t *Timer) Armed() bool {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.armed
}

// Remaining returns the time left until the deadline, or zero if the timer
// is not armed.
func (t *Timer) Remaining() time.Duration {
	t.mx.Lock()
	defer t.mx.Unlock()
	if !t.armed {
		return 0
	}
	if d := time.Until(t.deadline); d > 0 {
		return d
	}
	return 0
}

func (t *Timer) Ready() <-chan struct{} { return t.ready }

// Read returns the time the timer fired.
func (t *Timer) Read() (interface{}, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.fired, nil
}
