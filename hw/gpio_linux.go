package hw

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mastercactapus/gsla/event"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

// Line is an event source for a sysfs GPIO input. Each change of the line
// is delivered as a bool payload.
type Line struct {
	cfg  LineConfig
	f    *os.File
	epfd int
	log  zerolog.Logger

	q    *event.Queue
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	mx  sync.Mutex
	deb debouncer
}

var _ event.Source = &Line{}

// OpenLine exports and configures the line and starts watching it for edges.
func OpenLine(cfg LineConfig, log zerolog.Logger) (*Line, error) {
	name, err := export(cfg)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("gpio: open value: %w", err)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gpio: epoll create: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLPRI | unix.EPOLLERR, Fd: int32(f.Fd())}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(f.Fd()), &ev); err != nil {
		unix.Close(epfd)
		f.Close()
		return nil, fmt.Errorf("gpio: epoll add: %w", err)
	}

	l := &Line{
		cfg:  cfg,
		f:    f,
		epfd: epfd,
		log:  log.With().Str("component", "gpio").Int("line", cfg.Number).Logger(),
		q:    event.NewQueue(64),
		done: make(chan struct{}),
	}
	l.deb = debouncer{window: cfg.Debounce}
	l.deb.value, err = l.readValue()
	if err != nil {
		l.Close()
		return nil, err
	}

	l.wg.Add(1)
	go l.loop()
	return l, nil
}

func (l *Line) readValue() (bool, error) {
	buf := make([]byte, 2)
	if _, err := l.f.Seek(0, io.SeekStart); err != nil {
		return false, err
	}
	n, err := l.f.Read(buf)
	if err != nil && err != io.EOF {
		return false, err
	}
	return parseValue(buf[:n])
}

// Value returns the last reported value of the line.
func (l *Line) Value() bool {
	l.mx.Lock()
	defer l.mx.Unlock()
	return l.deb.value
}

func (l *Line) Ready() <-chan struct{}     { return l.q.Ready() }
func (l *Line) Read() (interface{}, error) { return l.q.Read() }

const pollInterval = 100 * time.Millisecond

func (l *Line) loop() {
	defer l.wg.Done()
	events := make([]unix.EpollEvent, 1)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		// bounded so Close is noticed, shorter when a held back change is due
		timeout := pollInterval
		l.mx.Lock()
		w, pending := l.deb.wait(time.Now())
		l.mx.Unlock()
		if pending && w < timeout {
			timeout = max(w, time.Millisecond)
		}
		n, err := unix.EpollWait(l.epfd, events, int((timeout+time.Millisecond-1)/time.Millisecond))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			l.log.Error().Err(err).Msg("epoll wait")
			l.q.Close()
			return
		}
		if n == 0 && !pending {
			continue
		}

		v, err := l.readValue()
		if err != nil {
			l.log.Warn().Err(err).Msg("read value")
			continue
		}
		l.mx.Lock()
		changed := l.deb.sample(v, time.Now())
		l.mx.Unlock()
		if !changed {
			continue
		}
		if err := l.q.Push(v); err != nil {
			l.log.Warn().Err(err).Bool("value", v).Msg("dropped edge")
		}
	}
}

// Close stops watching the line. The source reports event.ErrSourceClosed
// once drained.
func (l *Line) Close() error {
	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()
		unix.Close(l.epfd)
		l.f.Close()
		l.q.Close()
	})
	return nil
}
