package hw

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Thermometer polls a sysfs temperature file in the background so the event
// loop only ever reads a cached value.
//
// Both the 1-wire w1_slave format and plain millidegree files (thermal zones,
// hwmon) are understood.
type Thermometer struct {
	path     string
	interval time.Duration
	log      zerolog.Logger

	mx    sync.Mutex
	value float64
	ok    bool

	done chan struct{}
	once sync.Once
}

func NewThermometer(path string, interval time.Duration, log zerolog.Logger) *Thermometer {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := &Thermometer{
		path:     path,
		interval: interval,
		log:      log.With().Str("component", "thermometer").Str("path", path).Logger(),
		done:     make(chan struct{}),
	}
	t.poll()
	go t.loop()
	return t
}

// Temperature returns the last reading in degrees Celsius. ok is false until
// a reading succeeds, or after the most recent one failed.
func (t *Thermometer) Temperature() (float64, bool) {
	t.mx.Lock()
	defer t.mx.Unlock()
	return t.value, t.ok
}

func (t *Thermometer) Close() {
	t.once.Do(func() { close(t.done) })
}

func (t *Thermometer) loop() {
	tick := time.NewTicker(t.interval)
	defer tick.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-tick.C:
			t.poll()
		}
	}
}

func (t *Thermometer) poll() {
	data, err := os.ReadFile(t.path)
	var v float64
	if err == nil {
		v, err = parseTemperature(data)
	}

	t.mx.Lock()
	wasOK := t.ok
	t.ok = err == nil
	if err == nil {
		t.value = v
	}
	t.mx.Unlock()

	if err != nil && wasOK {
		t.log.Warn().Err(err).Msg("read temperature")
	}
}

var errCRC = errors.New("temperature: crc check failed")

func parseTemperature(data []byte) (float64, error) {
	data = bytes.TrimSpace(data)
	if i := bytes.Index(data, []byte("t=")); i >= 0 {
		if bytes.Contains(data, []byte("crc=")) && !bytes.Contains(data, []byte("YES")) {
			return 0, errCRC
		}
		data = data[i+2:]
	}
	milli, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("temperature: %w", err)
	}
	return float64(milli) / 1000, nil
}
