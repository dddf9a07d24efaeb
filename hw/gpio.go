package hw

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// DefaultGPIORoot is the sysfs GPIO class directory.
const DefaultGPIORoot = "/sys/class/gpio"

// LineConfig selects and configures one input line.
type LineConfig struct {
	Number int
	// ActiveLow inverts the value so that "asserted" reads as true.
	ActiveLow bool
	// Root defaults to DefaultGPIORoot.
	Root string
	// Debounce holds back changes that arrive sooner than this after the
	// last reported change; the line is read again once the window ends.
	Debounce time.Duration
}

func (cfg LineConfig) root() string {
	if cfg.Root == "" {
		return DefaultGPIORoot
	}
	return cfg.Root
}

func writeAttr(dir, name, value string) error {
	err := os.WriteFile(filepath.Join(dir, name), []byte(value), 0644)
	if err != nil {
		return fmt.Errorf("gpio: write %s: %w", name, err)
	}
	return nil
}

// export makes the line available and configures it as an input reporting
// both edges. It returns the path of the value file.
func export(cfg LineConfig) (string, error) {
	dir := filepath.Join(cfg.root(), "gpio"+strconv.Itoa(cfg.Number))
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if err := writeAttr(cfg.root(), "export", strconv.Itoa(cfg.Number)); err != nil {
			return "", err
		}
	}

	activeLow := "0"
	if cfg.ActiveLow {
		activeLow = "1"
	}
	for _, attr := range [][2]string{
		{"direction", "in"},
		{"edge", "both"},
		{"active_low", activeLow},
	} {
		if err := writeAttr(dir, attr[0], attr[1]); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, "value"), nil
}

func parseValue(data []byte) (bool, error) {
	if len(data) == 0 {
		return false, errors.New("gpio: empty value")
	}
	switch data[0] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	}
	return false, fmt.Errorf("gpio: invalid value %q", data)
}

// debouncer decides which readings of a line are reported.
type debouncer struct {
	window time.Duration
	value  bool
	last   time.Time
	// recheck is when a held back change must be read again.
	recheck time.Time
}

// sample feeds a reading taken at now and reports whether it is a change to
// publish. A change inside the window is held back until wait says the line
// is due for another reading.
func (d *debouncer) sample(v bool, now time.Time) bool {
	d.recheck = time.Time{}
	if v == d.value {
		return false
	}
	if end := d.last.Add(d.window); now.Before(end) {
		d.recheck = end
		return false
	}
	d.value = v
	d.last = now
	return true
}

// wait returns how long until the line has to be read again, and false if
// no change is held back.
func (d *debouncer) wait(now time.Time) (time.Duration, bool) {
	if d.recheck.IsZero() {
		return 0, false
	}
	if w := d.recheck.Sub(now); w > 0 {
		return w, true
	}
	return 0, true
}
