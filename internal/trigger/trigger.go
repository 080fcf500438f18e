// Package trigger turns a noisy digital level into clean start/stop edges.
package trigger

import (
	"sync/atomic"
	"time"
)

// DefaultDelay is how long a level must hold before it counts.
const DefaultDelay = 50 * time.Millisecond

// Input reports the raw level of a digital line, true meaning active.
type Input interface {
	Level() bool
}

// Debouncer reports a change only after the raw level has stayed put for
// longer than Delay. Toggling faster than that produces no change at all.
type Debouncer struct {
	in    Input
	delay time.Duration

	lastReading bool
	lastChange  time.Time
	stable      bool
}

// NewDebouncer watches in. A non-positive delay selects DefaultDelay.
func NewDebouncer(in Input, delay time.Duration) *Debouncer {
	if delay <= 0 {
		delay = DefaultDelay
	}
	return &Debouncer{in: in, delay: delay}
}

// Poll samples the input at now and reports whether the stable level
// changed on this call.
func (d *Debouncer) Poll(now time.Time) bool {
	reading := d.in.Level()
	if reading != d.lastReading {
		d.lastChange = now
		d.lastReading = reading
	}

	if now.Sub(d.lastChange) > d.delay && reading != d.stable {
		d.stable = reading
		return true
	}
	return false
}

// Pressed returns the debounced level.
func (d *Debouncer) Pressed() bool { return d.stable }

// Switch is a software button safe for use from any goroutine. The HTTP API
// and the demo runner drive it; the recorder loop reads it.
type Switch struct {
	level atomic.Bool
}

func (s *Switch) Press()      { s.level.Store(true) }
func (s *Switch) Release()    { s.level.Store(false) }
func (s *Switch) Set(on bool) { s.level.Store(on) }
func (s *Switch) Level() bool { return s.level.Load() }

// Func adapts a plain function to Input.
type Func func() bool

func (f Func) Level() bool { return f() }
