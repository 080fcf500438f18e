// Package indicator signals recorder progress to the outside world: a
// status LED timeline, an MQTT topic and the daemon's event stream.
package indicator

import (
	"sync"
	"time"
)

// Pattern is a signaling pattern the recorder can request.
type Pattern int

const (
	Idle Pattern = iota
	Ready
	Recording
	Uploading
	Success
	Failure
	SOS
)

var patternNames = [...]string{
	Idle:      "idle",
	Ready:     "ready",
	Recording: "recording",
	Uploading: "uploading",
	Success:   "success",
	Failure:   "failure",
	SOS:       "sos",
}

func (p Pattern) String() string {
	if p < 0 || int(p) >= len(patternNames) {
		return "unknown"
	}
	return patternNames[p]
}

// ParsePattern is the inverse of String.
func ParsePattern(s string) (Pattern, bool) {
	for i, name := range patternNames {
		if name == s {
			return Pattern(i), true
		}
	}
	return Idle, false
}

// Indicator accepts pattern changes. Set must not block for long; it is
// called from the recorder's tick.
type Indicator interface {
	Set(p Pattern)
}

// Func adapts a function to Indicator.
type Func func(Pattern)

func (f Func) Set(p Pattern) { f(p) }

// Multi fans a pattern out to several indicators in order.
type Multi []Indicator

func (m Multi) Set(p Pattern) {
	for _, ind := range m {
		if ind != nil {
			ind.Set(p)
		}
	}
}

// sequence is an on/off timeline. steps alternate starting with "on".
type sequence struct {
	solid  bool
	steps  []time.Duration
	repeat bool
}

func ms(v ...int) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, n := range v {
		out[i] = time.Duration(n) * time.Millisecond
	}
	return out
}

var sequences = map[Pattern]sequence{
	Idle:      {},
	Ready:     {steps: ms(100, 100, 100, 100, 100, 100)},
	Recording: {solid: true},
	Uploading: {steps: ms(50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50, 50)},
	Success:   {steps: ms(200, 200, 200, 200)},
	Failure:   {steps: ms(1000)},
	SOS:       {steps: ms(100, 100, 100, 400, 100, 100, 100, 1000), repeat: true},
}

// levelAt returns the LED level elapsed into seq.
func (s sequence) levelAt(elapsed time.Duration) bool {
	if s.solid {
		return true
	}
	if len(s.steps) == 0 || elapsed < 0 {
		return false
	}

	var total time.Duration
	for _, d := range s.steps {
		total += d
	}
	if elapsed >= total {
		if !s.repeat {
			return false
		}
		elapsed %= total
	}

	for i, d := range s.steps {
		if elapsed < d {
			return i%2 == 0
		}
		elapsed -= d
	}
	return false
}

// Blinker plays patterns on a single status LED. The caller advances it
// with Update from its own loop; nothing here sleeps.
type Blinker struct {
	mu      sync.Mutex
	pin     func(on bool)
	now     func() time.Time
	pattern Pattern
	started time.Time
	level   bool
}

// NewBlinker drives pin. A nil now uses time.Now.
func NewBlinker(pin func(on bool), now func() time.Time) *Blinker {
	if now == nil {
		now = time.Now
	}
	if pin == nil {
		pin = func(bool) {}
	}
	b := &Blinker{pin: pin, now: now}
	b.pin(false)
	return b
}

// Set restarts the timeline with p.
func (b *Blinker) Set(p Pattern) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pattern = p
	b.started = b.now()
	b.apply(sequences[p].levelAt(0))
}

// Update drives the pin to the level the current pattern has at now.
func (b *Blinker) Update(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.apply(sequences[b.pattern].levelAt(now.Sub(b.started)))
}

func (b *Blinker) apply(level bool) {
	if level == b.level {
		return
	}
	b.level = level
	b.pin(level)
}

// Level is the last level written to the pin.
func (b *Blinker) Level() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.level
}

// Pattern is the pattern currently playing.
func (b *Blinker) Pattern() Pattern {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pattern
}
