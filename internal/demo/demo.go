// Package demo presses the software button on a schedule so the daemon,
// CLI, and collector can be exercised end-to-end without a physical button.
// Each press starts with a short contact bounce, the way a real tactile
// switch does, so the debouncer sees realistic input.
package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/large-farva/pocketmic/internal/telemetry"
)

// Button is the software switch the demo drives.
type Button interface {
	Set(on bool)
}

// Broadcaster receives demo log events.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Runner presses Button for roughly Hold every Interval.
type Runner struct {
	Hub      Broadcaster
	Button   Button
	Interval time.Duration // time between simulated presses
	Hold     time.Duration // nominal press length

	// Bounce is how many contact bounces precede each edge, spaced
	// BounceStep apart.
	Bounce     int
	BounceStep time.Duration

	presses int
}

// New creates a demo runner with a sensible default interval.
func New(hub Broadcaster, button Button) *Runner {
	return &Runner{
		Hub:        hub,
		Button:     button,
		Interval:   20 * time.Second,
		Hold:       3 * time.Second,
		Bounce:     4,
		BounceStep: 3 * time.Millisecond,
	}
}

// Run fires one press shortly after start, then repeats on the configured
// interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.logf("demo mode active, pressing the button every %s", r.Interval.Truncate(time.Second))

	if !sleepOrCancel(ctx, 2*time.Second) {
		return
	}
	r.press(ctx)

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Button.Set(false)
			return
		case <-t.C:
			r.press(ctx)
		}
	}
}

// press holds the button for Hold with up to 25% jitter, bouncing on both
// edges.
func (r *Runner) press(ctx context.Context) {
	r.presses++
	hold := r.Hold
	if hold > 0 {
		jitter := time.Duration(rand.Int64N(int64(hold)/2+1)) - hold/4
		hold += jitter
	}

	r.logf("demo press #%d for %s", r.presses, hold.Truncate(time.Millisecond))

	if !r.bounce(ctx, true) {
		return
	}
	if !sleepOrCancel(ctx, hold) {
		r.Button.Set(false)
		return
	}
	r.bounce(ctx, false)
}

// bounce chatters the contact and leaves it at level.
func (r *Runner) bounce(ctx context.Context, level bool) bool {
	for i := 0; i < r.Bounce; i++ {
		r.Button.Set(i%2 == 0)
		if !sleepOrCancel(ctx, r.BounceStep) {
			r.Button.Set(false)
			return false
		}
	}
	r.Button.Set(level)
	return true
}

// Presses returns how many presses have been simulated.
func (r *Runner) Presses() int { return r.presses }

func (r *Runner) logf(format string, args ...any) {
	if r.Hub == nil {
		return
	}
	r.Hub.BroadcastJSON(telemetry.LogLine{
		Event:   telemetry.NewEvent(telemetry.EventLog, "demo"),
		Level:   "info",
		Message: fmt.Sprintf(format, args...),
	})
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
