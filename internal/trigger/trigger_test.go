package trigger

import (
	"testing"
	"time"
)

func TestDebouncer_StableChangeReportedAfterDelay(t *testing.T) {
	t.Parallel()

	var sw Switch
	d := NewDebouncer(&sw, 50*time.Millisecond)
	t0 := time.Unix(1000, 0)

	sw.Press()
	if d.Poll(t0) {
		t.Fatal("Poll() at press = true, want false")
	}
	if d.Poll(t0.Add(50 * time.Millisecond)) {
		t.Fatal("Poll() at exactly the delay = true, want false")
	}
	if !d.Poll(t0.Add(51 * time.Millisecond)) {
		t.Fatal("Poll() past the delay = false, want true")
	}
	if !d.Pressed() {
		t.Error("Pressed() = false, want true")
	}
	if d.Poll(t0.Add(200 * time.Millisecond)) {
		t.Error("Poll() with no new transition = true, want false")
	}

	sw.Release()
	d.Poll(t0.Add(300 * time.Millisecond))
	if !d.Poll(t0.Add(351 * time.Millisecond)) {
		t.Fatal("Poll() after release = false, want true")
	}
	if d.Pressed() {
		t.Error("Pressed() = true, want false")
	}
}

func TestDebouncer_BounceYieldsOneChange(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		toggles   int
		finalHigh bool
	}{
		{"settles high", 9, true},
		{"settles low", 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var sw Switch
			d := NewDebouncer(&sw, 50*time.Millisecond)
			t0 := time.Unix(0, 0)

			// Toggle every 5ms (well inside the window), polling each ms.
			level := false
			changes := 0
			now := t0
			for range tt.toggles {
				level = !level
				sw.Set(level)
				for range 5 {
					if d.Poll(now) {
						changes++
					}
					now = now.Add(time.Millisecond)
				}
			}
			for range 200 {
				if d.Poll(now) {
					changes++
				}
				now = now.Add(time.Millisecond)
			}

			wantChanges := 0
			if tt.finalHigh {
				wantChanges = 1
			}
			if changes != wantChanges {
				t.Errorf("changes = %d, want %d", changes, wantChanges)
			}
			if d.Pressed() != tt.finalHigh {
				t.Errorf("Pressed() = %v, want %v", d.Pressed(), tt.finalHigh)
			}
		})
	}
}

func TestDebouncer_DefaultDelay(t *testing.T) {
	t.Parallel()

	on := true
	d := NewDebouncer(Func(func() bool { return on }), 0)
	t0 := time.Unix(0, 0)
	d.Poll(t0)
	if d.Poll(t0.Add(DefaultDelay)) {
		t.Error("Poll() at DefaultDelay = true, want false")
	}
	if !d.Poll(t0.Add(DefaultDelay + time.Millisecond)) {
		t.Error("Poll() past DefaultDelay = false, want true")
	}
}
