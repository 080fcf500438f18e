package indicator

import "github.com/large-farva/pocketmic/internal/telemetry"

// Broadcaster is the event hub an Events indicator reports to.
type Broadcaster interface {
	BroadcastJSON(v any)
}

// Events reports every pattern change as an indicator event.
type Events struct {
	Hub       Broadcaster
	Component string
}

func (e Events) Set(p Pattern) {
	if e.Hub == nil {
		return
	}
	e.Hub.BroadcastJSON(telemetry.Indicator{
		Event:   telemetry.NewEvent(telemetry.EventIndicator, e.Component),
		Pattern: p.String(),
	})
}
