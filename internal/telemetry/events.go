// Package telemetry holds the JSON event schema pocketmicd pushes to /ws
// subscribers. Every event embeds Event, so clients can switch on "type"
// before decoding the rest.
package telemetry

import "time"

// EventType is the value of the "type" field. The hub filters on it.
type EventType string

const (
	EventHeartbeat EventType = "heartbeat"
	EventState     EventType = "state"
	EventProgress  EventType = "progress"
	EventLog       EventType = "log"
	EventSession   EventType = "session"
	EventUpload    EventType = "upload"
	EventIndicator EventType = "indicator"
)

// Event is embedded by every event.
type Event struct {
	Type      EventType `json:"type"`
	TS        string    `json:"ts"`
	Component string    `json:"component,omitempty"`
}

// NowTS formats the current time in UTC, RFC 3339 with nanoseconds.
func NowTS() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// NewEvent stamps an envelope.
func NewEvent(t EventType, component string) Event {
	return Event{Type: t, TS: NowTS(), Component: component}
}

// Heartbeat carries the daemon phase and uptime, once per heartbeat interval.
type Heartbeat struct {
	Event
	State         string `json:"state"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// StateTransition is a recorder state change, or a daemon phase change when
// Component is "pocketmicd".
type StateTransition struct {
	Event
	From string `json:"from"`
	To   string `json:"to"`
}

// Progress reports how far into the maximum duration a recording is.
type Progress struct {
	Event
	Stage   string  `json:"stage"`
	Percent float64 `json:"percent"`
	Detail  string  `json:"detail"`
	Level   float64 `json:"level"`
}

// LogLine mirrors one logrus entry; Level uses logrus names.
type LogLine struct {
	Event
	Level   string `json:"level"`
	Message string `json:"message"`
}

// Session marks the start or end of a recording.
type Session struct {
	Event
	Action    string   `json:"action"` // started, stopped, aborted, cancelled
	Reason    string   `json:"reason,omitempty"`
	Path      string   `json:"path"`
	Bytes     uint32   `json:"bytes"`
	ElapsedMS int64    `json:"elapsed_ms"`
	Error     string   `json:"error,omitempty"`
	Stages    []string `json:"stages,omitempty"`
}

// Upload reports the outcome of one upload attempt.
type Upload struct {
	Event
	Path       string `json:"path"`
	OK         bool   `json:"ok"`
	StatusCode int    `json:"status_code"`
	Bytes      int64  `json:"bytes"`
	ElapsedMS  int64  `json:"elapsed_ms"`
	Response   string `json:"response,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Indicator mirrors a status indicator pattern change.
type Indicator struct {
	Event
	Pattern string `json:"pattern"`
}
