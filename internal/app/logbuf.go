package app

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/pocketmic/internal/telemetry"
)

type logEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component,omitempty"`
	Message   string `json:"message"`
}

type broadcaster interface {
	BroadcastJSON(v any)
}

// logBuffer is a logrus hook that keeps the most recent entries for
// /api/logs and mirrors each one to the event hub.
type logBuffer struct {
	mu      sync.Mutex
	entries []logEntry
	size    int
	hub     broadcaster
}

func newLogBuffer(size int, hub broadcaster) *logBuffer {
	return &logBuffer{size: size, hub: hub}
}

func (b *logBuffer) Levels() []logrus.Level { return logrus.AllLevels }

func (b *logBuffer) Fire(e *logrus.Entry) error {
	msg := e.Message
	if err, ok := e.Data[logrus.ErrorKey]; ok {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	component, _ := e.Data["component"].(string)

	entry := logEntry{
		TS:        e.Time.UTC().Format(time.RFC3339Nano),
		Level:     e.Level.String(),
		Component: component,
		Message:   msg,
	}

	b.mu.Lock()
	b.entries = append(b.entries, entry)
	if len(b.entries) > b.size {
		b.entries = b.entries[len(b.entries)-b.size:]
	}
	b.mu.Unlock()

	if b.hub != nil {
		b.hub.BroadcastJSON(telemetry.LogLine{
			Event:   telemetry.Event{Type: telemetry.EventLog, TS: entry.TS, Component: component},
			Level:   entry.Level,
			Message: msg,
		})
	}
	return nil
}

// snapshot returns the buffered entries, optionally filtered by level and
// component, and trimmed to the newest limit.
func (b *logBuffer) snapshot(level, component string, limit int) []logEntry {
	b.mu.Lock()
	entries := make([]logEntry, 0, len(b.entries))
	for _, e := range b.entries {
		if (level == "" || e.Level == level) && (component == "" || e.Component == component) {
			entries = append(entries, e)
		}
	}
	b.mu.Unlock()

	if limit > 0 && limit < len(entries) {
		entries = entries[len(entries)-limit:]
	}
	return entries
}
