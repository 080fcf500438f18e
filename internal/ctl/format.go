// Package ctl implements the client-side commands for micctl.
// It talks to a running pocketmicd and its collector over HTTP and WebSocket
// and renders the results to the terminal.
package ctl

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/stevedomin/termtable"
)

// ANSI escape codes for terminal formatting.
const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
	white  = "\033[37m"
)

// colorEnabled reports whether stdout is a terminal and NO_COLOR is unset.
// It is evaluated once per process.
var colorEnabled = sync.OnceValue(func() bool {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return false
	}
	fi, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
})

var stateColors = map[string]string{
	"IDLE":       green,
	"RUNNING":    green,
	"RECORDING":  red,
	"FINALIZING": yellow,
	"UPLOADING":  cyan,
	"FAULT":      bold + red,
	"BOOTING":    dim,
}

// stateColor returns the color for a daemon phase or recorder state.
func stateColor(state string) string {
	if c, ok := stateColors[state]; ok {
		return c
	}
	return white
}

// colorize wraps text in an ANSI sequence when color output is enabled.
func colorize(color, text string) string {
	if !colorEnabled() || color == "" {
		return text
	}
	return color + text + reset
}

func header(title string) string {
	return colorize(bold, title)
}

// padRight pads s with spaces to reach the given width.
func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders d as "2h 14m 8s", "45s" or, below ten seconds,
// "3.2s".
func formatDuration(d time.Duration) string {
	if d < 10*time.Second {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm %ds", h, m, s)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit && exp < 3; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGT"[exp])
}

// meter renders a 0..1 value as a bar of width cells.
func meter(v float64, width int) string {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	filled := int(v*float64(width) + 0.5)
	return colorize(green, strings.Repeat("█", filled)) + colorize(dim, strings.Repeat("·", width-filled))
}

// table collects rows and renders them with termtable.
type table struct {
	indent string
	t      *termtable.Table
}

func newTable(indent string, headers ...string) *table {
	t := termtable.NewTable(nil, &termtable.TableOptions{
		Padding:      2,
		UseSeparator: true,
	})
	t.SetHeader(headers)
	return &table{indent: indent, t: t}
}

func (t *table) row(cells ...string) {
	t.t.AddRow(cells)
}

// flush prints the table with every line indented.
func (t *table) flush() {
	for _, line := range strings.Split(strings.TrimRight(t.t.Render(), "\n"), "\n") {
		fmt.Println(t.indent + line)
	}
}
