package ctl

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// LogsOptions configures the logs command.
type LogsOptions struct {
	Level     string
	Component string
	Limit     int
	Tail      bool
	JSON      bool
}

// LogEntry mirrors one buffered daemon log line.
type LogEntry struct {
	TS        string `json:"ts"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
}

// Logs prints the daemon's buffered log lines. With Tail it streams log
// events over the WebSocket instead.
func Logs(baseURL string, opts LogsOptions) error {
	if opts.Tail {
		return Watch(baseURL, WatchOptions{Filter: []string{"log"}, JSON: opts.JSON})
	}

	q := url.Values{}
	if opts.Level != "" {
		// The daemon stores logrus level names.
		if opts.Level == "warn" {
			opts.Level = "warning"
		}
		q.Set("level", opts.Level)
	}
	if opts.Component != "" {
		q.Set("component", opts.Component)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	path := "/api/logs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp struct {
		Logs []LogEntry `json:"logs"`
	}
	if err := getJSON(baseURL, path, &resp); err != nil {
		return err
	}
	if opts.JSON {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  DAEMON LOGS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 70)))
	if len(resp.Logs) == 0 {
		fmt.Println(colorize(dim, "  no log entries"))
	}
	for _, e := range resp.Logs {
		fmt.Printf("  %s %s  %s%s\n",
			colorize(dim, shortTime(e.TS)),
			formatLogLevel(e.Level),
			colorize(dim, "["+e.Component+"] "),
			e.Message,
		)
	}
	fmt.Println()
	return nil
}

// shortTime renders an RFC 3339 timestamp as local wall-clock time.
func shortTime(ts string) string {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return t.Local().Format("15:04:05.000")
}
