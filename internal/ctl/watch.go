package ctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/pocketmic/internal/telemetry"
)

// WatchOptions controls the watch command behavior.
type WatchOptions struct {
	Filter []string // event types to show (empty = all)
	JSON   bool     // output raw JSON per event
}

// wsURL turns the daemon base URL into its event stream URL.
func wsURL(baseURL string, filter []string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	u.Path = "/ws"
	u.RawQuery = ""
	if len(filter) > 0 {
		u.RawQuery = url.Values{"types": {strings.Join(filter, ",")}}.Encode()
	}
	return u.String(), nil
}

// Watch streams daemon events until interrupted. The filter is applied by
// the daemon. A dropped connection is redialed with backoff, so a daemon
// restart does not end the watch.
func Watch(baseURL string, opts WatchOptions) error {
	target, err := wsURL(baseURL, opts.Filter)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := func(color, word, detail string) {
		if !opts.JSON {
			fmt.Printf("  %s %s\n", colorize(color, word), colorize(dim, detail))
		}
	}

	backoff := 500 * time.Millisecond
	for first := true; ; first = false {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
		if err != nil {
			if first {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
			status(yellow, "reconnecting", err.Error())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, 10*time.Second)
			continue
		}
		backoff = 500 * time.Millisecond

		if first && !opts.JSON {
			fmt.Println()
		}
		status(green, "connected", target)
		if first && !opts.JSON {
			if len(opts.Filter) > 0 {
				fmt.Printf("  %s %s\n", colorize(dim, "filter:"), colorize(dim, strings.Join(opts.Filter, ", ")))
			}
			fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))
			fmt.Println()
		}

		err = stream(ctx, conn, opts.JSON)
		if ctx.Err() != nil {
			status(dim, "disconnecting...", "")
			return nil
		}
		status(yellow, "disconnected", err.Error())
	}
}

// stream prints events from conn until it fails or ctx ends, in which case
// it closes the connection cleanly.
func stream(ctx context.Context, conn *websocket.Conn, raw bool) error {
	defer conn.Close()

	errc := make(chan error, 1)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				errc <- err
				return
			}
			if raw {
				fmt.Println(string(msg))
			} else {
				renderEvent(msg)
			}
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		return errors.New("interrupted")
	}
}

// renderEvent decodes one event into its telemetry type and prints it.
// Unknown types are dumped as indented JSON.
func renderEvent(raw []byte) {
	var env telemetry.Event
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Printf("  %s\n", raw)
		return
	}
	ts := colorize(dim, shortTime(env.TS))

	switch env.Type {
	case telemetry.EventHeartbeat:
		var ev telemetry.Heartbeat
		_ = json.Unmarshal(raw, &ev)
		fmt.Printf("  %s %s  %s  up %s\n", ts, colorize(dim, "heartbeat"),
			colorize(stateColor(ev.State), ev.State),
			colorize(dim, formatDuration(time.Duration(ev.UptimeSeconds)*time.Second)))

	case telemetry.EventState:
		var ev telemetry.StateTransition
		_ = json.Unmarshal(raw, &ev)
		fmt.Printf("  %s %s  %s %s %s\n", ts, colorize(bold, "STATE"),
			colorize(stateColor(ev.From), ev.From), colorize(dim, "->"), colorize(stateColor(ev.To), ev.To))

	case telemetry.EventLog:
		var ev telemetry.LogLine
		_ = json.Unmarshal(raw, &ev)
		src := ""
		if ev.Component != "" {
			src = colorize(dim, "["+ev.Component+"] ")
		}
		fmt.Printf("  %s %s  %s%s\n", ts, formatLogLevel(ev.Level), src, ev.Message)

	case telemetry.EventProgress:
		var ev telemetry.Progress
		_ = json.Unmarshal(raw, &ev)
		fmt.Printf("  %s %s  %3.0f%%  level %s  %s\n", ts, colorize(cyan, padRight(ev.Stage, 10)),
			ev.Percent, meter(ev.Level, 16), colorize(dim, ev.Detail))

	case telemetry.EventSession:
		var ev telemetry.Session
		_ = json.Unmarshal(raw, &ev)
		renderSession(ts, ev)

	case telemetry.EventUpload:
		var ev telemetry.Upload
		_ = json.Unmarshal(raw, &ev)
		took := formatDuration(time.Duration(ev.ElapsedMS) * time.Millisecond)
		if ev.OK {
			fmt.Printf("  %s %s  %s  HTTP %d, %s in %s\n", ts, colorize(green, "UPLOADED"),
				ev.Path, ev.StatusCode, formatBytes(ev.Bytes), took)
			return
		}
		reason := ev.Error
		if reason == "" {
			reason = fmt.Sprintf("HTTP %d", ev.StatusCode)
		}
		fmt.Printf("  %s %s  %s  %s\n", ts, colorize(red, "UPLOAD FAILED"), ev.Path, colorize(red, reason))

	case telemetry.EventIndicator:
		var ev telemetry.Indicator
		_ = json.Unmarshal(raw, &ev)
		fmt.Printf("  %s %s  %s\n", ts, colorize(dim, "indicator"), ev.Pattern)

	default:
		var v any
		_ = json.Unmarshal(raw, &v)
		pretty, err := json.MarshalIndent(v, "  ", "  ")
		if err != nil {
			pretty = raw
		}
		fmt.Printf("  %s\n", pretty)
	}
}

func renderSession(ts string, ev telemetry.Session) {
	labels := map[string]string{
		"started":   colorize(red, "REC     "),
		"stopped":   colorize(bold, "STOPPED "),
		"aborted":   colorize(yellow, "ABORTED "),
		"cancelled": colorize(dim, "CANCEL  "),
	}
	label, ok := labels[ev.Action]
	if !ok {
		label = padRight(strings.ToUpper(ev.Action), 8)
	}

	detail := ev.Path
	if ev.Action == "started" {
		if len(ev.Stages) > 0 {
			detail += colorize(dim, " ["+strings.Join(ev.Stages, " > ")+"]")
		}
	} else {
		detail += fmt.Sprintf("  %s, %s",
			formatDuration(time.Duration(ev.ElapsedMS)*time.Millisecond), formatBytes(int64(ev.Bytes)))
	}
	if ev.Reason != "" {
		detail += colorize(dim, " ("+ev.Reason+")")
	}
	if ev.Error != "" {
		detail += "  " + colorize(red, ev.Error)
	}
	fmt.Printf("  %s %s %s\n", ts, label, detail)
}

// formatLogLevel returns a colored, fixed-width log level label.
func formatLogLevel(level string) string {
	switch level {
	case "info":
		return colorize(green, "INFO ")
	case "warn", "warning":
		return colorize(yellow, "WARN ")
	case "error", "fatal", "panic":
		return colorize(red, "ERROR")
	case "debug", "trace":
		return colorize(dim, padRight(strings.ToUpper(level), 5))
	default:
		return padRight(level, 5)
	}
}
