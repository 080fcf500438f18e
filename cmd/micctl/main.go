// Micctl is the command-line client for monitoring and controlling a running
// pocketmicd instance and browsing what its collector has received. It
// connects over HTTP and WebSocket.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/large-farva/pocketmic/internal/ctl"
)

func main() {
	var (
		host      = pflag.StringP("host", "H", "http://127.0.0.1:8080", "pocketmicd URL (e.g. http://192.168.8.1:8080)")
		collector = pflag.StringP("collector", "C", "http://127.0.0.1:3000", "Collector URL")
		jsonOut   = pflag.Bool("json", false, "Output raw JSON instead of formatted text")
		filter    = pflag.StringSlice("filter", nil, "Event types to show in watch (e.g. --filter state,session)")
	)

	// Global flags end at the command name; the rest belongs to the
	// command's own FlagSet (record --duration, logs --tail, ...).
	pflag.CommandLine.SetInterspersed(false)
	pflag.Parse()

	if pflag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	cmd := pflag.Arg(0)
	subArgs := pflag.Args()[1:]

	var err error
	switch cmd {
	// ── Query commands ────────────────────────────────────────────
	case "status":
		err = ctl.Status(*host, *jsonOut)

	case "health":
		healthFlags := pflag.NewFlagSet("health", pflag.ContinueOnError)
		detail := healthFlags.Bool("detail", false, "Show component-level checks")
		_ = healthFlags.Parse(subArgs)
		if *detail {
			err = ctl.HealthDetail(*host, *jsonOut)
		} else {
			err = ctl.Health(*host, *jsonOut)
		}

	case "version":
		err = ctl.VersionInfo(*host, *collector, *jsonOut)

	case "config":
		err = ctl.Config(*host, *jsonOut)

	case "logs":
		opts := ctl.LogsOptions{JSON: *jsonOut}
		logFlags := pflag.NewFlagSet("logs", pflag.ContinueOnError)
		logFlags.StringVar(&opts.Level, "level", "", "Filter by log level (info, warning, error)")
		logFlags.StringVar(&opts.Component, "component", "", "Filter by component (recorder, upload, mic, mqtt)")
		logFlags.IntVar(&opts.Limit, "limit", 0, "Limit number of log entries shown")
		logFlags.BoolVar(&opts.Tail, "tail", false, "Stream live log events (like watch --filter log)")
		_ = logFlags.Parse(subArgs)
		err = ctl.Logs(*host, opts)

	case "recordings":
		recFlags := pflag.NewFlagSet("recordings", pflag.ContinueOnError)
		limit := recFlags.Int("limit", 20, "Limit number of recordings shown (0 for all)")
		get := recFlags.String("download", "", "Download a recording by name")
		dir := recFlags.String("dir", ".", "Directory to download into")
		_ = recFlags.Parse(subArgs)
		if *get != "" {
			_, err = ctl.Download(*collector, *get, *dir)
		} else {
			err = ctl.Recordings(*collector, *limit, *jsonOut)
		}

	// ── Control commands ──────────────────────────────────────────
	case "press":
		err = ctl.Press(*host, *jsonOut)

	case "release":
		err = ctl.Release(*host, *jsonOut)

	case "record":
		recFlags := pflag.NewFlagSet("record", pflag.ContinueOnError)
		d := recFlags.Duration("duration", 3*time.Second, "How long to hold the button")
		_ = recFlags.Parse(subArgs)
		err = ctl.Record(*host, *d, *jsonOut)

	case "start":
		err = ctl.Start(*host, *jsonOut)

	case "stop":
		err = ctl.Stop(*host, *jsonOut)

	case "cancel":
		err = ctl.Cancel(*host, *jsonOut)

	case "retry":
		err = ctl.Retry(*host, *jsonOut)

	// ── Live streaming ────────────────────────────────────────────
	case "watch":
		err = ctl.Watch(*host, ctl.WatchOptions{
			Filter: *filter,
			JSON:   *jsonOut,
		})

	default:
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Print(`
  micctl: pocketmic control CLI

  USAGE
    micctl [flags] <command> [command-flags]

  COMMANDS (query)
    status          Show recorder state, session and last upload
    health          Check daemon and component health
    version         Show CLI, daemon and collector versions
    config          Show the daemon's running configuration
    logs            Show recent daemon log messages
    recordings      List or download recordings held by the collector

  COMMANDS (control)
    press           Hold the software button down
    release         Let go of the software button
    record          Hold the button for a fixed duration
    start           Start a recording without the button
    stop            Stop the active recording and upload it
    cancel          Discard the active recording
    retry           Upload the recording kept after a failed upload

  COMMANDS (live)
    watch           Stream live events from the daemon (Ctrl-C to stop)

  GLOBAL FLAGS
    -H, --host URL        Daemon base URL (default: http://127.0.0.1:8080)
    -C, --collector URL   Collector base URL (default: http://127.0.0.1:3000)
        --json            Output raw JSON instead of formatted text
        --filter TYPE     Event types to show in watch (comma-separated)

  COMMAND FLAGS
    health:
        --detail            Show component-level checks

    logs:
        --level LEVEL       Filter by log level (info, warning, error)
        --component NAME    Filter by component
        --limit N           Limit number of log entries shown
        --tail              Stream live log events

    record:
        --duration D        How long to hold the button (default: 3s)

    recordings:
        --limit N           Limit number of recordings shown (default: 20)
        --download NAME     Download a recording by name
        --dir DIR           Directory to download into (default: .)

  EXAMPLES
    micctl status
    micctl --json status
    micctl --host http://192.168.8.1:8080 watch
    micctl record --duration 5s
    micctl press && sleep 2 && micctl release
    micctl retry
    micctl health --detail
    micctl logs --level error --limit 20
    micctl --collector http://10.0.0.5:3000 recordings
    micctl recordings --download recording-2026-03-01T12-00-00-000Z.wav
    micctl watch --filter state,session,upload

`)
}
