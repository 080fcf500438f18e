package ctl

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/large-farva/pocketmic/internal/config"
)

// Config fetches and displays the daemon's running configuration.
func Config(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	// Decode into a generic map to preserve all fields for both display modes.
	var raw json.RawMessage
	if err := getJSON(baseURL, "/api/config", &raw); err != nil {
		return err
	}

	if jsonOutput {
		var v any
		_ = json.Unmarshal(raw, &v)
		return printJSON(v)
	}

	var cfg config.Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(header("  DAEMON CONFIGURATION"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))

	section := func(name string) {
		fmt.Printf("\n  %s\n", colorize(bold, "["+name+"]"))
	}
	field := func(key string, val any) {
		fmt.Printf("    %-22s %v\n", colorize(dim, key+":"), val)
	}

	a := cfg.Audio
	section("audio")
	field("source", a.Source)
	field("sample_rate", a.SampleRate)
	field("read_quantum", a.ReadQuantum)
	field("dma_buf_count", a.DMABufCount)
	field("dma_buf_len", a.DMABufLen)
	field("read_timeout_ms", a.ReadTimeoutMS)
	switch a.Source {
	case "tone":
		field("tone_hz", a.ToneHz)
	case "wav":
		field("wav_path", a.WAVPath)
	case "command":
		field("command", strings.Join(a.Command, " "))
	}

	c := cfg.Conditioning
	section("conditioning")
	field("high_pass_enabled", c.HighPassEnabled)
	field("high_pass_cutoff_hz", c.HighPassCutoffHz)
	field("gain", c.Gain)
	field("agc_enabled", c.AGCEnabled)
	field("agc_target", c.AGCTarget)
	field("agc_attack", c.AGCAttack)
	field("agc_release", c.AGCRelease)

	r := cfg.Recording
	section("recording")
	field("file_path", r.FilePath)
	field("max_duration_ms", r.MaxDurationMS)
	field("debounce_ms", r.DebounceMS)
	field("tick_ms", r.TickMS)

	section("upload")
	field("url", cfg.Upload.URL)
	field("timeout_seconds", cfg.Upload.TimeoutSeconds)
	field("async", cfg.Upload.Async)

	i := cfg.Indicator
	section("indicator")
	field("device_id", i.DeviceID)
	field("mqtt_enabled", i.MQTTEnabled)
	if i.MQTTEnabled {
		field("mqtt_broker", i.MQTTBroker)
		field("mqtt_topic", i.MQTTTopic)
		field("mqtt_client_id", i.MQTTClientID)
	}

	section("logging")
	field("level", cfg.Logging.Level)

	section("server")
	field("bind", cfg.Server.Bind)

	section("demo")
	field("enabled", cfg.Demo.Enabled)
	field("interval_seconds", cfg.Demo.IntervalSeconds)
	field("press_seconds", cfg.Demo.PressSeconds)

	section("collector")
	field("bind", cfg.Collector.Bind)
	field("dir", cfg.Collector.Dir)
	field("db_path", cfg.Collector.DBPath)
	field("max_upload_mb", cfg.Collector.MaxUploadMB)

	fmt.Println()

	return nil
}
