// Package config handles loading, defaulting, and validation of the pocketmic
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Audio        AudioConfig        `toml:"audio"        json:"audio"`
	Conditioning ConditioningConfig `toml:"conditioning" json:"conditioning"`
	Recording    RecordingConfig    `toml:"recording"    json:"recording"`
	Upload       UploadConfig       `toml:"upload"       json:"upload"`
	Indicator    IndicatorConfig    `toml:"indicator"    json:"indicator"`
	Logging      LoggingConfig      `toml:"logging"      json:"logging"`
	Server       ServerConfig       `toml:"server"       json:"server"`
	Demo         DemoConfig         `toml:"demo"         json:"demo"`
	Collector    CollectorConfig    `toml:"collector"    json:"collector"`
}

type AudioConfig struct {
	Source        string   `toml:"source"          json:"source"`
	SampleRate    int      `toml:"sample_rate"     json:"sample_rate"`
	ReadQuantum   int      `toml:"read_quantum"    json:"read_quantum"`
	DMABufCount   int      `toml:"dma_buf_count"   json:"dma_buf_count"`
	DMABufLen     int      `toml:"dma_buf_len"     json:"dma_buf_len"`
	ReadTimeoutMS int      `toml:"read_timeout_ms" json:"read_timeout_ms"`
	ToneHz        float64  `toml:"tone_hz"         json:"tone_hz"`
	WAVPath       string   `toml:"wav_path"        json:"wav_path"`
	Command       []string `toml:"command"         json:"command"`
}

// ReadTimeout is ReadTimeoutMS as a duration.
func (a AudioConfig) ReadTimeout() time.Duration {
	return time.Duration(a.ReadTimeoutMS) * time.Millisecond
}

type ConditioningConfig struct {
	HighPassEnabled  bool    `toml:"high_pass_enabled"   json:"high_pass_enabled"`
	HighPassCutoffHz float64 `toml:"high_pass_cutoff_hz" json:"high_pass_cutoff_hz"`
	Gain             float64 `toml:"gain"                json:"gain"`
	AGCEnabled       bool    `toml:"agc_enabled"         json:"agc_enabled"`
	AGCTarget        float64 `toml:"agc_target"          json:"agc_target"`
	AGCAttack        float64 `toml:"agc_attack"          json:"agc_attack"`
	AGCRelease       float64 `toml:"agc_release"         json:"agc_release"`
}

type RecordingConfig struct {
	FilePath      string `toml:"file_path"       json:"file_path"`
	MaxDurationMS int    `toml:"max_duration_ms" json:"max_duration_ms"`
	DebounceMS    int    `toml:"debounce_ms"     json:"debounce_ms"`
	TickMS        int    `toml:"tick_ms"         json:"tick_ms"`
}

func (r RecordingConfig) MaxDuration() time.Duration {
	return time.Duration(r.MaxDurationMS) * time.Millisecond
}

func (r RecordingConfig) Debounce() time.Duration {
	return time.Duration(r.DebounceMS) * time.Millisecond
}

func (r RecordingConfig) Tick() time.Duration {
	return time.Duration(r.TickMS) * time.Millisecond
}

type UploadConfig struct {
	URL            string `toml:"url"             json:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds" json:"timeout_seconds"`
	Async          bool   `toml:"async"           json:"async"`
}

type IndicatorConfig struct {
	MQTTEnabled  bool   `toml:"mqtt_enabled"   json:"mqtt_enabled"`
	MQTTBroker   string `toml:"mqtt_broker"    json:"mqtt_broker"`
	MQTTTopic    string `toml:"mqtt_topic"     json:"mqtt_topic"`
	MQTTClientID string `toml:"mqtt_client_id" json:"mqtt_client_id"`
	MQTTUsername string `toml:"mqtt_username"  json:"mqtt_username"`
	MQTTPassword string `toml:"mqtt_password"  json:"-"`
	DeviceID     string `toml:"device_id"      json:"device_id"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

type ServerConfig struct {
	Bind string `toml:"bind" json:"bind"`
}

type DemoConfig struct {
	Enabled         bool `toml:"enabled"          json:"enabled"`
	IntervalSeconds int  `toml:"interval_seconds" json:"interval_seconds"`
	PressSeconds    int  `toml:"press_seconds"    json:"press_seconds"`
}

type CollectorConfig struct {
	Bind        string `toml:"bind"          json:"bind"`
	Dir         string `toml:"dir"           json:"dir"`
	DBPath      string `toml:"db_path"       json:"db_path"`
	MaxUploadMB int    `toml:"max_upload_mb" json:"max_upload_mb"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Audio: AudioConfig{
			Source:        "tone",
			SampleRate:    16000,
			ReadQuantum:   1024,
			DMABufCount:   16,
			DMABufLen:     256,
			ReadTimeoutMS: 1000,
			ToneHz:        440,
		},
		Conditioning: ConditioningConfig{
			HighPassEnabled:  false,
			HighPassCutoffHz: 50,
			Gain:             1.0,
			AGCEnabled:       false,
			AGCTarget:        0.7,
			AGCAttack:        0.1,
			AGCRelease:       0.5,
		},
		Recording: RecordingConfig{
			FilePath:      "/var/lib/pocketmic/recording.wav",
			MaxDurationMS: 30000,
			DebounceMS:    50,
			TickMS:        10,
		},
		Upload: UploadConfig{
			URL:            "http://127.0.0.1:3000/audio/upload",
			TimeoutSeconds: 30,
		},
		Indicator: IndicatorConfig{
			MQTTBroker:   "tcp://localhost:1883",
			MQTTTopic:    "pocketmic/{device_id}/indicator",
			MQTTClientID: "pocketmic",
			DeviceID:     "pocketmic-01",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			Bind: "0.0.0.0:8080",
		},
		Demo: DemoConfig{
			Enabled:         false,
			IntervalSeconds: 20,
			PressSeconds:    3,
		},
		Collector: CollectorConfig{
			Bind:        "0.0.0.0:3000",
			Dir:         "/var/lib/pocketmic/uploads",
			DBPath:      "/var/lib/pocketmic/collector.db",
			MaxUploadMB: 10,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, applies
// environment overrides, and validates the result. An empty path skips the
// file. An error is returned if the file can't be read, parsed, or if any
// constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	// Load .env file if it exists
	_ = godotenv.Load()
	if err := ApplyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from POCKETMIC_* environment variables.
func ApplyEnv(cfg *Config) error {
	cfg.Upload.URL = getEnv("POCKETMIC_UPLOAD_URL", cfg.Upload.URL)
	cfg.Indicator.MQTTBroker = getEnv("POCKETMIC_MQTT_BROKER", cfg.Indicator.MQTTBroker)
	cfg.Indicator.MQTTUsername = getEnv("POCKETMIC_MQTT_USERNAME", cfg.Indicator.MQTTUsername)
	cfg.Indicator.MQTTPassword = getEnv("POCKETMIC_MQTT_PASSWORD", cfg.Indicator.MQTTPassword)
	cfg.Indicator.DeviceID = getEnv("POCKETMIC_DEVICE_ID", cfg.Indicator.DeviceID)
	cfg.Logging.Level = getEnv("POCKETMIC_LOG_LEVEL", cfg.Logging.Level)

	var err error
	if cfg.Indicator.MQTTEnabled, err = getEnvBool("POCKETMIC_MQTT_ENABLED", cfg.Indicator.MQTTEnabled); err != nil {
		return err
	}
	if cfg.Upload.Async, err = getEnvBool("POCKETMIC_UPLOAD_ASYNC", cfg.Upload.Async); err != nil {
		return err
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	v := getEnv(key, "")
	if v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

var sources = map[string]bool{"tone": true, "wav": true, "command": true}

func validate(cfg Config) error {
	a := cfg.Audio
	if !sources[a.Source] {
		return fmt.Errorf("audio.source must be one of tone, wav, command (got %q)", a.Source)
	}
	if a.SampleRate <= 0 {
		return errors.New("audio.sample_rate must be > 0")
	}
	if a.ReadQuantum <= 0 {
		return errors.New("audio.read_quantum must be > 0")
	}
	if a.DMABufCount < 2 || a.DMABufLen <= 0 {
		return errors.New("audio.dma_buf_count must be >= 2 and audio.dma_buf_len > 0")
	}
	if a.ReadTimeoutMS <= 0 {
		return errors.New("audio.read_timeout_ms must be > 0")
	}
	if a.Source == "wav" && a.WAVPath == "" {
		return errors.New("audio.wav_path is required when audio.source is wav")
	}

	c := cfg.Conditioning
	if c.HighPassEnabled && (c.HighPassCutoffHz <= 0 || c.HighPassCutoffHz >= float64(a.SampleRate)/2) {
		return errors.New("conditioning.high_pass_cutoff_hz must be between 0 and half the sample rate")
	}
	if c.Gain <= 0 {
		return errors.New("conditioning.gain must be > 0")
	}
	if c.AGCTarget <= 0 || c.AGCTarget > 1 {
		return errors.New("conditioning.agc_target must be in (0, 1]")
	}
	if c.AGCAttack <= 0 || c.AGCAttack > 1 || c.AGCRelease <= 0 || c.AGCRelease > 1 {
		return errors.New("conditioning.agc_attack and agc_release must be in (0, 1]")
	}

	r := cfg.Recording
	if r.FilePath == "" {
		return errors.New("recording.file_path must not be empty")
	}
	if r.MaxDurationMS <= 0 {
		return errors.New("recording.max_duration_ms must be > 0")
	}
	// The RIFF size field, 36 + payload bytes, is 32 bits wide.
	if limit := (math.MaxUint32 - 36) / (2 * uint64(a.SampleRate)) * 1000; uint64(r.MaxDurationMS) > limit {
		return fmt.Errorf("recording.max_duration_ms must be <= %d at %d Hz", limit, a.SampleRate)
	}
	if r.DebounceMS <= 0 {
		return errors.New("recording.debounce_ms must be > 0")
	}
	if r.TickMS <= 0 {
		return errors.New("recording.tick_ms must be > 0")
	}

	if !strings.HasPrefix(cfg.Upload.URL, "http://") && !strings.HasPrefix(cfg.Upload.URL, "https://") {
		return fmt.Errorf("upload.url must be an http(s) URL (got %q)", cfg.Upload.URL)
	}
	if cfg.Upload.TimeoutSeconds <= 0 {
		return errors.New("upload.timeout_seconds must be > 0")
	}

	if cfg.Indicator.MQTTEnabled && cfg.Indicator.MQTTBroker == "" {
		return errors.New("indicator.mqtt_broker is required when mqtt is enabled")
	}
	if cfg.Demo.IntervalSeconds < 0 || cfg.Demo.PressSeconds < 0 {
		return errors.New("demo.interval_seconds and demo.press_seconds must be >= 0")
	}
	if cfg.Collector.MaxUploadMB <= 0 {
		return errors.New("collector.max_upload_mb must be > 0")
	}
	return nil
}
