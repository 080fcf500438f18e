package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pocketmic.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	if err := validate(Default()); err != nil {
		t.Fatalf("validate(Default()) error = %v, want nil", err)
	}
	d := Default()
	if d.Recording.MaxDuration() != 30*time.Second {
		t.Errorf("MaxDuration() = %s, want 30s", d.Recording.MaxDuration())
	}
	if d.Recording.Debounce() != 50*time.Millisecond {
		t.Errorf("Debounce() = %s, want 50ms", d.Recording.Debounce())
	}
	if d.Audio.ReadTimeout() != time.Second {
		t.Errorf("ReadTimeout() = %s, want 1s", d.Audio.ReadTimeout())
	}
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
[audio]
sample_rate = 8000

[conditioning]
agc_enabled = true

[upload]
url = "http://collector.local:3000/audio/upload"
async = true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Audio.SampleRate != 8000 {
		t.Errorf("SampleRate = %d, want 8000", cfg.Audio.SampleRate)
	}
	if cfg.Audio.ReadQuantum != 1024 {
		t.Errorf("ReadQuantum = %d, want default 1024", cfg.Audio.ReadQuantum)
	}
	if !cfg.Conditioning.AGCEnabled || cfg.Conditioning.AGCTarget != 0.7 {
		t.Errorf("Conditioning = %+v", cfg.Conditioning)
	}
	if !cfg.Upload.Async || cfg.Upload.URL != "http://collector.local:3000/audio/upload" {
		t.Errorf("Upload = %+v", cfg.Upload)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("POCKETMIC_UPLOAD_URL", "https://example.net/upload")
	t.Setenv("POCKETMIC_DEVICE_ID", "kitchen")
	t.Setenv("POCKETMIC_MQTT_ENABLED", "true")
	t.Setenv("POCKETMIC_MQTT_PASSWORD", "hunter2")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v, want nil", err)
	}
	if cfg.Upload.URL != "https://example.net/upload" {
		t.Errorf("Upload.URL = %q", cfg.Upload.URL)
	}
	if cfg.Indicator.DeviceID != "kitchen" || !cfg.Indicator.MQTTEnabled || cfg.Indicator.MQTTPassword != "hunter2" {
		t.Errorf("Indicator = %+v", cfg.Indicator)
	}
}

func TestLoad_BadEnvBool(t *testing.T) {
	t.Setenv("POCKETMIC_UPLOAD_ASYNC", "maybe")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "POCKETMIC_UPLOAD_ASYNC") {
		t.Errorf("Load() error = %v, want POCKETMIC_UPLOAD_ASYNC parse error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Error("Load() error = nil, want error")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown source", func(c *Config) { c.Audio.Source = "i2s" }, "audio.source"},
		{"zero rate", func(c *Config) { c.Audio.SampleRate = 0 }, "audio.sample_rate"},
		{"one dma buffer", func(c *Config) { c.Audio.DMABufCount = 1 }, "dma_buf_count"},
		{"wav without path", func(c *Config) { c.Audio.Source = "wav" }, "audio.wav_path"},
		{"cutoff above nyquist", func(c *Config) {
			c.Conditioning.HighPassEnabled = true
			c.Conditioning.HighPassCutoffHz = 9000
		}, "high_pass_cutoff_hz"},
		{"agc target", func(c *Config) { c.Conditioning.AGCTarget = 1.5 }, "agc_target"},
		{"zero gain", func(c *Config) { c.Conditioning.Gain = 0 }, "conditioning.gain"},
		{"empty path", func(c *Config) { c.Recording.FilePath = "" }, "recording.file_path"},
		{"zero max", func(c *Config) { c.Recording.MaxDurationMS = 0 }, "max_duration_ms"},
		{"max past 4 GiB", func(c *Config) { c.Recording.MaxDurationMS = 40 * 3600 * 1000 }, "max_duration_ms must be <="},
		{"zero debounce", func(c *Config) { c.Recording.DebounceMS = 0 }, "debounce_ms"},
		{"bad url", func(c *Config) { c.Upload.URL = "ftp://x" }, "upload.url"},
		{"mqtt without broker", func(c *Config) {
			c.Indicator.MQTTEnabled = true
			c.Indicator.MQTTBroker = ""
		}, "mqtt_broker"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := validate(cfg)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("validate() error = %v, want mention of %q", err, tt.want)
			}
		})
	}
}
