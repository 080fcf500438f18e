package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/large-farva/pocketmic/internal/buildinfo"
	"github.com/large-farva/pocketmic/internal/recorder"
)

// maxRecordDuration caps /api/record. The recorder's own limit still applies.
const maxRecordDuration = 10 * time.Minute

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", a.handleHealthz)
	mux.HandleFunc("GET /api/status", a.handleStatus)
	mux.HandleFunc("GET /api/version", a.handleVersion)
	mux.HandleFunc("GET /api/config", a.handleConfig)
	mux.HandleFunc("GET /api/logs", a.handleLogs)
	mux.HandleFunc("POST /api/button", a.handleButton)
	mux.HandleFunc("POST /api/record", a.handleRecord)
	for _, cmd := range []string{"start", "stop", "cancel", "retry"} {
		mux.HandleFunc("POST /api/"+cmd, a.commandHandler(cmd))
	}
	mux.Handle("GET /ws", a.wsHub.Handler())
	return mux
}

// ---------------------------------------------------------------------------
// Core handlers
// ---------------------------------------------------------------------------

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	// If the client asks for JSON, return component-level health checks.
	if r.Header.Get("Accept") == "application/json" {
		a.handleHealthDetailed(w, r)
		return
	}
	if a.phase.Load().(string) == PhaseFault {
		http.Error(w, "fault: "+a.fault.Load().(string), http.StatusServiceUnavailable)
		return
	}
	if err := a.sourceErr(); err != nil {
		http.Error(w, "audio source: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"name":           "pocketmic",
		"phase":          a.phase.Load().(string),
		"state":          a.state(),
		"uptime_seconds": int64(time.Since(a.startedAt).Seconds()),
		"device_id":      a.cfg.Indicator.DeviceID,
		"source":         a.cfg.Audio.Source,
		"file_path":      a.cfg.Recording.FilePath,
		"upload_url":     a.cfg.Upload.URL,
		"button":         a.button.Level(),
		"led":            a.led.Load(),
		"ws_clients":     a.wsHub.Clients(),
		"ws_dropped":     a.wsHub.Dropped(),
		"ws_evicted":     a.wsHub.Evicted(),
		"demo_enabled":   a.cfg.Demo.Enabled,
	}

	if a.cfg.Demo.Enabled {
		resp["mode"] = "demo"
	} else {
		resp["mode"] = "live"
	}
	if f := a.fault.Load().(string); f != "" {
		resp["fault"] = f
	}
	if a.ctl != nil {
		resp["recorder"] = a.ctl.Status()
	}
	if du := statDisk(a.recordingDir()); du != nil {
		resp["disk"] = du
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Get())
}

func (a *App) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.cfg)
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			jsonError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs": a.logs.snapshot(r.URL.Query().Get("level"), r.URL.Query().Get("component"), limit),
	})
}

func (a *App) handleHealthDetailed(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]any{}
	allOK := true

	if f := a.fault.Load().(string); f != "" {
		checks["pipeline"] = map[string]any{"ok": false, "error": f}
		allOK = false
	} else if err := a.sourceErr(); err != nil {
		checks["pipeline"] = map[string]any{"ok": false, "source": a.cfg.Audio.Source, "error": err.Error()}
		allOK = false
	} else {
		checks["pipeline"] = map[string]any{"ok": a.ctl != nil, "source": a.cfg.Audio.Source}
		allOK = allOK && a.ctl != nil
	}

	// Recording directory writable.
	dir := a.recordingDir()
	tmpPath := filepath.Join(dir, ".healthcheck")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		checks["storage"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else if err := os.WriteFile(tmpPath, []byte("ok"), 0o644); err != nil {
		checks["storage"] = map[string]any{"ok": false, "error": err.Error()}
		allOK = false
	} else {
		_ = os.Remove(tmpPath)
		need := a.maxRecordingBytes()
		if du := statDisk(dir); du != nil && du.AvailableBytes < need {
			checks["storage"] = map[string]any{
				"ok":    false,
				"path":  dir,
				"error": fmt.Sprintf("%d bytes free, a full-length recording needs %d", du.AvailableBytes, need),
			}
			allOK = false
		} else {
			checks["storage"] = map[string]any{"ok": true, "path": dir}
		}
	}

	if a.cfg.Indicator.MQTTEnabled {
		connected := a.mqtt != nil && a.mqtt.IsConnected()
		checks["mqtt"] = map[string]any{"ok": connected, "broker": a.cfg.Indicator.MQTTBroker}
		allOK = allOK && connected
	}

	if a.configPath != "" {
		if _, err := os.Stat(a.configPath); err != nil {
			checks["config_file"] = map[string]any{"ok": false, "error": err.Error()}
			allOK = false
		} else {
			checks["config_file"] = map[string]any{"ok": true, "path": a.configPath}
		}
	}

	status := http.StatusOK
	if !allOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy": allOK,
		"checks":  checks,
	})
}

// ---------------------------------------------------------------------------
// Button and recorder controls
// ---------------------------------------------------------------------------

// handleButton sets the software button level: {"action":"press"} or
// {"action":"release"}.
func (a *App) handleButton(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	switch req.Action {
	case "press":
		a.button.Press()
	case "release":
		a.button.Release()
	default:
		jsonError(w, "action must be press or release", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "pressed": a.button.Level()})
}

// handleRecord holds the button for duration_ms, then releases it. The
// request returns as soon as the button is pressed.
func (a *App) handleRecord(w http.ResponseWriter, r *http.Request) {
	if !a.requireRunning(w) {
		return
	}

	var req struct {
		DurationMS int `json:"duration_ms"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	d := time.Duration(req.DurationMS) * time.Millisecond
	if d <= 0 {
		d = time.Duration(a.cfg.Demo.PressSeconds) * time.Second
	}
	if d <= a.cfg.Recording.Debounce() || d > maxRecordDuration {
		jsonError(w, "duration_ms must be longer than the debounce delay and at most 10 minutes", http.StatusBadRequest)
		return
	}
	if a.button.Level() {
		jsonError(w, "button already pressed", http.StatusConflict)
		return
	}

	a.button.Press()
	time.AfterFunc(d, a.button.Release)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"ok":          true,
		"message":     "button held for " + d.String(),
		"duration_ms": d.Milliseconds(),
	})
}

func (a *App) commandHandler(cmd string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !a.requireRunning(w) {
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		result, err := a.loop.Send(ctx, cmd)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				jsonError(w, "recorder did not answer", http.StatusGatewayTimeout)
				return
			}
			jsonError(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeCommandResult(w, result)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (a *App) requireRunning(w http.ResponseWriter) bool {
	if a.loop != nil && a.phase.Load().(string) == PhaseRunning {
		return true
	}
	msg := "recorder not running"
	if f := a.fault.Load().(string); f != "" {
		msg += ": " + f
	}
	jsonError(w, msg, http.StatusServiceUnavailable)
	return false
}

// decodeBody reads a small JSON request body into dst and answers 400 on
// failure.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 4<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		jsonError(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]any{
		"ok":    false,
		"error": msg,
	})
}

// writeCommandResult writes a recorder.CommandResult as JSON. Rejected
// commands are conflicts with the recorder's current state.
func writeCommandResult(w http.ResponseWriter, result recorder.CommandResult) {
	code := http.StatusOK
	if !result.OK {
		code = http.StatusConflict
	}
	writeJSON(w, code, result)
}
