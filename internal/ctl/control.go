package ctl

import (
	"fmt"
	"strings"
	"time"
)

// CommandResult mirrors the daemon's reply to a control request.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	Error   string `json:"error"`
	State   string `json:"state"`
}

// Press holds the software button down until Release.
func Press(baseURL string, jsonOutput bool) error {
	return button(baseURL, "press", jsonOutput)
}

// Release lets go of the software button.
func Release(baseURL string, jsonOutput bool) error {
	return button(baseURL, "release", jsonOutput)
}

func button(baseURL, action string, jsonOutput bool) error {
	var result struct {
		OK      bool `json:"ok"`
		Pressed bool `json:"pressed"`
	}
	if err := postJSON(baseURL, "/api/button", map[string]string{"action": action}, &result); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}
	fmt.Printf("\n  %s  button %s\n\n", colorize(green, strings.ToUpper(action)), onOff(result.Pressed, "pressed", "released"))
	return nil
}

// Record holds the button for d, so the daemon records one clip of that
// length and uploads it.
func Record(baseURL string, d time.Duration, jsonOutput bool) error {
	var result struct {
		OK         bool   `json:"ok"`
		Message    string `json:"message"`
		DurationMS int64  `json:"duration_ms"`
	}
	if err := postJSON(baseURL, "/api/record", map[string]int64{"duration_ms": d.Milliseconds()}, &result); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(result)
	}
	fmt.Printf("\n  %s  %s\n\n", colorize(green, "RECORDING"), result.Message)
	return nil
}

// Start begins a session without touching the button.
func Start(baseURL string, jsonOutput bool) error {
	return recorderControl(baseURL, "/api/start", "STARTED", jsonOutput)
}

// Stop ends the active session and uploads it.
func Stop(baseURL string, jsonOutput bool) error {
	return recorderControl(baseURL, "/api/stop", "STOPPED", jsonOutput)
}

// Cancel discards the active session without uploading.
func Cancel(baseURL string, jsonOutput bool) error {
	return recorderControl(baseURL, "/api/cancel", "CANCELLED", jsonOutput)
}

// Retry uploads a recording kept after a failed upload.
func Retry(baseURL string, jsonOutput bool) error {
	return recorderControl(baseURL, "/api/retry", "RETRIED", jsonOutput)
}

func recorderControl(baseURL, path, label string, jsonOutput bool) error {
	var result CommandResult
	if err := postJSON(baseURL, path, nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if result.OK {
		fmt.Printf("\n  %s  %s %s\n\n", colorize(green, label), result.Message, colorize(dim, "("+result.State+")"))
		return nil
	}
	fmt.Printf("\n  %s  %s\n\n", colorize(red, "REJECTED"), result.Error)
	return fmt.Errorf("%s rejected: %s", strings.TrimPrefix(path, "/api/"), result.Error)
}
