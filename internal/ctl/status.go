package ctl

import (
	"fmt"
	"strings"
	"time"
)

// StatusResponse mirrors the JSON returned by GET /api/status.
type StatusResponse struct {
	Name          string          `json:"name"`
	Phase         string          `json:"phase"`
	State         string          `json:"state"`
	Mode          string          `json:"mode"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	DeviceID      string          `json:"device_id"`
	Source        string          `json:"source"`
	FilePath      string          `json:"file_path"`
	UploadURL     string          `json:"upload_url"`
	Button        bool            `json:"button"`
	LED           bool            `json:"led"`
	WSClients     int             `json:"ws_clients"`
	Fault         string          `json:"fault"`
	Recorder      *RecorderStatus `json:"recorder"`
	Disk          *DiskUsage      `json:"disk"`
}

// RecorderStatus mirrors the recorder snapshot embedded in the status.
type RecorderStatus struct {
	State   string `json:"state"`
	Session struct {
		Active       bool   `json:"active"`
		StartedAt    string `json:"started_at"`
		BytesWritten int64  `json:"bytes_written"`
	} `json:"session"`
	ElapsedMS  int64   `json:"elapsed_ms"`
	Level      float64 `json:"level"`
	Overruns   uint64  `json:"overruns"`
	Indicator  string  `json:"indicator"`
	LastStop   string  `json:"last_stop"`
	LastError  string  `json:"last_error"`
	Retained   string  `json:"retained"`
	LastUpload *struct {
		At         string `json:"at"`
		OK         bool   `json:"ok"`
		StatusCode int    `json:"status_code"`
		Bytes      int64  `json:"bytes"`
		Error      string `json:"error"`
	} `json:"last_upload"`
	Counters struct {
		Sessions       uint64 `json:"sessions"`
		Uploaded       uint64 `json:"uploaded"`
		UploadFailures uint64 `json:"upload_failures"`
		Aborted        uint64 `json:"aborted"`
	} `json:"counters"`
}

// DiskUsage mirrors the recording file system usage.
type DiskUsage struct {
	Path           string  `json:"path"`
	TotalBytes     int64   `json:"total_bytes"`
	UsedBytes      int64   `json:"used_bytes"`
	AvailableBytes int64   `json:"available_bytes"`
	UsedPercent    float64 `json:"used_percent"`
}

// Status fetches the daemon status and prints a formatted summary.
func Status(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var s StatusResponse
	if err := getJSON(baseURL, "/api/status", &s); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(s)
	}

	uptime := formatDuration(time.Duration(s.UptimeSeconds) * time.Second)
	field := func(key, val string) {
		fmt.Printf("  %-12s %s\n", colorize(dim, key+":"), val)
	}

	fmt.Println()
	fmt.Println(header("  POCKETMIC STATUS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
	field("Device", s.DeviceID)
	field("State", colorize(stateColor(s.State), s.State))
	field("Mode", s.Mode)
	field("Uptime", uptime)
	field("Source", s.Source)
	field("Button", onOff(s.Button, "pressed", "released"))
	field("LED", onOff(s.LED, "on", "off"))
	if s.Fault != "" {
		field("Fault", colorize(red, s.Fault))
	}

	if r := s.Recorder; r != nil {
		fmt.Println()
		fmt.Println(header("  RECORDER"))
		fmt.Println(colorize(dim, "  "+strings.Repeat("─", 38)))
		field("Indicator", r.Indicator)
		if r.Session.Active {
			elapsed := time.Duration(r.ElapsedMS) * time.Millisecond
			field("Recording", fmt.Sprintf("%s, %s", formatDuration(elapsed), formatBytes(r.Session.BytesWritten)))
			field("Level", fmt.Sprintf("%.3f", r.Level))
			if r.Overruns > 0 {
				field("Overruns", colorize(yellow, fmt.Sprint(r.Overruns)))
			}
		}
		field("Sessions", fmt.Sprintf("%d (%d uploaded, %d failed, %d aborted)",
			r.Counters.Sessions, r.Counters.Uploaded, r.Counters.UploadFailures, r.Counters.Aborted))
		if r.LastStop != "" {
			field("Last stop", r.LastStop)
		}
		if u := r.LastUpload; u != nil {
			if u.OK {
				field("Last upload", colorize(green, fmt.Sprintf("HTTP %d, %s", u.StatusCode, formatBytes(u.Bytes))))
			} else {
				field("Last upload", colorize(red, u.Error))
			}
		}
		if r.Retained != "" {
			field("Retained", colorize(yellow, r.Retained+" (micctl retry)"))
		}
		if r.LastError != "" {
			field("Last error", colorize(red, r.LastError))
		}
	}

	fmt.Println()
	field("File", s.FilePath)
	field("Upload", s.UploadURL)
	if s.Disk != nil {
		field("Disk free", fmt.Sprintf("%s of %s (%.0f%% used)",
			formatBytes(s.Disk.AvailableBytes), formatBytes(s.Disk.TotalBytes), s.Disk.UsedPercent))
	}
	field("Host", baseURL)
	fmt.Println()

	return nil
}

func onOff(v bool, on, off string) string {
	if v {
		return colorize(green, on)
	}
	return colorize(dim, off)
}
