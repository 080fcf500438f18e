package ctl

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// RecordingEntry mirrors one row of the collector's GET /recordings.
type RecordingEntry struct {
	Filename    string    `json:"filename"`
	Size        int64     `json:"size"`
	SampleRate  int       `json:"sample_rate"`
	DurationMS  int64     `json:"duration_ms"`
	Peak        float64   `json:"peak"`
	RMS         float64   `json:"rms"`
	RemoteAddr  string    `json:"remote_addr"`
	Created     time.Time `json:"created"`
	DownloadURL string    `json:"download_url"`
}

// Recordings lists what the collector has received, newest first.
func Recordings(collectorURL string, limit int, jsonOutput bool) error {
	var resp struct {
		Recordings []RecordingEntry `json:"recordings"`
	}
	if err := getJSON(collectorURL, fmt.Sprintf("/recordings?limit=%d", limit), &resp); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	fmt.Println()
	fmt.Println(header("  RECORDINGS"))
	fmt.Println(colorize(dim, "  "+strings.Repeat("─", 50)))
	if len(resp.Recordings) == 0 {
		fmt.Println(colorize(dim, "  no recordings on "+collectorURL))
		fmt.Println()
		return nil
	}

	t := newTable("  ", "RECEIVED", "FILE", "LENGTH", "SIZE", "PEAK", "FROM")
	for _, r := range resp.Recordings {
		t.row(
			r.Created.Local().Format("2006-01-02 15:04:05"),
			r.Filename,
			fmt.Sprintf("%.1fs", float64(r.DurationMS)/1000),
			formatBytes(r.Size),
			fmt.Sprintf("%.2f", r.Peak),
			r.RemoteAddr,
		)
	}
	t.flush()
	fmt.Println()
	return nil
}

// Download fetches one recording from the collector into dir.
func Download(collectorURL, filename, dir string) (string, error) {
	url := strings.TrimRight(collectorURL, "/") + "/download/" + filename
	resp, err := httpClient.Get(url)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", httpError(resp, b)
	}

	dst := filepath.Join(dir, filepath.Base(filename))
	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(dst)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	fmt.Printf("\n  %s  %s\n\n", colorize(green, "SAVED"), dst)
	return dst, nil
}
