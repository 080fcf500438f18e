package ctl

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 5 * time.Second}

// do sends one request to baseURL+path. A non-nil body is sent as JSON.
func do(method, baseURL, path string, body any, header http.Header) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, strings.TrimRight(baseURL, "/")+path, rd)
	if err != nil {
		return nil, err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return httpClient.Do(req)
}

// getJSON decodes the JSON reply of a GET into dst.
func getJSON(baseURL, path string, dst any) error {
	resp, err := do(http.MethodGet, baseURL, path, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, dst, false)
}

// getRaw returns the status code and body of a GET.
func getRaw(baseURL, path string) (int, []byte, error) {
	resp, err := do(http.MethodGet, baseURL, path, nil, nil)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return resp.StatusCode, b, err
}

// postJSON posts body and decodes the reply into dst. A 409 still decodes:
// the daemon answers rejected commands with a result body.
func postJSON(baseURL, path string, body, dst any) error {
	resp, err := do(http.MethodPost, baseURL, path, body, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeJSON(resp, dst, true)
}

func decodeJSON(resp *http.Response, dst any, allowConflict bool) error {
	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok && !(allowConflict && resp.StatusCode == http.StatusConflict) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return httpError(resp, b)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("decode %s reply: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// httpError prefers the "error" or "message" field of a JSON body over the
// raw text.
func httpError(resp *http.Response, body []byte) error {
	var e struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil {
		switch {
		case e.Error != "":
			msg = e.Error
		case e.Message != "":
			msg = e.Message
		}
	}
	if msg == "" {
		return fmt.Errorf("HTTP %s", resp.Status)
	}
	return fmt.Errorf("HTTP %s: %s", resp.Status, msg)
}

// printJSON prints v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
