package ctl

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Health checks daemon liveness via GET /healthz.
func Health(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	status, _, err := getRaw(baseURL, "/healthz")
	if err != nil {
		if jsonOutput {
			return printJSON(map[string]any{"healthy": false, "url": baseURL, "error": err.Error()})
		}
		return err
	}

	healthy := status == 200

	if jsonOutput {
		return printJSON(map[string]any{"healthy": healthy, "url": baseURL})
	}

	fmt.Println()
	if healthy {
		fmt.Printf("  %s  pocketmicd is reachable at %s\n", colorize(green, "HEALTHY"), colorize(dim, baseURL))
	} else {
		fmt.Printf("  %s  pocketmicd returned HTTP %d at %s\n", colorize(red, "UNHEALTHY"), status, colorize(dim, baseURL))
	}
	fmt.Println()

	return nil
}

// HealthDetail asks the daemon for its component checks and prints them.
func HealthDetail(baseURL string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	resp, err := do(http.MethodGet, baseURL, "/healthz", nil, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body struct {
		Healthy bool                      `json:"healthy"`
		Checks  map[string]map[string]any `json:"checks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("HTTP %s: %w", resp.Status, err)
	}
	if jsonOutput {
		return printJSON(body)
	}

	names := make([]string, 0, len(body.Checks))
	for name := range body.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Println()
	t := newTable("  ", "Check", "Status", "Detail")
	for _, name := range names {
		c := body.Checks[name]
		status := colorize(green, "ok")
		if ok, _ := c["ok"].(bool); !ok {
			status = colorize(red, "failing")
		}
		detail := ""
		if e, ok := c["error"].(string); ok {
			detail = e
		} else if p, ok := c["path"].(string); ok {
			detail = p
		} else if b, ok := c["broker"].(string); ok {
			detail = b
		} else if s, ok := c["source"].(string); ok {
			detail = s
		}
		t.row(name, status, detail)
	}
	t.flush()
	fmt.Println()
	if !body.Healthy {
		return fmt.Errorf("daemon unhealthy")
	}
	return nil
}
