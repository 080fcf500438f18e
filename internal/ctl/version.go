package ctl

import (
	"fmt"

	"github.com/large-farva/pocketmic/internal/buildinfo"
)

type buildInfo struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version,omitempty"`
	BuiltAt   string `json:"built_at,omitempty"`
	Error     string `json:"error,omitempty"`
}

// VersionInfo prints the versions of micctl, the daemon at baseURL and, when
// collectorURL is set, the collector.
func VersionInfo(baseURL, collectorURL string, jsonOutput bool) error {
	bi := buildinfo.Get()
	out := map[string]buildInfo{
		"micctl": {Version: bi.Version, GoVersion: bi.GoVersion, BuiltAt: bi.BuiltAt},
	}

	var daemon buildInfo
	if err := getJSON(baseURL, "/api/version", &daemon); err != nil {
		daemon = buildInfo{Error: err.Error()}
	}
	out["pocketmicd"] = daemon

	if collectorURL != "" {
		var coll buildInfo
		if err := getJSON(collectorURL, "/", &coll); err != nil {
			coll = buildInfo{Error: err.Error()}
		}
		out["collector"] = coll
	}

	if jsonOutput {
		return printJSON(out)
	}

	fmt.Println()
	fmt.Println(header("  POCKETMIC VERSION"))
	fmt.Println()
	t := newTable("  ", "Component", "Version", "Go", "Built")
	for _, name := range []string{"micctl", "pocketmicd", "collector"} {
		b, ok := out[name]
		if !ok {
			continue
		}
		if b.Error != "" {
			t.row(name, colorize(red, "unreachable"), "", b.Error)
			continue
		}
		t.row(name, b.Version, b.GoVersion, b.BuiltAt)
	}
	t.flush()
	fmt.Println()
	return nil
}
