// Package buildinfo carries the version stamped into every pocketmic binary.
//
//	go build -ldflags "-X github.com/large-farva/pocketmic/internal/buildinfo.Version=v1.0.0 \
//	  -X github.com/large-farva/pocketmic/internal/buildinfo.BuiltAt=$(date -u +%FT%TZ)"
package buildinfo

import "runtime"

var (
	Version = "dev"
	BuiltAt = "unknown"
)

// Info is the JSON shape served on version endpoints.
type Info struct {
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	BuiltAt   string `json:"built_at"`
}

// Get returns the stamped version and the toolchain that built the binary.
func Get() Info {
	return Info{Version: Version, GoVersion: runtime.Version(), BuiltAt: BuiltAt}
}
