// Package buildinfo exposes the version stamped into the meetmem binary.
package buildinfo

import (
	"encoding/json"
	"net/http"
	"runtime"
	"runtime/debug"
)

// Set at build time:
//
//	-X github.com/otherjamesbrown/meetmem/pkg/buildinfo.Version=v0.3.0
//	-X github.com/otherjamesbrown/meetmem/pkg/buildinfo.Commit=4f1c2ab
//	-X github.com/otherjamesbrown/meetmem/pkg/buildinfo.BuildTime=2026-05-02T08:00:00Z
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info describes a running meetmem component.
type Info struct {
	Component string `json:"component" yaml:"component"`
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	BuildTime string `json:"build_time" yaml:"build_time"`
	GoVersion string `json:"go_version" yaml:"go_version"`
}

// Get returns build info for component. When no commit was stamped, the VCS
// revision recorded by the Go toolchain is used if present.
func Get(component string) Info {
	commit := Commit
	if commit == "unknown" {
		commit = vcsRevision(debug.ReadBuildInfo)
	}
	return Info{
		Component: component,
		Version:   Version,
		Commit:    commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

func vcsRevision(read func() (*debug.BuildInfo, bool)) string {
	bi, ok := read()
	if !ok {
		return "unknown"
	}
	for _, s := range bi.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 7 {
				return s.Value[:7]
			}
			return s.Value
		}
	}
	return "unknown"
}

// String returns a one-liner like "v0.3.0 (4f1c2ab, 2026-05-02T08:00:00Z)".
func String() string {
	return Version + " (" + Commit + ", " + BuildTime + ")"
}

// Handler serves Get(component) as JSON.
func Handler(component string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(Get(component))
	}
}
