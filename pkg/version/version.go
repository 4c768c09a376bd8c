// Package version carries build information injected through ldflags:
//
//	-X github.com/Aman-CERP/amanfind/pkg/version.Version=...
//	-X github.com/Aman-CERP/amanfind/pkg/version.Commit=...
//	-X github.com/Aman-CERP/amanfind/pkg/version.Date=...
package version

import (
	"fmt"
	"runtime"
)

// Version is "dev" for builds without ldflags.
var Version = "dev"

var (
	Commit = "unknown"
	// Date is RFC3339.
	Date = "unknown"
)

// BuildInfo is the JSON shape of `amanfind version --json`.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String returns a one-line description.
func String() string {
	i := GetInfo()
	return fmt.Sprintf("amanfind %s (commit: %s, built: %s, %s, %s)",
		i.Version, i.Commit, i.Date, i.GoVersion, i.Platform)
}

// Short returns just the version.
func Short() string {
	return Version
}
