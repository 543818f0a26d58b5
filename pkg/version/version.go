// Package version holds build metadata injected with -ldflags.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time:
//
//	-ldflags "-X .../pkg/version.Version=v1.2.0 -X .../pkg/version.Commit=abc123 -X .../pkg/version.Date=2026-01-01"
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns "version (commit: c, built: d)". For a dev build the VCS
// revision recorded by the Go toolchain is used when available.
func String() string {
	commit := Commit
	if commit == "none" {
		if rev, ok := vcsRevision(); ok {
			commit = rev
		}
	}

	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, commit, Date)
}

func vcsRevision() (string, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" && setting.Value != "" {
			return setting.Value, true
		}
	}

	return "", false
}
