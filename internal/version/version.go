// Package version exposes build-time version information.
package version

import "runtime/debug"

// Set via -ldflags at release build time; development builds fall back to
// module build info.
var (
	Version   = "0.1.0"
	GitCommit = ""
	BuildTime = "unknown"
)

// Commit returns the release commit, falling back to the VCS revision
// embedded by the Go toolchain.
func Commit() string {
	if GitCommit != "" {
		return GitCommit
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" {
				return s.Value
			}
		}
	}
	return "unknown"
}
