// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata as a single log-friendly value,
// e.g. "1.4.0 (3fa9c2d, 2026-08-26)".
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
