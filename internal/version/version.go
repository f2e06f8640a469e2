// Package version exposes build metadata stamped in at link time.
package version

import "fmt"

// Populated via -ldflags at build time.
var (
	Version = "0.1.0-dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info returns the full version string for the version subcommand.
func Info() string {
	return fmt.Sprintf("airguard %s (commit %s, built %s)", Version, Commit, Date)
}

// Short returns just the semantic version.
func Short() string {
	return Version
}
