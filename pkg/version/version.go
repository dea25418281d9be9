// Package version carries build identification set via ldflags.
package version

import "fmt"

// Set by the release build via -ldflags.
//
//nolint:gochecknoglobals // Build-time variables
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a one-line version description.
func String() string {
	return fmt.Sprintf("qualgen %s (commit %s, built %s)", Version, Commit, Date)
}
