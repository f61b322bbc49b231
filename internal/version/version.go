// Package version holds build information for the lexgen binaries, set at
// link time:
//
//	-X github.com/direitopremium/lexgen/internal/version.Version=v0.3.0
//	-X github.com/direitopremium/lexgen/internal/version.Commit=abc1234
//	-X github.com/direitopremium/lexgen/internal/version.Date=2025-03-01T00:00:00Z
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns e.g. "v0.3.0 (commit abc1234, built 2025-03-01T00:00:00Z)".
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Info is the JSON form served on /version and printed by the CLI.
type Info struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Get returns the current build information.
func Get() Info { return Info{Version: Version, Commit: Commit, Date: Date} }
