// Package version holds build version information, injected at link time.
package version

// Set via -ldflags "-X github.com/opensensor/lightnvr/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String returns the human-readable version line.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
