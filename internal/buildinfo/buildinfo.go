// Package buildinfo carries version identifiers stamped via -ldflags at
// build time.
package buildinfo

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// String returns a single-line description for logs and health output.
func String() string {
	return Version + " (" + Commit + ", " + BuildDate + ")"
}
