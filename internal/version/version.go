// Package version carries build metadata stamped into the pegwatch binary
// via -ldflags.
package version

var (
	// Version is the pegwatch release tag. Overridden at build time.
	Version = "dev"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// BuildDate is the UTC build timestamp.
	BuildDate = "unknown"
)
