// Package version holds the build metadata stamped into release binaries
// with the -X linker flag.
package version

var (
	// Version is the version of the running server. "0.0.0" marks an
	// unstamped development build.
	Version = "0.0.0"

	// BuildDate is the date the executable was built.
	BuildDate string
)
