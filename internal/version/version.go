package version

import "fmt"

var (
	// Version is the release tag, set with -ldflags at build time.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// String formats the build identity for -version output and the admin index.
func String() string {
	return fmt.Sprintf("manipulathor %s (%s, built %s)", Version, GitSHA, BuildTime)
}
