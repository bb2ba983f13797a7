package internal

import (
	"fmt"
	"runtime"
	"strings"
)

// Name used for the binary, directories, and log prefixes.
const Name = "kiln"

// String to indicate a local (non-pipeline) build.
const defaultLocalBuild = "(local)"

var (
	version   = "" // Version number (e.g., "1.2.3")
	gitCommit = "" // Git commit hash (e.g., "a1b2c3d4")
)

// Returns the current version with any "v" prefix stripped, or "" when the
// binary was built without ldflags.
func Version() string {
	v := strings.TrimSpace(version)
	v = strings.ToLower(v)
	return strings.TrimPrefix(v, "v")
}

// Returns the git commit hash, or "" when unset.
func GitCommit() string {
	return strings.TrimSpace(gitCommit)
}

// Returns true if this is a local (non-pipeline) build.
//
// A build is considered local if either the version or the git commit is
// unset. Release builds set both via linker flags.
func IsLocal() bool {
	return Version() == "" || GitCommit() == ""
}

// Returns a detailed version string.
//
// If this is a local build, returns "(local)". Otherwise, returns a string
// formatted as "<version> <git-commit> [<arch>]".
func VersionString() string {
	if IsLocal() {
		return defaultLocalBuild
	}
	return fmt.Sprintf("%s %s [%s]", Version(), GitCommit(), runtime.GOARCH)
}
