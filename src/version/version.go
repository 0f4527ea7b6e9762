// Package version holds the version of ECHO, which is printed by the version
// command and reported by the HTTP service.
package version

// Flag contains extra info about the version. It is helpful for tracking
// versions while developing. It is empty on release builds.
const Flag = "develop"

var (
	// Version is the full version string
	Version = "0.1.0"

	// GitCommit is set with --ldflags "-X
	// github.com/mosaicnetworks/echo/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	Version = Format(Version, Flag, GitCommit)
}

// Format appends the flag and the short commit hash, when present, to a
// semantic version.
func Format(base, flag, commit string) string {
	v := base

	if flag != "" {
		v += "-" + flag
	}

	if len(commit) > 8 {
		commit = commit[:8]
	}
	if commit != "" {
		v += "-" + commit
	}

	return v
}
