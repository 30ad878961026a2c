package version

// Flag contains extra info about the version. It is helpul for tracking
// versions while developing. It should always by empty on the master branch.
const Flag = "develop"

var (
	// Version is The full version string
	Version = "0.1.0"

	// GitCommit is set with --ldflags "-X github.com/mosaicnetworks/rumor/src/version.GitCommit=$(git rev-parse HEAD)"
	GitCommit string
)

func init() {
	Version = FullVersion(Version, Flag, GitCommit)
}

// FullVersion appends the flag and the abbreviated commit, when present, to
// the base version.
func FullVersion(base, flag, commit string) string {
	v := base
	if flag != "" {
		v += "-" + flag
	}
	if len(commit) >= 8 {
		v += "-" + commit[:8]
	} else if commit != "" {
		v += "-" + commit
	}
	return v
}
