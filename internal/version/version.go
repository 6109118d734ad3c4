package version

import "fmt"

// Set at build time:
// go build -ldflags "-X github.com/nvprime/nvprime/internal/version.Version=v0.3.0".
var (
	Version   = "unknown"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// String is the one-line version banner printed by --version and reported in
// health responses.
func String() string {
	return fmt.Sprintf("nvprime %s (commit %s, built %s)", Version, GitCommit, BuildTime)
}
