// Package version carries the build metadata stamped into release
// binaries through -ldflags.
package version

import (
	"fmt"
	"runtime"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the version line printed by --version
func String() string {
	return fmt.Sprintf("persistence-setup %s (commit %s, built %s, %s)",
		Version, Commit, BuildDate, runtime.Version())
}
