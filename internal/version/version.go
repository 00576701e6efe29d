// Package version carries build metadata stamped in by the linker.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return "livelink " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies livelink to the live endpoint.
func UserAgent() string {
	return "livelink/" + Version + " (" + runtime.GOOS + "; " + runtime.GOARCH + ")"
}
