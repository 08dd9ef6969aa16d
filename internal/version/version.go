// Package version provides build-time version information for robotv.
//
// Build-time variables are injected via ldflags:
//
//	go build -ldflags "
//	  -X github.com/pipelka/robotv-go/internal/version.Version=x.y.z
//	  -X github.com/pipelka/robotv-go/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/pipelka/robotv-go/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)
//	"
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version of this build.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"
)

// GoVersion is the Go runtime version.
var GoVersion = runtime.Version()

// ApplicationName is the canonical name of this application.
const ApplicationName = "robotv"

func init() {
	// If ldflags weren't provided, try to get VCS info from build info
	if Commit == "unknown" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, setting := range info.Settings {
				switch setting.Key {
				case "vcs.revision":
					Commit = setting.Value
				case "vcs.time":
					Date = setting.Value
				}
			}
		}
	}
}

// Short returns the version string alone.
func Short() string {
	return Version
}

// Full returns a human readable version line including commit and build date.
func Full() string {
	commit := Commit
	if len(commit) > 12 {
		commit = commit[:12]
	}
	return fmt.Sprintf("%s %s (commit %s, built %s, %s)", ApplicationName, Version, commit, Date, GoVersion)
}
