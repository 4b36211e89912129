package version

import (
	"fmt"
	"runtime"
)

// Build metadata, overridden at release time via -ldflags.
var (
	Version   = "development"
	GitCommit = ""
	GitTag    = ""
)

// VersionInfo describes the running binary
type VersionInfo struct {
	Version   string
	GitCommit string
	GitTag    string
	GoVersion string
	Compiler  string
	Platform  string
}

// Get returns the version information for the running binary
func Get() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		GitTag:    GitTag,
		GoVersion: runtime.Version(),
		Compiler:  runtime.Compiler,
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (v *VersionInfo) String() string {
	commit := v.GitCommit
	if len(commit) > 8 {
		commit = commit[:8]
	}
	if commit != "" {
		return fmt.Sprintf("%s (%s)", v.Version, commit)
	}
	return v.Version
}
