package version

import (
	"fmt"
	"runtime"
)

// Build information, set at build time via
// -ldflags "-X github.com/teranos/windturbine/version.CommitHash=..."
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

// Name is the binary name shown in version output
const Name = "windturbine"

// Info contains version and build information
type Info struct {
	Name       string `json:"name"`
	CommitHash string `json:"commit_hash"`
	BuildTime  string `json:"build_time"`
	Version    string `json:"version"`
	GoVersion  string `json:"go_version"`
	Platform   string `json:"platform"`
}

// Get returns the current version information
func Get() Info {
	return Info{
		Name:       Name,
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    Version,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string
func (i Info) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", i.Name, i.Version, i.Short(), i.BuildTime)
}

// Short returns the abbreviated commit hash
func (i Info) Short() string {
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
