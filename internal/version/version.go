// Package version provides build-time version information.
//
// Variables are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/jarvis-app/realtime/internal/version.Version=1.0.0 \
//	                   -X github.com/jarvis-app/realtime/internal/version.Commit=$(git rev-parse --short HEAD) \
//	                   -X github.com/jarvis-app/realtime/internal/version.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" ./cmd/jarvisd
package version

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// Info is the build information reported by the status server.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build information.
func Get() Info {
	return Info{Version: Version, Commit: Commit, BuildTime: BuildTime}
}

// String returns a formatted version string.
func (i Info) String() string {
	return i.Version + " (" + i.Commit + ") built " + i.BuildTime
}

// String returns the formatted version of this binary.
func String() string {
	return Get().String()
}
