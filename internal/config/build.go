package config

import "fmt"

// Release builds stamp these at link time:
//
//	go build -ldflags "-X notifyreplay/internal/config.version=1.2.3 \
//	    -X notifyreplay/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X notifyreplay/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	    ./cmd/notifyreplay
//
// A plain go build or go test keeps the defaults below.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the stamped build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String is the line printed by notifyreplay --version.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.BuildTime)
}

// UserAgent is the default User-Agent of replayed notifications.
func (b BuildInfo) UserAgent() string {
	return "notifyreplay/" + b.Version
}
