package config

import "fmt"

// Set at link time:
//
//	go build -ldflags "-X llcstack/internal/config.version=1.4.0 \
//	    -X llcstack/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X llcstack/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo returns the linker-injected build metadata.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// UserAgent is the User-Agent sent on outbound processor calls.
func (b BuildInfo) UserAgent(service string) string {
	return fmt.Sprintf("%s/%s (%s)", service, b.Version, b.Commit)
}
