// Package version carries build metadata injected at link time via
// -ldflags "-X github.com/artik0din/mcp-mail-manager/internal/version.Version=...".
package version

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)
