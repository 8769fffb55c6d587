// Package version holds build metadata injected via ldflags.
package version

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// AppName identifies the client in the User-Agent header.
const AppName = "usagebar"

// UserAgent returns "<app>/<version>".
func UserAgent() string {
	return AppName + "/" + Version
}
