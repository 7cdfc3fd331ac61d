// Package version holds the build version, set at link time with
// -ldflags "-X imagehost/pkg/version.Version=...".
package version

// Version is the release string reported by the CLI and /api/version.
var Version = "dev"
