// Package version exposes build metadata for alarmd and alarmctl.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags and default to sensible values for local builds. Short and Full
// render the version for the cobra "version" subcommand; UserAgent tags gRPC
// calls made by the control client.
package version
