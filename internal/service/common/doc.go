// Package common holds helpers shared by the daemon and the control client.
//
// It provides a gRPC client wrapper with call timeouts and caller identity,
// detection of the current system actor (hostname/username), and a lookup of
// other running instances of an executable.
//
//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common
