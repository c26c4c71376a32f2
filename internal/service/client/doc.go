// Package client implements the alarmctl subcommands.
//
// Each subcommand dials the daemon's gRPC address from the settings file
// (or an override), identifies the caller and prints results to a writer.
package client
