// Package config defines the settings used by alarmd and alarmctl and
// provides helpers to load, validate and save them in YAML format.
//
// Validate fills defaults for the worker tick, lock and stop timeouts, spawn
// retries and client call timeout, so a zero Config plus a listen address is
// a working daemon configuration.
package config
