// Package metrics exposes Prometheus collectors for commands, events and the
// number of running group workers, plus the HTTP handler that serves them.
package metrics
