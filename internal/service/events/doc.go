// Package events delivers the alarm event stream.
//
// A Sink receives every inserted, replaced, canceled, announced,
// worker-created and worker-terminated event. WriterSink prints one line per
// event, Hub fans events out to live subscribers such as gRPC watchers, and
// Multi combines several sinks.
package events
