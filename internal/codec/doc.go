// Package codec converts alarms and events to protobuf Struct values.
//
// The same shape is sent over the gRPC List and Watch calls and written to
// the event journal, so clients and the journal reader share one decoder.
package codec
