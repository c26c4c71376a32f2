// Package alarm implements the gRPC transport for the alarm scheduler.
//
// The alarm.v1.AlarmService descriptor is written by hand over protobuf
// well-known types: command lines travel as StringValue, alarms and events
// as Struct. Server adapts the command processor and the event hub to it.
package alarm
