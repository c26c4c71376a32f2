// Package alarm contains core domain types for the grouped alarm scheduler.
//
// It defines Alarm (a caller-defined repeating announcement), the group
// function that buckets alarms by interval, Command (a parsed request) and
// Event (a single line of the output stream), plus the error taxonomy shared
// by the store, the registry and the command processor.
package alarm
