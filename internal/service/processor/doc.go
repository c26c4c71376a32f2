// Package processor turns commands into store mutations followed by worker
// reconciliation, and parses the line-oriented command syntax:
//
//	Start_Alarm(<id>): <seconds> [<category>] <message>
//	Replace_Alarm(<id>): <seconds> [<category>] <message>
//	Cancel_Alarm(<id>)
//	View_Alarms
//
// The bracketed category is optional.
package processor
