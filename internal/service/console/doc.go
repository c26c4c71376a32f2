// Package console runs the interactive read-eval loop of the daemon.
//
// Each stdin line is handed to the command processor; the status line or the
// error is printed back after the "alarm> " prompt.
package console
