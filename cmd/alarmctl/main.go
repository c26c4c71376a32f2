// Command alarmctl sends commands to a running alarmd and watches its events.
package main

import "github.com/oshokin/alarm-groups/cmd/alarmctl/cmd"

func main() {
	cmd.Execute()
}
