// Command alarmd runs the grouped alarm scheduler.
package main

import "github.com/oshokin/alarm-groups/cmd/alarmd/cmd"

func main() {
	cmd.Execute()
}
