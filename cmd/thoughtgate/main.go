// Command thoughtgate runs the ThoughtGate MCP policy enforcement sidecar.
package main

import "github.com/thoughtgate/thoughtgate/cmd/thoughtgate/cmd"

func main() {
	cmd.Execute()
}
