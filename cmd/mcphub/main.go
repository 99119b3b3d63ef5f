// Command mcphub supervises the MCP providers listed in a settings file and
// optionally fronts them with a single Streamable MCP endpoint.
package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if err := Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
