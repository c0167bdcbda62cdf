// Command incidentkb turns a directory of incident post-mortems into a
// searchable vector index. It provides a CLI interface (via Cobra) for
// ingestion and search, and an optional HTTP server exposing the search API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/incidentkb/cmd/incidentkb/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
