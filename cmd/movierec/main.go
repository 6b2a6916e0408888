// Command movierec builds a semantic movie corpus from a CSV catalogue and
// answers free-text recommendation queries against it.
//
// Usage:
//
//	movierec [--config config.yaml] <command> [args]
//
// Commands:
//
//	ingest     - rebuild the corpus from the configured CSV source
//	serve      - run the HTTP API
//	recommend  - one-shot query from the command line
//	tui        - interactive terminal recommender
//	count      - number of records in the corpus
package main

import (
	"fmt"
	"os"

	"movierec/cmd/movierec/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
