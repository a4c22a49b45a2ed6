// Command pipelinerun is a single binary that reads a run-specification
// document, resolves the stage graph it names, and executes whatever the
// invalidator marks stale.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	rootCmd := newRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
