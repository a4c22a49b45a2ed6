package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	// Blank imports ensure each built-in stage's init() registration runs
	// for the CLI binary, mirroring cmd/streamy/plugins_import.go's
	// blank-import-triggers-init() plugin registration.
	_ "github.com/pipelinerun/pipelinerun/internal/examplestages/gitsnapshot"
	_ "github.com/pipelinerun/pipelinerun/internal/examplestages/recursive"
	_ "github.com/pipelinerun/pipelinerun/internal/examplestages/sumconfig"
	_ "github.com/pipelinerun/pipelinerun/internal/examplestages/tokenfile"
)

type rootFlags struct {
	verbose bool
	dryRun  bool
}

func newRootCmd(logger zerolog.Logger) *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "pipelinerun",
		Short:         "pipelinerun resolves and executes a reproducible stage graph",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug-level logging")
	cmd.PersistentFlags().BoolVar(&flags.dryRun, "dry-run", false, "Only resolve the graph and export the flowchart; execute nothing")

	cmd.AddCommand(newRunCmd(flags, logger))
	cmd.AddCommand(newFlowchartCmd(flags, logger))
	cmd.AddCommand(newVersionCmd())

	return cmd
}
