package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pipelinerun/pipelinerun/internal/collab/metrics"
	"github.com/pipelinerun/pipelinerun/internal/collab/progress"
	"github.com/pipelinerun/pipelinerun/internal/collab/workerpool"
	"github.com/pipelinerun/pipelinerun/internal/examplestages"
	"github.com/pipelinerun/pipelinerun/internal/pipeline"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configure"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
	"github.com/pipelinerun/pipelinerun/internal/runspec"
)

func newRunCmd(root *rootFlags, logger zerolog.Logger) *cobra.Command {
	var rerun bool

	cmd := &cobra.Command{
		Use:   "run [path]",
		Short: "Resolve the stage graph and execute whatever the invalidator marks stale",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := runspec.DefaultFilename
			if len(args) == 1 {
				path = args[0]
			}

			if root.verbose {
				logger = logger.Level(zerolog.DebugLevel)
			} else {
				logger = logger.Level(zerolog.InfoLevel)
			}

			spec, reg, targets, err := loadRunSpec(path)
			if err != nil {
				return err
			}

			if root.dryRun || spec.Dryrun {
				sealed, err := configure.Run(reg, targets, spec.Config)
				if err != nil {
					return err
				}
				return writeFlowchart(sealed, spec.FlowchartPath)
			}

			workDir := ""
			if spec.WorkingDirectory != "" {
				if err := os.MkdirAll(spec.WorkingDirectory, 0o755); err != nil {
					return fmt.Errorf("pipelinerun: create working directory: %w", err)
				}
				workDir = spec.WorkingDirectory
			}

			opts := pipeline.Options{
				WorkingDir:            workDir,
				RerunRequestedTargets: rerun,
				WorkerPool:            workerpool.DefaultFactory(),
				Progress:              progress.TerminalFactory{Logger: logger},
				Metrics:               metrics.PrometheusRecorder{},
				Logger:                logger,
			}

			result, sealed, err := pipeline.Run(context.Background(), reg, targets, spec.Config, opts)
			if err != nil {
				return err
			}

			logger.Info().Int("requested", len(result.Artifacts)).Int("nodes", len(sealed.Nodes)).Msg("run complete")
			for i, artifact := range result.Artifacts {
				fmt.Fprintf(cmd.OutOrStdout(), "%d: %v\n", i, artifact)
			}

			if spec.FlowchartPath != "" {
				return writeFlowchart(sealed, spec.FlowchartPath)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&rerun, "rerun-targets", false, "Force every requested target to re-execute regardless of cache state")

	return cmd
}

// loadRunSpec reads and validates the run specification at path, builds the
// built-in stage registry, and translates the run list into the
// configure.TargetRequest slice the core's configure pass consumes.
func loadRunSpec(path string) (*runspec.RunSpec, *stage.Registry, []configure.TargetRequest, error) {
	spec, err := runspec.Load(path)
	if err != nil {
		return nil, nil, nil, err
	}

	reg := stage.NewRegistry()
	if err := examplestages.RegisterAll(reg); err != nil {
		return nil, nil, nil, err
	}
	reg.SetAliases(spec.Aliases)

	targets := make([]configure.TargetRequest, 0, len(spec.Run))
	for _, entry := range spec.Run {
		descriptor := stage.Named(entry.Name)
		if extPath, ok := spec.Externals[entry.Name]; ok {
			descriptor = stage.External(entry.Name, extPath)
		}
		targets = append(targets, configure.TargetRequest{
			Descriptor:  descriptor,
			LocalConfig: entry.Config,
		})
	}

	return spec, reg, targets, nil
}
