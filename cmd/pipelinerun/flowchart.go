package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/configure"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/internal/runspec"
	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

func newFlowchartCmd(root *rootFlags, logger zerolog.Logger) *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "flowchart [path]",
		Short: "Resolve the stage graph and export its descriptor-level flowchart as JSON, executing nothing",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := runspec.DefaultFilename
			if len(args) == 1 {
				path = args[0]
			}

			spec, reg, targets, err := loadRunSpec(path)
			if err != nil {
				return err
			}

			sealed, err := configure.Run(reg, targets, spec.Config)
			if err != nil {
				return err
			}

			target := out
			if target == "" {
				target = spec.FlowchartPath
			}
			if target == "" {
				target = "flowchart.json"
			}

			return writeFlowchart(sealed, target)
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Flowchart JSON output path (defaults to the run specification's flowchart_path, then flowchart.json)")

	return cmd
}

// writeFlowchart renders reg's descriptor graph as node-link JSON and writes
// it to path. An empty path is a no-op, matching flowchart_path's optional
// default.
func writeFlowchart(reg *graph.Registry, path string) error {
	if path == "" {
		return nil
	}

	fc := reg.BuildFlowchart()
	data, err := fc.Encode()
	if err != nil {
		return fmt.Errorf("pipelinerun: encode flowchart: %w", err)
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if _, err := os.Stat(dir); err != nil {
			return pipelineerr.NewCacheError(dir, fmt.Errorf("flowchart target directory missing: %w", err))
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pipelinerun: write flowchart to %s: %w", path, err)
	}
	return nil
}
