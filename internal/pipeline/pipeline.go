// Package pipeline is the top-level facade wiring the configure pass,
// topological ordering, invalidation, and execution orchestrator together
// into a single entry point, so callers never have to assemble the
// pipeline stages themselves.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/pipelinerun/pipelinerun/internal/collab/metrics"
	"github.com/pipelinerun/pipelinerun/internal/collab/progress"
	"github.com/pipelinerun/pipelinerun/internal/collab/workerpool"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/cachestore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configure"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/invalidate"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/orchestrator"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// Options configures one end-to-end run.
type Options struct {
	// WorkingDir is the directory caches, artifacts, and scratch
	// directories live under. Empty disables caching for the run.
	WorkingDir string

	// RerunRequestedTargets forces every requested target to re-execute
	// regardless of cache state; its ancestors are re-executed only if they
	// are stale on their own account.
	RerunRequestedTargets bool

	WorkerPool workerpool.Factory
	Progress   progress.Factory
	Metrics    metrics.Recorder
	Logger     zerolog.Logger
}

// Run expands targets against registry, resolves staleness, and executes
// whatever the invalidator marks stale, returning the requested targets'
// artifacts in request order plus the sealed graph (for flowchart export
// or introspection by callers such as the CLI).
func Run(ctx context.Context, registry *stage.Registry, targets []configure.TargetRequest, baseConfig configstore.Tree, opts Options) (*orchestrator.Result, *graph.Registry, error) {
	reg, err := configure.Run(registry, targets, baseConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: configure pass: %w", err)
	}

	order, err := reg.TopologicalOrder()
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: topological sort: %w", err)
	}

	var store *cachestore.Store
	if opts.WorkingDir != "" {
		store, err = cachestore.Open(opts.WorkingDir)
		if err != nil {
			return nil, nil, fmt.Errorf("pipeline: open cache store: %w", err)
		}
	}

	resolutions, err := invalidate.Run(reg, order, invalidate.Options{
		RerunRequestedTargets: opts.RerunRequestedTargets,
		Store:                 store,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: invalidation: %w", err)
	}

	result, err := orchestrator.Run(ctx, reg, order, resolutions, orchestrator.Options{
		Store:      store,
		WorkerPool: opts.WorkerPool,
		Progress:   opts.Progress,
		Metrics:    opts.Metrics,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: orchestration: %w", err)
	}

	return result, reg, nil
}
