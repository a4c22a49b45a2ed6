package orchestrator

import (
	"context"
	"fmt"

	"github.com/pipelinerun/pipelinerun/internal/collab/progress"
	"github.com/pipelinerun/pipelinerun/internal/collab/workerpool"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/cachestore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// executeContext implements stage.ExecuteContext for one node's Execute
// call. It is single-use: constructed immediately before Execute runs,
// discarded immediately after.
type executeContext struct {
	ctx       context.Context
	node      *graph.Node
	state     *runState
	collected cachestore.Info
}

var _ stage.ExecuteContext = (*executeContext)(nil)

// Config resolves a key from the node's already-finalized configuration
// tree (no Configure-pass recording happens here; that is sealed by the
// time a node reaches execution).
func (c *executeContext) Config(key string) (interface{}, error) {
	if v, ok := c.node.Config.Get(key); ok {
		return v, nil
	}
	return nil, fmt.Errorf("orchestrator: config key %q not present on %s", key, c.node.StageName())
}

func (c *executeContext) Stage(descriptor stage.Descriptor, opts ...stage.StageOption) (interface{}, error) {
	h, err := resolveDescriptor(c.node, descriptor, opts)
	if err != nil {
		return nil, err
	}
	return c.state.loadArtifact(h)
}

func (c *executeContext) Path(descriptor stage.Descriptor, opts ...stage.StageOption) (string, error) {
	h, err := resolveDescriptor(c.node, descriptor, opts)
	if err != nil {
		return "", err
	}
	return c.state.scratchDirFor(h)
}

func (c *executeContext) SetInfo(name string, value interface{}) {
	c.collected[name] = value
}

func (c *executeContext) GetInfo(descriptor stage.Descriptor, name string, opts ...stage.StageOption) (interface{}, error) {
	h, err := resolveDescriptor(c.node, descriptor, opts)
	if err != nil {
		return nil, err
	}

	var info cachestore.Info
	if h == c.node.Hash {
		info = c.collected
	} else {
		info, err = c.state.loadInfo(h)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load info for %s: %w", h, err)
		}
	}

	v, ok := info[name]
	if !ok {
		return nil, fmt.Errorf("orchestrator: info key %q not set for %s", name, h)
	}
	return v, nil
}

func (c *executeContext) Context() context.Context {
	return c.ctx
}

func (c *executeContext) Parallel(size int, bundle interface{}) (workerpool.Pool, error) {
	return c.state.workerPool.Acquire(size, bundle)
}

func (c *executeContext) Progress(label string, total int) progress.Reporter {
	return c.state.progress.Acquire(label, total)
}
