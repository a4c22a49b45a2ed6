// Package orchestrator implements the execution orchestrator: single-
// threaded traversal of the hash graph in topological order, executing
// stale nodes, persisting artifacts, loading cached artifacts on demand,
// and reclaiming ephemeral storage.
//
// The sequential-traversal shape is a deliberate divergence from executors
// that run a whole DAG *level* concurrently with goroutines — no two nodes
// execute concurrently at this layer, so parallelism is pushed down into
// the worker-pool collaborator a stage's own Execute may invoke
// (internal/collab/workerpool).
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pipelinerun/pipelinerun/internal/collab/metrics"
	"github.com/pipelinerun/pipelinerun/internal/collab/progress"
	"github.com/pipelinerun/pipelinerun/internal/collab/workerpool"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/cachestore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/invalidate"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

// Options configures a single orchestrated run.
type Options struct {
	// Store is nil when caching is disabled for this run; artifacts then
	// live only in memory for the run's duration.
	Store *cachestore.Store

	WorkerPool workerpool.Factory
	Progress   progress.Factory
	Metrics    metrics.Recorder
	Logger     zerolog.Logger
}

// Result holds the artifacts of the requested targets, indexed in the
// order the targets were originally requested.
type Result struct {
	Artifacts []interface{}
}

// Run traverses reg's hash graph in topoOrder, executing every node
// resolutions marks stale and loading the rest from cache.
func Run(ctx context.Context, reg *graph.Registry, topoOrder []graph.NodeHash, resolutions map[graph.NodeHash]invalidate.Resolution, opts Options) (*Result, error) {
	if opts.WorkerPool == nil {
		opts.WorkerPool = workerpool.DefaultFactory()
	}
	if opts.Progress == nil {
		opts.Progress = progress.MockFactory{}
	}
	rec := metrics.OrNoop(opts.Metrics)

	state := &runState{
		reg:         reg,
		resolutions: resolutions,
		store:       opts.Store,
		artifacts:   make(map[graph.NodeHash]interface{}),
		infos:       make(map[graph.NodeHash]cachestore.Info),
		scratchDirs: make(map[graph.NodeHash]string),
		workerPool:  opts.WorkerPool,
		progress:    opts.Progress,
	}
	defer state.cleanupTempDirs(opts.Store == nil)

	requestedIdx := make(map[graph.NodeHash][]int, len(reg.RequestedHashes))
	for i, h := range reg.RequestedHashes {
		requestedIdx[h] = append(requestedIdx[h], i)
	}
	results := make([]interface{}, len(reg.RequestedHashes))

	ephemeralRefcount := computeEphemeralRefcounts(reg, resolutions, opts.Store != nil)

	for _, h := range topoOrder {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := reg.Nodes[h]
		if node == nil {
			continue
		}
		res := resolutions[h]
		if res.Stale {
			rec.NodeStale(node.StageName())
		}
		if !res.Stale {
			continue
		}

		if _, err := state.prepareScratchDir(h, res); err != nil {
			return nil, fmt.Errorf("orchestrator: prepare scratch dir for %s: %w", node.StageName(), err)
		}

		for _, dep := range uniqueHashes(node.DependencyHashes) {
			if _, err := state.loadInfo(dep); err != nil {
				opts.Logger.Debug().Str("dependency", dep.String()).Msg("info sidecar unavailable, proceeding with empty info")
			}
		}

		collected := cachestore.Info{}
		ectx := &executeContext{
			ctx:       ctx,
			node:      node,
			state:     state,
			collected: collected,
		}

		start := time.Now()
		artifact, err := node.Handle.Execute(ectx)
		rec.NodeDuration(node.StageName(), time.Since(start))
		if err != nil {
			return nil, pipelineerr.NewStageError(h.String(), node.StageName(), err)
		}
		rec.NodeExecuted(node.StageName())

		state.mu.Lock()
		state.artifacts[h] = artifact
		state.infos[h] = collected
		state.mu.Unlock()

		if opts.Store != nil {
			if err := opts.Store.SaveArtifact(res.CacheID, artifact); err != nil {
				return nil, fmt.Errorf("orchestrator: persist artifact for %s: %w", node.StageName(), err)
			}
			if err := opts.Store.SaveInfo(res.CacheID, collected); err != nil {
				return nil, fmt.Errorf("orchestrator: persist info for %s: %w", node.StageName(), err)
			}
		}

		if idxs, ok := requestedIdx[h]; ok {
			for _, i := range idxs {
				results[i] = artifact
			}
		}

		reclaimConsumedEphemerals(state, node, ephemeralRefcount, opts.Store)
	}

	// Any requested target satisfied entirely from cache (never stale) is
	// loaded from disk now.
	for i, h := range reg.RequestedHashes {
		if results[i] != nil {
			continue
		}
		res := resolutions[h]
		if res.Stale {
			continue
		}
		artifact, err := state.loadArtifact(h)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: load cached result for requested target %s: %w", h, err)
		}
		results[i] = artifact
	}

	return &Result{Artifacts: results}, nil
}

// runState is the in-memory state shared by every executeContext
// constructed during one Run call: memoized artifacts/info, per-node
// scratch directories, and the collaborator factories.
type runState struct {
	mu sync.Mutex

	reg         *graph.Registry
	resolutions map[graph.NodeHash]invalidate.Resolution
	store       *cachestore.Store

	artifacts   map[graph.NodeHash]interface{}
	infos       map[graph.NodeHash]cachestore.Info
	scratchDirs map[graph.NodeHash]string

	workerPool workerpool.Factory
	progress   progress.Factory
}

func (s *runState) prepareScratchDir(h graph.NodeHash, res invalidate.Resolution) (string, error) {
	var dir string
	var err error
	if s.store != nil {
		dir, err = s.store.ScratchDir(res.CacheID)
	} else {
		dir, err = os.MkdirTemp("", "pipelinerun-"+h.String()+"-")
	}
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.scratchDirs[h] = dir
	s.mu.Unlock()
	return dir, nil
}

func (s *runState) scratchDirFor(h graph.NodeHash) (string, error) {
	s.mu.Lock()
	dir, ok := s.scratchDirs[h]
	s.mu.Unlock()
	if ok {
		return dir, nil
	}
	if s.store == nil {
		return "", fmt.Errorf("orchestrator: no scratch directory recorded for %s", h)
	}
	res, ok := s.resolutions[h]
	if !ok {
		return "", fmt.Errorf("orchestrator: no cache id for %s", h)
	}
	dir, err := s.store.ExistingScratchDirPath(res.CacheID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.scratchDirs[h] = dir
	s.mu.Unlock()
	return dir, nil
}

func (s *runState) loadArtifact(h graph.NodeHash) (interface{}, error) {
	s.mu.Lock()
	if v, ok := s.artifacts[h]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	if s.store == nil {
		return nil, fmt.Errorf("orchestrator: artifact for %s not available in memory and caching is disabled", h)
	}
	res, ok := s.resolutions[h]
	if !ok {
		return nil, fmt.Errorf("orchestrator: no cache id for %s", h)
	}
	v, err := s.store.LoadArtifact(res.CacheID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.artifacts[h] = v
	s.mu.Unlock()
	return v, nil
}

func (s *runState) loadInfo(h graph.NodeHash) (cachestore.Info, error) {
	s.mu.Lock()
	if v, ok := s.infos[h]; ok {
		s.mu.Unlock()
		return v, nil
	}
	s.mu.Unlock()

	if s.store == nil {
		return cachestore.Info{}, nil
	}
	res, ok := s.resolutions[h]
	if !ok {
		return cachestore.Info{}, nil
	}
	info, err := s.store.LoadInfo(res.CacheID)
	if err != nil {
		return cachestore.Info{}, err
	}
	s.mu.Lock()
	s.infos[h] = info
	s.mu.Unlock()
	return info, nil
}

func (s *runState) cleanupTempDirs(cachingDisabled bool) {
	if !cachingDisabled {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, dir := range s.scratchDirs {
		_ = os.RemoveAll(dir)
	}
}

// resolveDescriptor maps an execute-context stage/path/info call's
// descriptor to the declared dependency it refers to. It is checked against
// the node's declared dependencies and aliases; unknown calls are fatal.
func resolveDescriptor(node *graph.Node, d stage.Descriptor, opts []stage.StageOption) (graph.NodeHash, error) {
	if d.Kind() == stage.KindSelf {
		return node.Hash, nil
	}

	resolved := stage.ResolveStageOptions(opts)
	key := stage.UpstreamKey(d, resolved.LocalConfig)
	if h, ok := node.RequestHash(key); ok {
		return h, nil
	}
	if resolved.Alias != "" {
		if h, ok := node.AliasHash(resolved.Alias); ok {
			return h, nil
		}
	}
	if h, ok := node.AliasHash(d.String()); ok {
		return h, nil
	}
	return graph.NodeHash{}, pipelineerr.NewStructuralError(
		fmt.Sprintf("stage %s requested undeclared dependency %s", node.StageName(), d.String()), nil)
}

func uniqueHashes(in []graph.NodeHash) []graph.NodeHash {
	seen := make(map[graph.NodeHash]struct{}, len(in))
	out := make([]graph.NodeHash, 0, len(in))
	for _, h := range in {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

// computeEphemeralRefcounts builds the ephemeral accounting table: a
// counter per ephemeral upstream initialized to the number
// of distinct stale downstream nodes that consume it; an upstream already
// satisfied from disk at run start (non-stale) is not tracked at all, so it
// is never reclaimed this run.
func computeEphemeralRefcounts(reg *graph.Registry, resolutions map[graph.NodeHash]invalidate.Resolution, cachingEnabled bool) map[graph.NodeHash]int {
	counts := make(map[graph.NodeHash]int)
	if !cachingEnabled {
		return counts
	}
	dependents := reg.Dependents()
	for h, node := range reg.Nodes {
		if !node.Ephemeral {
			continue
		}
		if !resolutions[h].Stale {
			continue
		}
		n := 0
		for _, dep := range dependents[h] {
			if resolutions[dep].Stale {
				n++
			}
		}
		counts[h] = n
	}
	return counts
}

// reclaimConsumedEphemerals decrements the refcount of every ephemeral
// dependency of node now that node has finished executing, deleting the
// dependency's artifact and scratch directory once its count reaches zero.
func reclaimConsumedEphemerals(state *runState, node *graph.Node, counts map[graph.NodeHash]int, store *cachestore.Store) {
	for _, dep := range uniqueHashes(node.DependencyHashes) {
		depNode := state.reg.Nodes[dep]
		if depNode == nil || !depNode.Ephemeral {
			continue
		}
		if _, tracked := counts[dep]; !tracked {
			continue
		}
		counts[dep]--
		if counts[dep] > 0 {
			continue
		}

		state.mu.Lock()
		delete(state.artifacts, dep)
		scratchDir := state.scratchDirs[dep]
		delete(state.scratchDirs, dep)
		state.mu.Unlock()

		if store != nil {
			res := state.resolutions[dep]
			_ = store.RemoveArtifact(res.CacheID)
			_ = store.RemoveScratchDir(res.CacheID)
		} else if scratchDir != "" {
			_ = os.RemoveAll(scratchDir)
		}
	}
}
