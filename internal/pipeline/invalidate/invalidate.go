// Package invalidate implements the staleness analysis that decides
// whether a node must re-execute before the orchestrator can trust its
// cached artifact.
package invalidate

import (
	"fmt"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/cachestore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
)

// validateContext is the read-only context passed to a stage's Validate
// capability (stage.ValidateContext): its required configuration and its
// would-be cache-directory path.
type validateContext struct {
	config   configstore.Tree
	cacheDir string
}

func (c *validateContext) Config(key string) (interface{}, error) {
	if v, ok := c.config.Get(key); ok {
		return v, nil
	}
	return nil, fmt.Errorf("invalidate: config key %q not available", key)
}

func (c *validateContext) CacheDir() string {
	return c.cacheDir
}

// Resolution is the outcome of the invalidation pass for one node.
type Resolution struct {
	Stale   bool
	CacheID cachestore.CacheID
}

// Options configures a single invalidation pass.
type Options struct {
	// RerunRequestedTargets corresponds to the run's rerun_required_targets
	// policy input.
	RerunRequestedTargets bool

	// Store is nil when caching is disabled for this run (no working
	// directory was configured).
	Store *cachestore.Store
}

// Run performs the seven-step staleness analysis over reg in topoOrder,
// returning a per-node Resolution.
func Run(reg *graph.Registry, topoOrder []graph.NodeHash, opts Options) (map[graph.NodeHash]Resolution, error) {
	stale := make(map[graph.NodeHash]bool, len(reg.Nodes))
	cacheIDs := make(map[graph.NodeHash]cachestore.CacheID, len(reg.Nodes))
	artifactFound := make(map[graph.NodeHash]bool, len(reg.Nodes))

	requested := make(map[graph.NodeHash]struct{}, len(reg.RequestedHashes))
	for _, h := range reg.RequestedHashes {
		requested[h] = struct{}{}
	}

	// Step 1: requested-target policy.
	if opts.RerunRequestedTargets {
		for h := range requested {
			stale[h] = true
		}
	}

	// Step 2: no working directory — every ancestor of a requested target
	// is stale too, since nothing persists across runs.
	if opts.Store == nil {
		for h := range requested {
			stale[h] = true
			for ancestor := range reg.Ancestors(h) {
				stale[ancestor] = true
			}
		}
		for _, h := range topoOrder {
			cacheIDs[h] = cachestore.BuildCacheID(h, reg.SourceDigestClosure(h), "")
		}
	} else {
		for _, h := range topoOrder {
			node := reg.Nodes[h]
			if node == nil {
				continue
			}

			digests := reg.SourceDigestClosure(h)
			prefix := cachestore.ClosurePrefix(h, digests)

			existingID, existingToken, found, err := opts.Store.FindByClosure(prefix)
			if err != nil {
				return nil, err
			}
			artifactFound[h] = found

			// Step 3: cache presence, non-ephemeral nodes only.
			if !node.Ephemeral && !found {
				stale[h] = true
			}

			currentToken, err := computeValidationToken(node, existingID, opts.Store)
			if err != nil {
				return nil, fmt.Errorf("invalidate: validate %s: %w", node.StageName(), err)
			}

			// Step 4: validation token mismatch.
			if !found || currentToken != existingToken {
				stale[h] = true
			}

			id := existingID
			if !found || currentToken != existingToken {
				id = cachestore.BuildCacheID(h, digests, currentToken)
			}
			cacheIDs[h] = id
		}

		// Step 5: ancestor freshness, evaluated after every node's cache
		// id and presence is known so ancestor lookups are stable.
		for _, h := range topoOrder {
			if stale[h] || !artifactFound[h] {
				continue
			}
			nodeTime, err := opts.Store.ArtifactModTime(cacheIDs[h])
			if err != nil {
				continue
			}
			for ancestor := range reg.Ancestors(h) {
				if !artifactFound[ancestor] {
					continue
				}
				ancestorTime, err := opts.Store.ArtifactModTime(cacheIDs[ancestor])
				if err != nil {
					continue
				}
				if ancestorTime.After(nodeTime) {
					stale[h] = true
					break
				}
			}
		}
	}

	// Step 6: descendant propagation closure.
	propagateDescendants(stale, reg.Dependents())

	// Step 7: ephemeral re-materialization closure.
	propagateEphemeral(stale, reg, opts.Store, cacheIDs)

	resolutions := make(map[graph.NodeHash]Resolution, len(reg.Nodes))
	for h := range reg.Nodes {
		resolutions[h] = Resolution{Stale: stale[h], CacheID: cacheIDs[h]}
	}
	return resolutions, nil
}

// computeValidationToken invokes the node's Validate capability (a no-op
// returning "" for stages without one) and stringifies the result.
func computeValidationToken(node *graph.Node, existingID cachestore.CacheID, store *cachestore.Store) (string, error) {
	cacheDir := ""
	if existingID != "" && store != nil {
		if dir, err := store.ExistingScratchDirPath(existingID); err == nil {
			cacheDir = dir
		}
	}

	ctx := &validateContext{config: node.Config, cacheDir: cacheDir}
	token, err := node.Handle.Validate(ctx)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", nil
	}
	return fmt.Sprintf("%v", token), nil
}

func propagateDescendants(stale map[graph.NodeHash]bool, dependents map[graph.NodeHash][]graph.NodeHash) {
	queue := make([]graph.NodeHash, 0, len(stale))
	for h, v := range stale {
		if v {
			queue = append(queue, h)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, child := range dependents[cur] {
			if !stale[child] {
				stale[child] = true
				queue = append(queue, child)
			}
		}
	}
}

// propagateEphemeral closes the ephemeral re-materialization step: a stale
// node's ephemeral, not-yet-cached upstream becomes stale too, since it must be
// produced fresh to satisfy its downstream. Iterated to a fixpoint because
// marking an upstream stale can itself have ephemeral upstreams.
func propagateEphemeral(stale map[graph.NodeHash]bool, reg *graph.Registry, store *cachestore.Store, cacheIDs map[graph.NodeHash]cachestore.CacheID) {
	changed := true
	for changed {
		changed = false
		for h, isStale := range stale {
			if !isStale {
				continue
			}
			node := reg.Nodes[h]
			if node == nil {
				continue
			}
			for _, dep := range node.DependencyHashes {
				upstream := reg.Nodes[dep]
				if upstream == nil || !upstream.Ephemeral || stale[dep] {
					continue
				}
				cached := store != nil && store.HasArtifact(cacheIDs[dep])
				if !cached {
					stale[dep] = true
					changed = true
				}
			}
		}
	}
}
