package graph

import (
	"sort"

	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

// TopologicalOrder computes a deterministic topological order over the
// hash graph using Kahn's algorithm, breaking ties by lexicographic node
// hash the way a deterministic scheduler breaks ties by step ID — here
// applied to content hashes instead of user-chosen IDs since node identity
// is hash-based. A cycle is reported as a StructuralError before any
// invalidation or execution happens.
func (r *Registry) TopologicalOrder() ([]NodeHash, error) {
	// indegree[n] is the number of distinct dependencies n has; n becomes
	// ready once every dependency has been emitted.
	indegree := make(map[NodeHash]int, len(r.Nodes))
	for h, node := range r.Nodes {
		indegree[h] = len(uniqueHashes(node.DependencyHashes))
	}

	dependents := r.Dependents()

	var ready []NodeHash
	for h, deg := range indegree {
		if deg == 0 {
			ready = append(ready, h)
		}
	}
	sortHashes(ready)

	order := make([]NodeHash, 0, len(r.Nodes))
	for len(ready) > 0 {
		sortHashes(ready)
		cur := ready[0]
		ready = ready[1:]
		order = append(order, cur)

		next := make([]NodeHash, 0)
		for _, child := range dependents[cur] {
			indegree[child]--
			if indegree[child] == 0 {
				next = append(next, child)
			}
		}
		sortHashes(next)
		ready = append(ready, next...)
	}

	if len(order) != len(r.Nodes) {
		return nil, pipelineerr.NewStructuralError("cycle detected in stage graph", nil)
	}
	return order, nil
}

func uniqueHashes(in []NodeHash) []NodeHash {
	seen := make(map[NodeHash]struct{}, len(in))
	out := make([]NodeHash, 0, len(in))
	for _, h := range in {
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out
}

func sortHashes(hashes []NodeHash) {
	sort.Slice(hashes, func(i, j int) bool {
		return hashes[i].String() < hashes[j].String()
	})
}
