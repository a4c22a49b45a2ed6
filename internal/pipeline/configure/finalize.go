package configure

import (
	"fmt"
	"reflect"
	"sort"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

const (
	visitUnseen = iota
	visitInProgress
	visitDone
)

// finalize runs the reverse-topological configuration backflow pass over
// the provisional node set, then computes each node's final content hash
// and assembles the sealed graph.Registry.
func (d *driver) finalize(requestedProvIdx []int) (*graph.Registry, error) {
	state := make([]int, len(d.provs))
	for i := range d.provs {
		if err := d.backflow(i, state); err != nil {
			return nil, err
		}
	}

	finalHash := make([]graph.NodeHash, len(d.provs))
	for i, node := range d.provs {
		h, err := graph.ComputeNodeHash(node.handle.Name, configstore.Tree(node.config))
		if err != nil {
			return nil, err
		}
		finalHash[i] = h
	}

	ephemeralVotes := make(map[graph.NodeHash][]bool)
	for _, node := range d.provs {
		for _, edge := range node.edges {
			if edge.childIdx < 0 {
				continue
			}
			childHash := finalHash[edge.childIdx]
			ephemeralVotes[childHash] = append(ephemeralVotes[childHash], edge.ephemeral)
		}
	}

	reg := graph.NewRegistry()
	for i, node := range d.provs {
		h := finalHash[i]
		upstreams := make([]graph.UpstreamEdge, len(node.edges))
		deps := make([]graph.NodeHash, len(node.edges))
		for j, edge := range node.edges {
			childHash := finalHash[edge.childIdx]
			upstreams[j] = graph.UpstreamEdge{Alias: edge.alias, Hash: childHash, RequestKey: edge.requestKey}
			deps[j] = childHash
		}

		requiredKeys := append([]string(nil), node.requiredOrder...)
		sort.Strings(requiredKeys)

		gnode := &graph.Node{
			Handle:           node.handle,
			Config:           configstore.Unflatten(node.config),
			RequiredKeys:     requiredKeys,
			Upstreams:        upstreams,
			Ephemeral:        aggregateEphemeral(ephemeralVotes[h]),
			Hash:             h,
			DependencyHashes: deps,
		}
		reg.Put(gnode)
	}

	reg.RequestedHashes = make([]graph.NodeHash, len(requestedProvIdx))
	for i, provIdx := range requestedProvIdx {
		reg.RequestedHashes[i] = finalHash[provIdx]
	}

	return reg, nil
}

// aggregateEphemeral applies the aggregation rule: a node retains its
// ephemeral flag only if at least one edge declared it and every edge that
// referenced it agreed (AND semantics; non-ephemeral wins).
func aggregateEphemeral(votes []bool) bool {
	if len(votes) == 0 {
		return false
	}
	for _, v := range votes {
		if !v {
			return false
		}
	}
	return true
}

// backflow promotes configuration keys a descendant required (and
// defaulted or otherwise resolved) upward into idx's effective configuration,
// visiting every child before its parent so promotions compose transitively.
// A key an edge already fixed via its own explicit local-config override is
// exempt from promotion through that edge, so a node requesting itself (or
// another stage) with a per-edge override on a key it also reads directly
// never sees a spurious conflict against the child's resolution of that key.
func (d *driver) backflow(idx int, state []int) error {
	switch state[idx] {
	case visitDone:
		return nil
	case visitInProgress:
		return pipelineerr.NewStructuralError(
			fmt.Sprintf("cycle detected while backflowing configuration for %s", d.provs[idx].handle.Name), nil)
	}
	state[idx] = visitInProgress

	node := d.provs[idx]
	for _, edge := range node.edges {
		if edge.childIdx < 0 {
			continue
		}
		if err := d.backflow(edge.childIdx, state); err != nil {
			return err
		}
		child := d.provs[edge.childIdx]
		for key, value := range child.config {
			if _, overridden := edge.localOverrideKeys[key]; overridden {
				// This edge fixed key explicitly; the parent's own value
				// wins regardless of what the child resolved it to.
				continue
			}
			if existing, ok := node.config[key]; ok {
				if !reflect.DeepEqual(existing, value) {
					return pipelineerr.NewStructuralError(
						fmt.Sprintf("conflicting values for config option %q promoted from descendant %s into %s",
							key, child.handle.Name, node.handle.Name), nil)
				}
				continue
			}
			node.config[key] = value
		}
	}

	state[idx] = visitDone
	return nil
}
