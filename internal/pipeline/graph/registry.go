package graph

import "github.com/pipelinerun/pipelinerun/internal/pipeline/stage"

// Registry is the deduplicated mapping from node hash to parameterized
// node for the whole run.
type Registry struct {
	Nodes map[NodeHash]*Node

	// RequestedHashes holds the hash of each requested target, in the
	// order the targets were originally requested.
	RequestedHashes []NodeHash
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Nodes: make(map[NodeHash]*Node)}
}

// Put inserts node, returning the existing node if one with the same hash
// is already present (first-writer-wins; two nodes with the same hash have
// equal effective configuration, so either copy is valid).
func (r *Registry) Put(node *Node) *Node {
	if existing, ok := r.Nodes[node.Hash]; ok {
		return existing
	}
	r.Nodes[node.Hash] = node
	return node
}

// Get returns the node for hash, or nil if absent.
func (r *Registry) Get(hash NodeHash) *Node {
	return r.Nodes[hash]
}

// Dependents computes the reverse adjacency of the hash graph: for each
// node, the set of nodes that declare it as a dependency.
func (r *Registry) Dependents() map[NodeHash][]NodeHash {
	out := make(map[NodeHash][]NodeHash, len(r.Nodes))
	for hash, node := range r.Nodes {
		for _, dep := range uniqueHashes(node.DependencyHashes) {
			out[dep] = append(out[dep], hash)
		}
	}
	return out
}

// Ancestors returns every transitive ancestor of hash (dependencies, their
// dependencies, and so on), not including hash itself.
func (r *Registry) Ancestors(hash NodeHash) map[NodeHash]struct{} {
	visited := make(map[NodeHash]struct{})
	var visit func(NodeHash)
	visit = func(h NodeHash) {
		node := r.Nodes[h]
		if node == nil {
			return
		}
		for _, dep := range node.DependencyHashes {
			if _, seen := visited[dep]; seen {
				continue
			}
			visited[dep] = struct{}{}
			visit(dep)
		}
	}
	visit(hash)
	return visited
}

// SourceDigestClosure returns the ordered source digest closure for hash: the
// hex source digests of hash and every transitive ancestor, sorted
// lexicographically.
func (r *Registry) SourceDigestClosure(hash NodeHash) []string {
	ancestors := r.Ancestors(hash)
	digests := make([]string, 0, len(ancestors)+1)
	if node := r.Nodes[hash]; node != nil {
		digests = append(digests, node.Handle.SourceDigestHex())
	}
	for h := range ancestors {
		if node := r.Nodes[h]; node != nil {
			digests = append(digests, node.Handle.SourceDigestHex())
		}
	}
	return stage.SortHexDigests(digests)
}

// Descendants returns every transitive descendant of hash, given the
// reverse adjacency produced by Dependents.
func (r *Registry) Descendants(hash NodeHash, dependents map[NodeHash][]NodeHash) map[NodeHash]struct{} {
	visited := make(map[NodeHash]struct{})
	var visit func(NodeHash)
	visit = func(h NodeHash) {
		for _, child := range dependents[h] {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			visit(child)
		}
	}
	visit(hash)
	return visited
}
