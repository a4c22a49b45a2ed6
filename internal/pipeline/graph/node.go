// Package graph implements the deduplicated node registry, the hash and
// descriptor DAGs, and topological ordering over a resolved stage graph.
package graph

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

// NodeHash is the content identifier derived from (stage name, effective
// configuration).
type NodeHash [16]byte

// String renders the hash as lowercase hex.
func (h NodeHash) String() string {
	return hex.EncodeToString(h[:])
}

// ComputeNodeHash canonicalizes (name, config) and hashes it. encoding/json
// sorts map keys recursively, which gives a keys-sorted, deterministic
// encoding without hand-rolling one.
func ComputeNodeHash(name string, config configstore.Tree) (NodeHash, error) {
	flat := configstore.Flatten(config)
	payload := struct {
		Name   string                 `json:"name"`
		Config map[string]interface{} `json:"config"`
	}{Name: name, Config: flat}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return NodeHash{}, fmt.Errorf("graph: canonicalize node hash input: %w", err)
	}
	return NodeHash(md5.Sum(encoded)), nil
}

// UpstreamEdge is a resolved dependency edge retained on a Node, in
// declaration order.
type UpstreamEdge struct {
	Alias string
	Hash  NodeHash

	// RequestKey is stage.UpstreamKey(descriptor, localConfig) as recorded
	// during the configure pass, letting the execute context resolve a
	// stage(descriptor, local_config) call back to this edge without
	// re-running configuration.
	RequestKey string
}

// Node is the parameterized unit the engine schedules.
type Node struct {
	Handle           stage.Handle
	Config           configstore.Tree
	RequiredKeys     []string
	Upstreams        []UpstreamEdge
	Ephemeral        bool
	Hash             NodeHash
	DependencyHashes []NodeHash
}

// StageName is a convenience accessor used by the descriptor graph and
// flowchart export.
func (n *Node) StageName() string {
	return n.Handle.Name
}

// AliasHash resolves a locally-declared alias to the upstream node hash it
// was bound to. Used by the execute context to satisfy `stage(alias)` calls.
func (n *Node) AliasHash(alias string) (NodeHash, bool) {
	for _, edge := range n.Upstreams {
		if edge.Alias == alias {
			return edge.Hash, true
		}
	}
	return NodeHash{}, false
}

// RequestHash resolves an execute-context stage(descriptor, local_config)
// call's request key to the declared dependency it matches. Unknown calls
// are fatal.
func (n *Node) RequestHash(requestKey string) (NodeHash, bool) {
	for _, edge := range n.Upstreams {
		if edge.RequestKey == requestKey {
			return edge.Hash, true
		}
	}
	return NodeHash{}, false
}
