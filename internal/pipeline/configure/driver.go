// Package configure implements the configure-pass driver: transitive
// worklist expansion of requested stages into parameterized nodes,
// dependency wiring, and configuration back-propagation.
package configure

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/configstore"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/graph"
	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
	"github.com/pipelinerun/pipelinerun/pkg/pipelineerr"
)

// TargetRequest is one element of the run specification's `run` list: a
// descriptor plus the local configuration override it was requested with.
type TargetRequest struct {
	Descriptor  stage.Descriptor
	LocalConfig configstore.Tree
}

// provEdge is one upstream request recorded on a provisional node, in
// declaration order. childIdx is -1 until the child work item is processed.
// localOverrideKeys is the flattened key set of this edge's explicit local
// configuration override, per spec.md §4.3: a key the parent already fixed
// for this edge is exempt from backflow, whatever the child resolves it to.
type provEdge struct {
	alias             string
	ephemeral         bool
	childIdx          int
	requestKey        string
	localOverrideKeys map[string]struct{}
}

// provNode is a node before its final (post-backflow) hash is known.
type provNode struct {
	handle        stage.Handle
	ownConfig     map[string]interface{}
	requiredOrder []string
	config        map[string]interface{} // starts as a copy of ownConfig, grows via backflow
	edges         []provEdge
	provKey       string
}

type workItem struct {
	descriptor      stage.Descriptor
	localConfig     configstore.Tree
	inheritedConfig configstore.Tree
	trail           []string
	requestedIndex  int // >= 0 for root requests
	parentIdx       int // -1 for root requests
	edgeIndex       int
}

type driver struct {
	registry  *stage.Registry
	provs     []*provNode
	provByKey map[string]int
}

// Run expands targets (and the base configuration they inherit) into a
// sealed graph.Registry, performing the worklist expansion, wiring, and
// configuration backflow passes.
func Run(registry *stage.Registry, targets []TargetRequest, baseConfig configstore.Tree) (*graph.Registry, error) {
	d := &driver{registry: registry, provByKey: make(map[string]int)}

	requestedProvIdx := make([]int, len(targets))

	queue := make([]workItem, 0, len(targets))
	for i, t := range targets {
		queue = append(queue, workItem{
			descriptor:      t.Descriptor,
			localConfig:     t.LocalConfig,
			inheritedConfig: baseConfig,
			requestedIndex:  i,
			parentIdx:       -1,
			edgeIndex:       -1,
		})
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		canonicalIdx, children, err := d.process(item)
		if err != nil {
			return nil, err
		}

		if item.requestedIndex >= 0 {
			requestedProvIdx[item.requestedIndex] = canonicalIdx
		}
		if item.parentIdx >= 0 {
			d.provs[item.parentIdx].edges[item.edgeIndex].childIdx = canonicalIdx
		}

		queue = append(queue, children...)
	}

	return d.finalize(requestedProvIdx)
}

// process resolves and configures a single work item, returning the
// canonical provisional index it maps to (existing if this exact
// (stage name, own required config) combination was already seen, newly
// allocated otherwise) and, for new nodes, the child work items to enqueue.
func (d *driver) process(item workItem) (int, []workItem, error) {
	handle, err := d.registry.Resolve(item.descriptor)
	if err != nil {
		return 0, nil, err
	}

	effective, err := configstore.Overlay(item.inheritedConfig, item.localConfig)
	if err != nil {
		return 0, nil, fmt.Errorf("configure: overlay config for %s: %w", handle.Name, err)
	}

	rc := newRecordingContext(handle.Name, effective)
	if err := handle.Configure(rc); err != nil {
		return 0, nil, err
	}

	ownFlat := make(map[string]interface{}, len(rc.required))
	for k, v := range rc.required {
		ownFlat[k] = v
	}

	provKey := computeProvKey(handle.Name, ownFlat)

	if err := checkCycle(item.trail, provKey, handle.Name); err != nil {
		return 0, nil, err
	}

	if existingIdx, ok := d.provByKey[provKey]; ok {
		return existingIdx, nil, nil
	}

	node := &provNode{
		handle:        handle,
		ownConfig:     ownFlat,
		requiredOrder: append([]string(nil), rc.requiredOrder...),
		config:        cloneFlat(ownFlat),
		edges:         make([]provEdge, len(rc.upstreams)),
		provKey:       provKey,
	}

	idx := len(d.provs)
	d.provs = append(d.provs, node)
	d.provByKey[provKey] = idx

	childTrail := append(append([]string(nil), item.trail...), provKey)

	children := make([]workItem, len(rc.upstreams))
	for i, up := range rc.upstreams {
		node.edges[i] = provEdge{
			alias:             aliasForIndex(rc.aliases, i),
			ephemeral:         up.ephemeral,
			childIdx:          -1,
			requestKey:        up.key,
			localOverrideKeys: flattenedKeySet(up.localConfig),
		}
		children[i] = workItem{
			descriptor:      up.descriptor,
			localConfig:     up.localConfig,
			inheritedConfig: effective,
			requestedIndex:  -1,
			parentIdx:       idx,
			edgeIndex:       i,
			trail:           childTrail,
		}
	}

	return idx, children, nil
}

func aliasForIndex(aliases map[string]int, idx int) string {
	for name, i := range aliases {
		if i == idx {
			return name
		}
	}
	return ""
}

// flattenedKeySet returns the dotted-path key set of local, the edge's
// explicit local configuration override, for the backflow exemption check.
func flattenedKeySet(local configstore.Tree) map[string]struct{} {
	flat := configstore.Flatten(local)
	if len(flat) == 0 {
		return nil
	}
	keys := make(map[string]struct{}, len(flat))
	for k := range flat {
		keys[k] = struct{}{}
	}
	return keys
}

func cloneFlat(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func computeProvKey(name string, flat map[string]interface{}) string {
	encoded, _ := json.Marshal(struct {
		Name   string                 `json:"name"`
		Config map[string]interface{} `json:"config"`
	}{Name: name, Config: flat})
	sum := md5.Sum(encoded)
	return hex.EncodeToString(sum[:])
}

func checkCycle(trail []string, key, name string) error {
	for _, seen := range trail {
		if seen == key {
			return pipelineerr.NewStructuralError(fmt.Sprintf("cycle detected at stage %s", name), nil)
		}
	}
	return nil
}
