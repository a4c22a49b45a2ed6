package graph

import (
	"encoding/json"
	"sort"
)

// FlowchartNode is a single node entry in the node-link export.
type FlowchartNode struct {
	ID string `json:"id"`
}

// FlowchartLink is a single directed edge in the node-link export.
type FlowchartLink struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Key    int    `json:"key"`
}

// Flowchart is a node-link JSON document keyed by stage name (the
// descriptor graph), not node hash.
type Flowchart struct {
	Nodes []FlowchartNode `json:"nodes"`
	Links []FlowchartLink `json:"links"`
}

// BuildFlowchart derives the descriptor graph (stage name -> stage name)
// from the hash graph and renders it as node-link JSON, matching the
// node_link_data export shape of graph libraries like networkx.
func (r *Registry) BuildFlowchart() Flowchart {
	nodeNames := make(map[string]struct{})
	edgeSet := make(map[[2]string]struct{})

	for _, node := range r.Nodes {
		nodeNames[node.StageName()] = struct{}{}
		for _, dep := range uniqueHashes(node.DependencyHashes) {
			depNode := r.Nodes[dep]
			if depNode == nil {
				continue
			}
			nodeNames[depNode.StageName()] = struct{}{}
			edgeSet[[2]string{depNode.StageName(), node.StageName()}] = struct{}{}
		}
	}

	names := make([]string, 0, len(nodeNames))
	for n := range nodeNames {
		names = append(names, n)
	}
	sort.Strings(names)

	fc := Flowchart{Nodes: make([]FlowchartNode, 0, len(names))}
	for _, n := range names {
		fc.Nodes = append(fc.Nodes, FlowchartNode{ID: n})
	}

	links := make([]FlowchartLink, 0, len(edgeSet))
	for edge := range edgeSet {
		links = append(links, FlowchartLink{Source: edge[0], Target: edge[1]})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Source != links[j].Source {
			return links[i].Source < links[j].Source
		}
		return links[i].Target < links[j].Target
	})
	fc.Links = links

	return fc
}

// Encode renders the flowchart as indented JSON.
func (f Flowchart) Encode() ([]byte, error) {
	return json.MarshalIndent(f, "", "  ")
}
