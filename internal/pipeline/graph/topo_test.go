package graph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pipelinerun/pipelinerun/internal/pipeline/stage"
)

func TestTopologicalOrderRespectsDependencies(t *testing.T) {
	t.Parallel()

	reg, a, b, c := buildChain(t)

	order, err := reg.TopologicalOrder()
	require.NoError(t, err)
	require.Equal(t, []NodeHash{a, b, c}, order)
}

func TestTopologicalOrderDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// Two independent roots with no edges between them; the order between
	// them must be decided by lexicographic hash, not map iteration order.
	reg := NewRegistry()
	h1 := hashOf(t, "aaa")
	h2 := hashOf(t, "bbb")
	reg.Put(&Node{Handle: stage.Handle{Name: "one"}, Hash: h1})
	reg.Put(&Node{Handle: stage.Handle{Name: "two"}, Hash: h2})

	order1, err := reg.TopologicalOrder()
	require.NoError(t, err)
	order2, err := reg.TopologicalOrder()
	require.NoError(t, err)

	require.Equal(t, order1, order2, "repeated calls over the same registry must produce the same order")
	require.Equal(t, []NodeHash{h1, h2}, order1)
}

func TestTopologicalOrderDetectsCycle(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	a := hashOf(t, "aaa")
	b := hashOf(t, "bbb")

	reg.Put(&Node{Handle: stage.Handle{Name: "A"}, Hash: a, DependencyHashes: []NodeHash{b}})
	reg.Put(&Node{Handle: stage.Handle{Name: "B"}, Hash: b, DependencyHashes: []NodeHash{a}})

	order, err := reg.TopologicalOrder()
	require.Error(t, err)
	require.Nil(t, order)
}

func TestBuildFlowchartUsesStageNamesNotHashes(t *testing.T) {
	t.Parallel()

	reg, _, _, _ := buildChain(t)

	fc := reg.BuildFlowchart()
	require.Len(t, fc.Nodes, 3)

	ids := make([]string, 0, len(fc.Nodes))
	for _, n := range fc.Nodes {
		ids = append(ids, n.ID)
	}
	require.ElementsMatch(t, []string{"A", "B", "C"}, ids)

	require.Len(t, fc.Links, 2)
	require.Contains(t, fc.Links, FlowchartLink{Source: "A", Target: "B"})
	require.Contains(t, fc.Links, FlowchartLink{Source: "B", Target: "C"})
}
