package bitmapindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
)

func buildTriangle(t *testing.T) *LogicalIndex {
	t.Helper()
	state := stateFromOps(t, []reduce.Op{
		dotOp(reduce.KindNodeAdd, "A", 1),
		dotOp(reduce.KindNodeAdd, "B", 2),
		dotOp(reduce.KindNodeAdd, "C", 3),
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "knows", Dot: &crdt.Dot{Writer: "w1", Counter: 4}},
		{Kind: reduce.KindEdgeAdd, From: "A", To: "C", Label: "follows", Dot: &crdt.Dot{Writer: "w1", Counter: 5}},
		{Kind: reduce.KindEdgeAdd, From: "B", To: "C", Label: "knows", Dot: &crdt.Dot{Writer: "w1", Counter: 6}},
	})
	idx, err := Build(state, nil)
	require.NoError(t, err)
	return idx
}

func TestGetEdgesOutDirection(t *testing.T) {
	idx := buildTriangle(t)
	out, err := idx.GetEdges("A", DirOut, nil)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{NodeID: "B", Label: "knows"}, {NodeID: "C", Label: "follows"}}, out)
}

func TestGetEdgesInDirection(t *testing.T) {
	idx := buildTriangle(t)
	in, err := idx.GetEdges("C", DirIn, nil)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{NodeID: "A", Label: "follows"}, {NodeID: "B", Label: "knows"}}, in)
}

func TestGetEdgesBothDedupsAndErasesDirection(t *testing.T) {
	idx := buildTriangle(t)
	both, err := idx.GetEdges("B", DirBoth, nil)
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{NodeID: "A", Label: "knows"}, {NodeID: "C", Label: "knows"}}, both)
}

func TestGetEdgesLabelFilter(t *testing.T) {
	idx := buildTriangle(t)
	out, err := idx.GetEdges("A", DirOut, []string{"follows"})
	require.NoError(t, err)
	assert.Equal(t, []Neighbor{{NodeID: "C", Label: "follows"}}, out)
}

func TestGetEdgesUnknownNodeReturnsEmpty(t *testing.T) {
	idx := buildTriangle(t)
	out, err := idx.GetEdges("does-not-exist", DirOut, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestIsAliveReportsOnlyAddedNodes(t *testing.T) {
	state := stateFromOps(t, []reduce.Op{dotOp(reduce.KindNodeAdd, "A", 1)})
	idx, err := Build(state, nil)
	require.NoError(t, err)
	assert.True(t, idx.IsAlive("A"))
	assert.False(t, idx.IsAlive("B"))
}

func TestGetEdgesMatchesBruteForceAdjacency(t *testing.T) {
	state := stateFromOps(t, []reduce.Op{
		dotOp(reduce.KindNodeAdd, "A", 1),
		dotOp(reduce.KindNodeAdd, "B", 2),
		dotOp(reduce.KindNodeAdd, "C", 3),
		dotOp(reduce.KindNodeAdd, "D", 4),
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "x", Dot: &crdt.Dot{Writer: "w1", Counter: 5}},
		{Kind: reduce.KindEdgeAdd, From: "A", To: "C", Label: "y", Dot: &crdt.Dot{Writer: "w1", Counter: 6}},
		{Kind: reduce.KindEdgeAdd, From: "D", To: "A", Label: "x", Dot: &crdt.Dot{Writer: "w1", Counter: 7}},
	})
	idx, err := Build(state, nil)
	require.NoError(t, err)

	adjacencyOut := map[string][]Neighbor{
		"A": {{NodeID: "B", Label: "x"}, {NodeID: "C", Label: "y"}},
		"D": {{NodeID: "A", Label: "x"}},
	}
	for node, want := range adjacencyOut {
		got, err := idx.GetEdges(node, DirOut, nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}
