package traversal

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/neighbor"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/warperr"
)

func TestTopoSortOrdersDiamond(t *testing.T) {
	p := diamondProvider(t)
	result, err := TopoSort(context.Background(), p, "A", TopoSortOptions{})
	require.NoError(t, err)
	assert.False(t, result.HasCycle)
	assert.Equal(t, []string{"A", "B", "C", "D"}, result.Order)
}

func cyclicABState(t *testing.T) *neighbor.AdjacencyMapProvider {
	t.Helper()
	state := buildState(t, []reduce.Op{
		{Kind: reduce.KindNodeAdd, Node: "A", Dot: dot(1)},
		{Kind: reduce.KindNodeAdd, Node: "B", Dot: dot(2)},
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "x", Dot: dot(3)},
		{Kind: reduce.KindEdgeAdd, From: "B", To: "A", Label: "x", Dot: dot(4)},
	})
	return neighbor.NewAdjacencyMapProvider(state)
}

func TestTopoSortDetectsCycleThrowsWithWitness(t *testing.T) {
	p := cyclicABState(t)
	result, err := TopoSort(context.Background(), p, "A", TopoSortOptions{ThrowOnCycle: true})
	require.Error(t, err)
	assert.True(t, warperr.HasCode(err, warperr.CodeGraphHasCycles))
	require.True(t, result.HasCycle)
	require.NotNil(t, result.Witness)

	var ge *warperr.GraphError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, result.Witness.From, ge.Context["from"])
	assert.Equal(t, result.Witness.To, ge.Context["to"])
	assert.Contains(t, []string{"A", "B"}, result.Witness.From)
	assert.Contains(t, []string{"A", "B"}, result.Witness.To)
}

func TestTopoSortDetectsCycleWithoutThrowing(t *testing.T) {
	p := cyclicABState(t)
	result, err := TopoSort(context.Background(), p, "A", TopoSortOptions{})
	require.NoError(t, err)
	assert.True(t, result.HasCycle)
	require.NotNil(t, result.Witness)
	assert.Empty(t, result.Order)
}

func TestWeightedLongestPathPrefersHigherCostRoute(t *testing.T) {
	p := weightedDiamondProvider(t)
	weight := weightByLabelPair(map[string]float64{
		"A>B": 5, "B>D": 5,
		"A>C": 1, "C>D": 1,
	})
	result, err := WeightedLongestPath(context.Background(), p, "A", weight, Options{})
	require.NoError(t, err)
	assert.Equal(t, 10.0, result.Distance["D"])
	path, ok := result.PathTo("A", "D")
	require.True(t, ok)
	assert.Equal(t, []string{"A", "B", "D"}, path)
}

func TestWeightedLongestPathDefaultsToUnitWeights(t *testing.T) {
	p := diamondProvider(t)
	result, err := WeightedLongestPath(context.Background(), p, "A", nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2.0, result.Distance["D"])
}

func TestWeightedLongestPathUnreachedNode(t *testing.T) {
	p := diamondProvider(t)
	result, err := WeightedLongestPath(context.Background(), p, "A", nil, Options{})
	require.NoError(t, err)
	_, ok := result.PathTo("A", "Z")
	assert.False(t, ok)
}

func TestWeightedLongestPathPropagatesCycleError(t *testing.T) {
	p := cyclicABState(t)
	_, err := WeightedLongestPath(context.Background(), p, "A", nil, Options{})
	require.Error(t, err)
	assert.True(t, warperr.HasCode(err, warperr.CodeGraphHasCycles))
}
