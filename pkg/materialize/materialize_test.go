package materialize

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/bitmapindex"
	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store/codecadapter"
	"github.com/warpgraph/warp/pkg/store/cryptoadapter"
	"github.com/warpgraph/warp/pkg/store/storeadapter"
)

func dot(counter uint64) *crdt.Dot { return &crdt.Dot{Writer: "w1", Counter: counter} }

func buildState(t *testing.T, ops []reduce.Op) *crdt.State {
	t.Helper()
	result, err := reduce.Reduce(nil, []reduce.StampedPatch{
		{Sha: "sha1", Patch: reduce.Patch{WriterID: "w1", Lamport: 1, Ops: ops}},
	}, reduce.ReduceOptions{})
	require.NoError(t, err)
	return result.State
}

func TestBuildThenPersistThenLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	objStore := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	state := buildState(t, []reduce.Op{
		{Kind: reduce.KindNodeAdd, Node: "A", Dot: dot(1)},
		{Kind: reduce.KindNodeAdd, Node: "B", Dot: dot(2)},
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "knows", Dot: dot(3)},
	})

	result, err := Build(state, nil, codec, crypto)
	require.NoError(t, err)

	treeOid, err := PersistIndexTree(ctx, result.Tree, objStore)
	require.NoError(t, err)

	oids, err := objStore.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)

	idx, _, err := LoadFromOids(ctx, oids, objStore, codec, crypto)
	require.NoError(t, err)

	out, err := idx.GetEdges("A", bitmapindex.DirOut, nil)
	require.NoError(t, err)
	assert.Equal(t, []bitmapindex.Neighbor{{NodeID: "B", Label: "knows"}}, out)
}

func TestApplyDiffProducesByteIdenticalShardsForEmptyDiff(t *testing.T) {
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	state := buildState(t, []reduce.Op{
		{Kind: reduce.KindNodeAdd, Node: "A", Dot: dot(1)},
	})
	base, err := Build(state, nil, codec, crypto)
	require.NoError(t, err)

	empty := &reduce.Diff{}
	updated, err := ApplyDiff(base.Index, base.Props, empty, state, codec, crypto)
	require.NoError(t, err)

	assert.Equal(t, base.Tree.Files, updated.Tree.Files)
}

func TestVerifyIndexPassesOnCorrectBuild(t *testing.T) {
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	state := buildState(t, []reduce.Op{
		{Kind: reduce.KindNodeAdd, Node: "A", Dot: dot(1)},
		{Kind: reduce.KindNodeAdd, Node: "B", Dot: dot(2)},
		{Kind: reduce.KindNodeAdd, Node: "C", Dot: dot(3)},
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "x", Dot: dot(4)},
		{Kind: reduce.KindEdgeAdd, From: "B", To: "C", Label: "y", Dot: dot(5)},
	})
	result, err := Build(state, nil, codec, crypto)
	require.NoError(t, err)

	assert.NoError(t, VerifyIndex(state, result.Index, SampleOptions{}))
}

func TestVerifyIndexDetectsDivergence(t *testing.T) {
	state := buildState(t, []reduce.Op{
		{Kind: reduce.KindNodeAdd, Node: "A", Dot: dot(1)},
		{Kind: reduce.KindNodeAdd, Node: "B", Dot: dot(2)},
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "x", Dot: dot(3)},
	})
	// A stale empty index that was never rebuilt against this state.
	staleIdx := bitmapindex.NewLogicalIndex()

	err := VerifyIndex(state, staleIdx, SampleOptions{})
	assert.Error(t, err)
}
