package bitmapindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store/codecadapter"
	"github.com/warpgraph/warp/pkg/store/cryptoadapter"
	"github.com/warpgraph/warp/pkg/store/storeadapter"
)

func buildSampleIndex(t *testing.T) *LogicalIndex {
	t.Helper()
	state := stateFromOps(t, []reduce.Op{
		dotOp(reduce.KindNodeAdd, "A", 1),
		dotOp(reduce.KindNodeAdd, "B", 2),
		dotOp(reduce.KindNodeAdd, "C", 3),
		{Kind: reduce.KindEdgeAdd, From: "A", To: "B", Label: "knows", Dot: &crdt.Dot{Writer: "w1", Counter: 4}},
		{Kind: reduce.KindEdgeAdd, From: "B", To: "C", Label: "follows", Dot: &crdt.Dot{Writer: "w1", Counter: 5}},
	})
	idx, err := Build(state, nil)
	require.NoError(t, err)
	return idx
}

func TestPersistAndLoadTreeRoundTrip(t *testing.T) {
	ctx := context.Background()
	objStore := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	idx := buildSampleIndex(t)
	treeOid, err := idx.Persist(ctx, objStore, codec, crypto)
	require.NoError(t, err)

	oids, err := objStore.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)

	loaded, err := LoadTree(ctx, oids, objStore, codec, crypto)
	require.NoError(t, err)

	for _, node := range []string{"A", "B", "C"} {
		assert.Equal(t, idx.IsAlive(node), loaded.IsAlive(node))
	}
	outA, err := idx.GetEdges("A", DirOut, nil)
	require.NoError(t, err)
	loadedOutA, err := loaded.GetEdges("A", DirOut, nil)
	require.NoError(t, err)
	assert.Equal(t, outA, loadedOutA)
}

func TestFilesDeterministicAcrossBuildOrder(t *testing.T) {
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	a, err := Build(stateFromOps(t, []reduce.Op{
		dotOp(reduce.KindNodeAdd, "n1", 1),
		dotOp(reduce.KindNodeAdd, "n2", 2),
		{Kind: reduce.KindEdgeAdd, From: "n1", To: "n2", Label: "x", Dot: &crdt.Dot{Writer: "w1", Counter: 3}},
	}), nil)
	require.NoError(t, err)

	b, err := Build(stateFromOps(t, []reduce.Op{
		dotOp(reduce.KindNodeAdd, "n2", 2),
		{Kind: reduce.KindEdgeAdd, From: "n1", To: "n2", Label: "x", Dot: &crdt.Dot{Writer: "w1", Counter: 3}},
		dotOp(reduce.KindNodeAdd, "n1", 1),
	}), nil)
	require.NoError(t, err)

	filesA, err := a.Files(codec, crypto)
	require.NoError(t, err)
	filesB, err := b.Files(codec, crypto)
	require.NoError(t, err)

	assert.Equal(t, len(filesA), len(filesB))
	for name, data := range filesA {
		assert.Equal(t, data, filesB[name], "file %s must be byte-identical regardless of build order", name)
	}
}

func TestLoadTreeRejectsCorruptedShard(t *testing.T) {
	ctx := context.Background()
	objStore := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	idx := buildSampleIndex(t)
	treeOid, err := idx.Persist(ctx, objStore, codec, crypto)
	require.NoError(t, err)

	oids, err := objStore.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)

	var metaOid string
	for path, oid := range oids {
		if len(path) > 5 && path[:5] == "meta_" {
			metaOid = oid
			break
		}
	}
	require.NotEmpty(t, metaOid)

	corrupted, err := objStore.ReadBlob(ctx, metaOid)
	require.NoError(t, err)
	corrupted = append([]byte(nil), corrupted...)
	corrupted[len(corrupted)-1] ^= 0xFF
	corruptOid, err := objStore.WriteBlob(ctx, corrupted)
	require.NoError(t, err)

	for path, oid := range oids {
		if oid == metaOid {
			oids[path] = corruptOid
		}
	}

	_, err = LoadTree(ctx, oids, objStore, codec, crypto)
	assert.Error(t, err)
}
