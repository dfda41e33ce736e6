package bitmapindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/store/codecadapter"
	"github.com/warpgraph/warp/pkg/store/cryptoadapter"
	"github.com/warpgraph/warp/pkg/store/storeadapter"
)

// countingStore wraps store.ObjectStore and counts ReadBlob calls per oid,
// so tests can assert the reader's cache avoids redundant reads.
type countingStore struct {
	store.ObjectStore
	reads map[string]int
}

func newCountingStore(inner store.ObjectStore) *countingStore {
	return &countingStore{ObjectStore: inner, reads: make(map[string]int)}
}

func (c *countingStore) ReadBlob(ctx context.Context, oid string) ([]byte, error) {
	c.reads[oid]++
	return c.ObjectStore.ReadBlob(ctx, oid)
}

// failingStore fails every ReadBlob for a chosen set of oids, to exercise
// strict vs. lenient degrade behavior.
type failingStore struct {
	store.ObjectStore
	failOids map[string]bool
}

func (f *failingStore) ReadBlob(ctx context.Context, oid string) ([]byte, error) {
	if f.failOids[oid] {
		return nil, assert.AnError
	}
	return f.ObjectStore.ReadBlob(ctx, oid)
}

func buildCrossShardIndex(t *testing.T) (idx *LogicalIndex, nodeInShardOf func(shard byte) string) {
	t.Helper()
	// These ids are chosen so that each is a distinct 40-hex-char id,
	// guaranteeing their shard key comes from the hex prefix, and the two
	// endpoints of the edge land in different shards.
	from := "aa" + "0000000000000000000000000000000000000a"
	to := "bb" + "0000000000000000000000000000000000000b"
	state := stateFromOps(t, []reduce.Op{
		dotOp(reduce.KindNodeAdd, from, 1),
		dotOp(reduce.KindNodeAdd, to, 2),
		{Kind: reduce.KindEdgeAdd, From: from, To: to, Label: "knows", Dot: &crdt.Dot{Writer: "w1", Counter: 3}},
	})
	idx, err := Build(state, nil)
	require.NoError(t, err)

	require.NotEqual(t, ShardKeyByte(from), ShardKeyByte(to), "test requires endpoints in different shards")

	return idx, func(shard byte) string {
		if ShardKeyByte(from) == shard {
			return from
		}
		return to
	}
}

func persistIndex(t *testing.T, idx *LogicalIndex) (store.ObjectStore, map[string]string) {
	t.Helper()
	ctx := context.Background()
	objStore := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	treeOid, err := idx.Persist(ctx, objStore, codec, crypto)
	require.NoError(t, err)
	oids, err := objStore.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)
	return objStore, oids
}

func TestReaderResolvesCrossShardNeighbor(t *testing.T) {
	idx, _ := buildCrossShardIndex(t)
	objStore, oids := persistIndex(t, idx)

	reader, err := NewReader(oids, objStore, codecadapter.New(), cryptoadapter.New(), ReaderConfig{Strict: true})
	require.NoError(t, err)

	from := "aa" + "0000000000000000000000000000000000000a"
	out, err := reader.GetEdges(context.Background(), from, DirOut, nil)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "bb"+"0000000000000000000000000000000000000b", out[0].NodeID)
	assert.Equal(t, "knows", out[0].Label)
}

func TestReaderCacheAvoidsRereadOnSecondAccess(t *testing.T) {
	idx := buildSampleIndex(t)
	ctx := context.Background()
	backing := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	treeOid, err := idx.Persist(ctx, backing, codec, crypto)
	require.NoError(t, err)
	oids, err := backing.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)

	counting := newCountingStore(backing)
	reader, err := NewReader(oids, counting, codec, crypto, ReaderConfig{Strict: true})
	require.NoError(t, err)

	_, err = reader.IsAlive(ctx, "A")
	require.NoError(t, err)
	_, err = reader.IsAlive(ctx, "A")
	require.NoError(t, err)

	metaOid := oids["meta_"+shardHex(ShardKeyByte("A"))+".cbor"]
	require.NotEmpty(t, metaOid)
	assert.Equal(t, 1, counting.reads[metaOid], "second access must be served from cache, not re-read")
}

func TestReaderStrictModePropagatesLoadFailure(t *testing.T) {
	idx := buildSampleIndex(t)
	ctx := context.Background()
	backing := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	treeOid, err := idx.Persist(ctx, backing, codec, crypto)
	require.NoError(t, err)
	oids, err := backing.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)

	metaOid := oids["meta_"+shardHex(ShardKeyByte("A"))+".cbor"]
	failing := &failingStore{ObjectStore: backing, failOids: map[string]bool{metaOid: true}}

	reader, err := NewReader(oids, failing, codec, crypto, ReaderConfig{Strict: true})
	require.NoError(t, err)

	_, err = reader.IsAlive(ctx, "A")
	assert.Error(t, err)
}

func TestReaderLenientModeDegradesToEmptyStandIn(t *testing.T) {
	idx := buildSampleIndex(t)
	ctx := context.Background()
	backing := storeadapter.New()
	codec := codecadapter.New()
	crypto := cryptoadapter.New()

	treeOid, err := idx.Persist(ctx, backing, codec, crypto)
	require.NoError(t, err)
	oids, err := backing.ReadTreeOids(ctx, treeOid)
	require.NoError(t, err)

	metaOid := oids["meta_"+shardHex(ShardKeyByte("A"))+".cbor"]
	failing := &failingStore{ObjectStore: backing, failOids: map[string]bool{metaOid: true}}

	reader, err := NewReader(oids, failing, codec, crypto, ReaderConfig{Strict: false})
	require.NoError(t, err)

	alive, err := reader.IsAlive(ctx, "A")
	require.NoError(t, err)
	assert.False(t, alive, "degraded shard has no data, so the node looks absent rather than erroring")

	// A second access must not attempt to re-read the failing blob.
	alive2, err := reader.IsAlive(ctx, "A")
	require.NoError(t, err)
	assert.False(t, alive2)
}
