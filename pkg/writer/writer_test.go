package writer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/store/codecadapter"
	"github.com/warpgraph/warp/pkg/store/storeadapter"
)

func newFixture() (*Writer, store.ObjectStore) {
	objStore := storeadapter.New()
	codec := codecadapter.New()
	return New("g1", "w1", objStore, codec, nil), objStore
}

func readBackPatch(t *testing.T, ctx context.Context, objStore store.ObjectStore, codec store.Codec, sha string) wirePatch {
	t.Helper()
	info, err := objStore.GetNodeInfo(ctx, sha)
	require.NoError(t, err)
	msg, err := store.DecodePatchMessage(info.Message)
	require.NoError(t, err)
	data, err := objStore.ReadBlob(ctx, msg.BlobOid)
	require.NoError(t, err)
	var patch wirePatch
	require.NoError(t, codec.Decode(data, &patch))
	return patch
}

func TestCommitWritesPatchAndAdvancesRef(t *testing.T) {
	ctx := context.Background()
	w, objStore := newFixture()
	codec := codecadapter.New()

	session, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	session.AddNode("n1").AddNode("n2").AddEdge("n1", "n2", "knows")

	sha, err := session.Commit(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, sha)

	tip, ok, err := objStore.ReadRef(ctx, store.WriterRef("g1", "w1"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, sha, tip)

	patch := readBackPatch(t, ctx, objStore, codec, sha)
	assert.Equal(t, "w1", patch.WriterID)
	assert.Equal(t, uint64(1), patch.Lamport)
	require.Len(t, patch.Ops, 3)

	ops := make([]reduce.Op, 0, len(patch.Ops))
	for _, raw := range patch.Ops {
		op, ok, err := reduce.ValidateRawOp(raw)
		require.NoError(t, err)
		require.True(t, ok)
		ops = append(ops, op)
	}
	result, err := reduce.Reduce(nil, []reduce.StampedPatch{{Sha: sha, Patch: reduce.Patch{WriterID: "w1", Lamport: 1, Ops: ops}}}, reduce.ReduceOptions{})
	require.NoError(t, err)
	assert.True(t, result.State.IsNodeAlive("n1"))
	assert.True(t, result.State.IsNodeAlive("n2"))
	assert.True(t, result.State.IsEdgeAlive("n1", "n2", "knows"))
}

func TestSecondCommitAdvancesLamportFromTip(t *testing.T) {
	ctx := context.Background()
	w, _ := newFixture()

	first, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	first.AddNode("n1")
	_, err = first.Commit(ctx)
	require.NoError(t, err)

	second, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.lamport)
}

func TestCommitEmptyPatchFails(t *testing.T) {
	ctx := context.Background()
	w, _ := newFixture()

	session, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	_, err = session.Commit(ctx)
	require.Error(t, err)
}

func TestCommitTwiceFails(t *testing.T) {
	ctx := context.Background()
	w, _ := newFixture()

	session, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	session.AddNode("n1")
	_, err = session.Commit(ctx)
	require.NoError(t, err)

	_, err = session.Commit(ctx)
	require.Error(t, err)
}

func TestCommitFailsWhenAnotherCommitWonTheRace(t *testing.T) {
	ctx := context.Background()
	w, _ := newFixture()

	first, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	first.AddNode("n1")

	second, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	second.AddNode("n2")

	_, err = first.Commit(ctx)
	require.NoError(t, err)

	_, err = second.Commit(ctx)
	require.Error(t, err)
}

func TestRemoveNodeCitesCurrentAliveDots(t *testing.T) {
	ctx := context.Background()
	w, _ := newFixture()

	state := crdt.NewState()
	require.NoError(t, reduce.ApplyOp(state, reduce.Op{Kind: reduce.KindNodeAdd, Node: "n1", Dot: &crdt.Dot{Writer: "w1", Counter: 1}}, crdt.EventID{Lamport: 1, Writer: "w1"}))

	session, err := w.BeginPatch(ctx, state)
	require.NoError(t, err)
	session.RemoveNode("n1")
	require.Len(t, session.ops, 1)

	observed, ok := session.ops[0]["observedDots"].([]interface{})
	require.True(t, ok)
	require.Len(t, observed, 1)
}

func TestSetPropertyAndAttachContent(t *testing.T) {
	ctx := context.Background()
	w, objStore := newFixture()
	codec := codecadapter.New()

	session, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	session.AddNode("n1").
		SetProperty("n1", "name", json.RawMessage(`"alice"`)).
		AttachContent("n1", "avatar", "blob123")

	sha, err := session.Commit(ctx)
	require.NoError(t, err)

	patch := readBackPatch(t, ctx, objStore, codec, sha)
	require.Len(t, patch.Ops, 3)

	ops := make([]reduce.Op, 0, len(patch.Ops))
	for _, raw := range patch.Ops {
		op, ok, err := reduce.ValidateRawOp(raw)
		require.NoError(t, err)
		require.True(t, ok)
		ops = append(ops, op)
	}
	result, err := reduce.Reduce(nil, []reduce.StampedPatch{{Sha: sha, Patch: reduce.Patch{WriterID: "w1", Lamport: 1, Ops: ops}}}, reduce.ReduceOptions{})
	require.NoError(t, err)
	nameReg := result.State.Prop[crdt.EncodeNodePropKey("n1", "name")]
	require.NotNil(t, nameReg)
	assert.JSONEq(t, `"alice"`, string(nameReg.Value))

	avatarReg := result.State.Prop[crdt.EncodeNodePropKey("n1", "avatar")]
	require.NotNil(t, avatarReg)
	assert.JSONEq(t, `{"blobId":"blob123"}`, string(avatarReg.Value))
}

// flakyStore fails the first failCount WriteBlob calls with a generic
// error, then behaves normally — simulating a transient storage hiccup.
type flakyStore struct {
	store.ObjectStore
	remaining int
}

func (f *flakyStore) WriteBlob(ctx context.Context, data []byte) (string, error) {
	if f.remaining > 0 {
		f.remaining--
		return "", assert.AnError
	}
	return f.ObjectStore.WriteBlob(ctx, data)
}

func TestCommitWithRetryRecoversFromTransientStorageFailure(t *testing.T) {
	ctx := context.Background()
	objStore := &flakyStore{ObjectStore: storeadapter.New(), remaining: 2}
	w := New("g1", "w1", objStore, codecadapter.New(), nil)

	session, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	session.AddNode("n1")

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 5)
	sha, err := session.CommitWithRetry(ctx, policy)
	require.NoError(t, err)
	assert.NotEmpty(t, sha)
}

func TestCommitWithRetryStopsOnWriterRefAdvanced(t *testing.T) {
	ctx := context.Background()
	w, _ := newFixture()

	winner, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	winner.AddNode("winner")

	loser, err := w.BeginPatch(ctx, crdt.NewState())
	require.NoError(t, err)
	loser.AddNode("loser")

	_, err = winner.Commit(ctx)
	require.NoError(t, err)

	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(0), 3)
	_, err = loser.CommitWithRetry(ctx, policy)
	require.Error(t, err)
}
