package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/checkpoint"
	"github.com/warpgraph/warp/pkg/materialize"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

const (
	checkpointStateFile = "state.cbor"
	checkpointMetaFile  = "checkpoint-meta.cbor"
)

// checkpointMeta is the wire-facing "meta" blob referenced by a checkpoint
// commit's tree alongside the serialized state: it carries the content
// hash guarding the state blob, the per-writer tip cursors the next
// materialize resumes from, and the oid of a separately-persisted index
// tree. The index tree is stored this way rather than nested directly
// under the checkpoint tree because tree entries in this object store may
// only reference blobs, never another tree.
type checkpointMeta struct {
	StateHash       string            `codec:"stateHash"`
	WriterTips      map[string]string `codec:"writerTips"`
	IndexTreeOid    string            `codec:"indexTreeOid"`
	ForkedFromGraph string            `codec:"forkedFromGraph"`
}

// CreateCheckpoint persists the controller's cached state and index as a
// new checkpoint commit, parented on the graph's previous checkpoint (if
// any), and advances the checkpoint ref to it.
func (c *Controller) CreateCheckpoint(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedState == nil {
		return "", warperr.New(warperr.CodeNoState, "no materialized state to checkpoint")
	}

	var parents []string
	priorTip, ok, err := c.objStore.ReadRef(ctx, store.CheckpointRef(c.GraphName))
	if err != nil {
		return "", warperr.Wrap(warperr.CodeRefIO, "reading prior checkpoint ref", err)
	}
	if ok {
		parents = []string{priorTip}
	}

	sha, err := c.commitCheckpointLocked(ctx, c.GraphName, parents, c.writerTips, "")
	if err != nil {
		return "", err
	}
	c.dirty = false
	return sha, nil
}

// Fork materializes the current graph's state into a brand-new checkpoint
// commit with no parents, filed under newGraphName's own checkpoint ref —
// a fresh lineage. Writer tips are deliberately not copied: patches
// committed against the forked graph start from an empty writer history,
// fully independent of the source graph's writers. Provenance is recorded
// in the checkpoint's meta blob via ForkedFromGraph.
func (c *Controller) Fork(ctx context.Context, newGraphName string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cachedState == nil {
		return "", warperr.New(warperr.CodeNoState, "no materialized state to fork")
	}
	return c.commitCheckpointLocked(ctx, newGraphName, nil, nil, c.GraphName)
}

func (c *Controller) commitCheckpointLocked(ctx context.Context, targetGraph string, parents []string, writerTips map[string]string, forkedFrom string) (string, error) {
	stateBytes, stateHash, err := checkpoint.Encode(c.cachedState, c.codec, c.crypto)
	if err != nil {
		return "", err
	}

	if c.cachedIndexTree == nil {
		result, err := materialize.Build(c.cachedState, c.cachedIndex, c.codec, c.crypto)
		if err != nil {
			return "", err
		}
		c.cachedIndex = result.Index
		c.cachedProps = result.Props
		c.cachedIndexTree = result.Tree
	}
	indexTreeOid, err := materialize.PersistIndexTree(ctx, c.cachedIndexTree, c.objStore)
	if err != nil {
		return "", err
	}

	meta := checkpointMeta{StateHash: stateHash, WriterTips: writerTips, IndexTreeOid: indexTreeOid, ForkedFromGraph: forkedFrom}
	metaBytes, err := c.codec.Encode(meta)
	if err != nil {
		return "", warperr.Wrap(warperr.CodeStorage, "encoding checkpoint meta", err)
	}

	stateBlobOid, err := c.objStore.WriteBlob(ctx, stateBytes)
	if err != nil {
		return "", warperr.Wrap(warperr.CodeStorage, "writing checkpoint state blob", err)
	}
	metaBlobOid, err := c.objStore.WriteBlob(ctx, metaBytes)
	if err != nil {
		return "", warperr.Wrap(warperr.CodeStorage, "writing checkpoint meta blob", err)
	}
	treeOid, err := c.objStore.WriteTree(ctx, []store.TreeEntry{
		{Path: checkpointStateFile, Oid: stateBlobOid},
		{Path: checkpointMetaFile, Oid: metaBlobOid},
	})
	if err != nil {
		return "", warperr.Wrap(warperr.CodeStorage, "writing checkpoint tree", err)
	}

	message := store.EncodeCheckpointMessage(store.CheckpointMessage{Graph: targetGraph, Schema: store.SchemaVersion, TreeOid: treeOid})
	sha, err := c.objStore.CommitNode(ctx, store.CommitInput{Message: message, Parents: parents})
	if err != nil {
		return "", warperr.Wrap(warperr.CodeStorage, "committing checkpoint node", err)
	}

	oldTip, _, err := c.objStore.ReadRef(ctx, store.CheckpointRef(targetGraph))
	if err != nil {
		return "", warperr.Wrap(warperr.CodeRefIO, "reading checkpoint ref before update", err)
	}
	if err := c.objStore.UpdateRef(ctx, store.CheckpointRef(targetGraph), sha, oldTip); err != nil {
		return "", warperr.Wrap(warperr.CodeRefIO, "advancing checkpoint ref", err)
	}
	c.logger.Info("created checkpoint", zap.String("graph", targetGraph), zap.String("sha", sha))
	return sha, nil
}
