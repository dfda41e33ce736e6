package graph

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/materialize"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// wirePatch mirrors pkg/writer's codec-facing patch blob shape.
type wirePatch struct {
	WriterID string                   `codec:"writerId"`
	Lamport  uint64                   `codec:"lamport"`
	Ops      []map[string]interface{} `codec:"ops"`
}

const materializeSingleflightKey = "materialize"

// Materialize folds every patch committed since the last materialize into
// the controller's cached state and index, discovering writerIDs (if any
// are new) and persisting them to the coverage anchor. Concurrent callers
// collapse onto a single in-flight fold via singleflight.
func (c *Controller) Materialize(ctx context.Context, writerIDs ...string) error {
	_, err, _ := c.materializeGroup.Do(materializeSingleflightKey, func() (interface{}, error) {
		return nil, c.materializeExclusive(ctx, writerIDs)
	})
	return err
}

func (c *Controller) materializeExclusive(ctx context.Context, writerIDs []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()

	if err := c.registerWritersLocked(ctx, writerIDs); err != nil {
		return err
	}
	if c.cachedState == nil {
		c.cachedState = crdt.NewState()
	}

	var newPatches []reduce.StampedPatch
	for w := range c.registeredWriters {
		patches, err := c.loadNewPatchesForWriterLocked(ctx, w)
		if err != nil {
			return err
		}
		newPatches = append(newPatches, patches...)
	}

	if len(newPatches) == 0 {
		return nil
	}

	sortByCausalRank(newPatches)

	diffResult, err := reduce.Reduce(c.cachedState, newPatches, reduce.ReduceOptions{WithDiff: true, Logger: c.logger})
	if err != nil {
		return err
	}

	indexStart := time.Now()
	if err := c.rebuildIndexLocked(diffResult); err != nil {
		if c.cfg.IndexStrictMode {
			return err
		}
		c.logger.Warn("index build failed, serving degraded linear scan", zap.Error(err))
		c.indexDegraded = true
		c.cachedIndex = nil
		c.cachedProps = nil
		c.cachedIndexTree = nil
	}
	indexBuildDuration.WithLabelValues(c.GraphName).Observe(time.Since(indexStart).Seconds())
	if c.indexDegraded {
		indexDegraded.WithLabelValues(c.GraphName).Set(1)
	} else {
		indexDegraded.WithLabelValues(c.GraphName).Set(0)
	}

	for _, sp := range newPatches {
		c.writerTips[sp.Patch.WriterID] = sp.Sha
	}
	c.dirty = true

	patchesFolded.WithLabelValues(c.GraphName).Add(float64(len(newPatches)))
	materializeDuration.WithLabelValues(c.GraphName).Observe(time.Since(start).Seconds())
	c.logger.Info("materialized patches",
		zap.Int("patches", len(newPatches)),
		zap.Duration("duration", time.Since(start)))

	c.maybeRunGCLocked(ctx)
	return nil
}

func (c *Controller) rebuildIndexLocked(diffResult *reduce.ReduceResult) error {
	var result *materialize.Result
	var err error
	if c.cachedIndex == nil || c.cachedProps == nil {
		result, err = materialize.Build(c.cachedState, c.cachedIndex, c.codec, c.crypto)
	} else {
		result, err = materialize.ApplyDiff(c.cachedIndex, c.cachedProps, diffResult.Diff, c.cachedState, c.codec, c.crypto)
	}
	if err != nil {
		return err
	}
	c.cachedIndex = result.Index
	c.cachedProps = result.Props
	c.cachedIndexTree = result.Tree
	return nil
}

// loadNewPatchesForWriterLocked walks writer w's commit chain backward
// from its current ref tip down to (but excluding) c.writerTips[w], the
// sha this controller last folded. If the chain is walked to its root
// without encountering that sha, the writer's history was rewritten out
// from under the controller and E_SYNC_DIVERGENCE is returned — the
// caller must reopen the controller rather than trust a partial fold.
func (c *Controller) loadNewPatchesForWriterLocked(ctx context.Context, w string) ([]reduce.StampedPatch, error) {
	tip, ok, err := c.objStore.ReadRef(ctx, store.WriterRef(c.GraphName, w))
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeRefIO, "reading writer tip", err).With("writer", w)
	}
	if !ok {
		return nil, nil
	}
	knownTip := c.writerTips[w]
	if tip == knownTip {
		return nil, nil
	}

	var chain []string
	sha := tip
	for {
		if sha == knownTip {
			break
		}
		info, err := c.objStore.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeRefIO, "reading patch commit", err).With("sha", sha)
		}
		chain = append(chain, sha)
		if len(info.Parents) == 0 {
			if knownTip != "" {
				return nil, warperr.New(warperr.CodeSyncDivergence, "writer history does not contain the last-folded commit").
					With("writer", w).With("expected", knownTip)
			}
			break
		}
		sha = info.Parents[0]
	}

	out := make([]reduce.StampedPatch, 0, len(chain))
	for i := len(chain) - 1; i >= 0; i-- {
		patch, err := c.loadPatchLocked(ctx, chain[i])
		if err != nil {
			return nil, err
		}
		out = append(out, patch)
	}
	return out, nil
}

func (c *Controller) loadPatchLocked(ctx context.Context, sha string) (reduce.StampedPatch, error) {
	info, err := c.objStore.GetNodeInfo(ctx, sha)
	if err != nil {
		return reduce.StampedPatch{}, warperr.Wrap(warperr.CodeRefIO, "reading patch commit", err).With("sha", sha)
	}
	msg, err := store.DecodePatchMessage(info.Message)
	if err != nil {
		return reduce.StampedPatch{}, warperr.Wrap(warperr.CodePatchMalformed, "commit is not a patch message", err).With("sha", sha)
	}
	blob, err := c.objStore.ReadBlob(ctx, msg.BlobOid)
	if err != nil {
		return reduce.StampedPatch{}, warperr.Wrap(warperr.CodeStorage, "reading patch blob", err).With("sha", sha)
	}
	var wire wirePatch
	if err := c.codec.Decode(blob, &wire); err != nil {
		return reduce.StampedPatch{}, warperr.Wrap(warperr.CodePatchMalformed, "decoding patch blob", err).With("sha", sha)
	}
	ops := make([]reduce.Op, 0, len(wire.Ops))
	for i, raw := range wire.Ops {
		op, ok, err := reduce.ValidateRawOp(raw)
		if err != nil {
			return reduce.StampedPatch{}, warperr.Wrap(warperr.CodePatchMalformed, "validating patch op", err).
				With("sha", sha).With("opIndex", i)
		}
		if !ok {
			continue
		}
		ops = append(ops, op)
	}
	return reduce.StampedPatch{
		Patch: reduce.Patch{WriterID: msg.WriterID, Lamport: msg.Lamport, Ops: ops},
		Sha:   sha,
	}, nil
}

// sortByCausalRank orders patches by (Lamport, WriterID, Sha), the
// deterministic rank reduce.Reduce requires its input pre-sorted in.
func sortByCausalRank(patches []reduce.StampedPatch) {
	sort.Slice(patches, func(i, j int) bool {
		a, b := patches[i], patches[j]
		if a.Patch.Lamport != b.Patch.Lamport {
			return a.Patch.Lamport < b.Patch.Lamport
		}
		if a.Patch.WriterID != b.Patch.WriterID {
			return a.Patch.WriterID < b.Patch.WriterID
		}
		return a.Sha < b.Sha
	})
}
