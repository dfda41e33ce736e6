package graph

import (
	"context"

	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/warperr"
)

// RunGC compacts tombstones whose dot is already covered by the observed
// frontier. It clones the cached state, compacts the clone outside the
// controller's lock (modeling the window a concurrent Materialize could
// run in), then re-checks the live frontier before swapping the clone in.
// If the frontier moved during compaction: explicit=true returns
// E_GC_STALE so the caller can retry; explicit=false (the background
// path) discards the compaction result and marks the state dirty for the
// next attempt, without returning an error.
func (c *Controller) RunGC(ctx context.Context, explicit bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runGCLocked(ctx, explicit)
}

// MaybeRunGC runs GC only if the cached state's tombstone count clears
// both the configured threshold and ratio. Failures are logged and
// swallowed — a skipped GC pass is never fatal to the caller that
// triggered materialization.
func (c *Controller) MaybeRunGC(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRunGCLocked(ctx)
}

func (c *Controller) maybeRunGCLocked(ctx context.Context) {
	if c.cachedState == nil {
		return
	}
	tombstones, total := tombstoneCounts(c.cachedState)
	if tombstones < c.cfg.GCTombstoneThreshold {
		return
	}
	if total == 0 || float64(tombstones)/float64(total) < c.cfg.GCTombstoneRatio {
		return
	}
	if err := c.runGCLocked(ctx, false); err != nil {
		c.logger.Warn("background gc failed, will retry on next materialize", zap.Error(err))
	}
}

func (c *Controller) runGCLocked(ctx context.Context, explicit bool) error {
	if c.cachedState == nil {
		return warperr.New(warperr.CodeNoState, "no materialized state to garbage collect")
	}

	frontierBefore := c.cachedState.ObservedFrontier.Clone()
	clone := c.cachedState.Clone()

	c.mu.Unlock()
	removedNodes := clone.NodeAlive.CompactTombstones(frontierBefore)
	removedEdges := clone.EdgeAlive.CompactTombstones(frontierBefore)
	c.mu.Lock()

	if !frontierEqual(frontierBefore, c.cachedState.ObservedFrontier) {
		if explicit {
			gcRunsTotal.WithLabelValues(c.GraphName, "stale").Inc()
			return warperr.New(warperr.CodeGCStale, "observed frontier advanced during compaction, retry")
		}
		gcRunsTotal.WithLabelValues(c.GraphName, "discarded").Inc()
		c.logger.Info("gc frontier moved mid-compaction, discarding result and marking dirty for retry")
		c.dirty = true
		return nil
	}

	c.cachedState = clone
	c.gcRuns++
	c.dirty = true
	gcTombstonesCompacted.WithLabelValues(c.GraphName).Add(float64(removedNodes + removedEdges))
	gcRunsTotal.WithLabelValues(c.GraphName, "compacted").Inc()
	c.logger.Info("gc compacted tombstones",
		zap.Int("removedNodeTombstones", removedNodes),
		zap.Int("removedEdgeTombstones", removedEdges),
		zap.Bool("explicit", explicit))
	return nil
}

// tombstoneCounts returns the number of tombstoned dots and the total dot
// count (alive + tombstoned) across both OR-Sets, the inputs to
// maybeRunGCLocked's threshold/ratio check.
func tombstoneCounts(state *crdt.State) (tombstones, total int) {
	for _, s := range []*crdt.ORSet[string]{state.NodeAlive, state.EdgeAlive} {
		alive := 0
		for _, dots := range s.Entries {
			alive += len(dots)
		}
		tombstones += len(s.Tombstones)
		total += len(s.Tombstones) + alive
	}
	return tombstones, total
}

func frontierEqual(a, b crdt.VersionVector) bool {
	if len(a) != len(b) {
		return false
	}
	for w, count := range a {
		if b[w] != count {
			return false
		}
	}
	return true
}
