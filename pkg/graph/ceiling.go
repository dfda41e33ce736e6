package graph

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// ceilingCacheKey identifies one ceiling-materialize result: the ceiling
// itself plus a snapshot of every writer's tip sha at the time of the
// call. A writer committing between two calls at the same ceiling
// produces a different key, so the cache can never serve a stale answer.
type ceilingCacheKey struct {
	ceiling  uint64
	frontier string
}

type ceilingEntry struct {
	state *crdt.State
}

// MaterializeAtOptions controls MaterializeAt.
type MaterializeAtOptions struct {
	// WithReceipts requests per-patch receipts in the result, which
	// bypasses the ceiling cache — a cached entry only ever holds folded
	// state, never the receipt trail that produced it.
	WithReceipts bool
}

// MaterializeAt replays every patch with Lamport <= ceiling from every
// known writer's full commit history, entirely bypassing checkpoints —
// this is the graph's time-travel read path. Non-receipt results are
// cached keyed by (ceiling, writer tip snapshot).
func (c *Controller) MaterializeAt(ctx context.Context, ceiling uint64, opts MaterializeAtOptions) (*reduce.ReduceResult, error) {
	c.mu.Lock()
	writers := c.sortedWritersLocked()
	c.mu.Unlock()

	tips := make(map[string]string, len(writers))
	for _, w := range writers {
		tip, ok, err := c.objStore.ReadRef(ctx, store.WriterRef(c.GraphName, w))
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeRefIO, "reading writer tip", err).With("writer", w)
		}
		if ok {
			tips[w] = tip
		}
	}
	key := ceilingCacheKey{ceiling: ceiling, frontier: encodeFrontierSnapshot(tips)}

	if !opts.WithReceipts {
		if entry, ok := c.ceilingCache.Get(key); ok {
			if entry != nil && entry.state != nil {
				ceilingCacheHits.WithLabelValues(c.GraphName, "hit").Inc()
				return &reduce.ReduceResult{State: entry.state.Clone()}, nil
			}
			// A cached entry with no state is corrupt — evict it and fall
			// through to a fresh replay rather than serve a nil result.
			c.ceilingCache.Remove(key)
		}
	}
	ceilingCacheHits.WithLabelValues(c.GraphName, "miss").Inc()

	start := time.Now()
	var all []reduce.StampedPatch
	for _, tip := range tips {
		shas, err := c.walkFullHistory(ctx, tip)
		if err != nil {
			return nil, err
		}
		for _, sha := range shas {
			sp, err := c.loadPatchLocked(ctx, sha)
			if err != nil {
				return nil, err
			}
			if sp.Patch.Lamport <= ceiling {
				all = append(all, sp)
			}
		}
	}
	sortByCausalRank(all)

	result, err := reduce.Reduce(nil, all, reduce.ReduceOptions{WithReceipts: opts.WithReceipts, Logger: c.logger})
	if err != nil {
		return nil, err
	}

	if !opts.WithReceipts {
		c.mu.Lock()
		c.ceilingCache.Add(key, &ceilingEntry{state: result.State.Clone()})
		c.mu.Unlock()
	}

	c.logger.Debug("ceiling materialize",
		zap.Duration("duration", time.Since(start)),
		zap.Uint64("ceiling", ceiling),
		zap.Int("patches", len(all)))
	return result, nil
}

// walkFullHistory walks a writer's patch chain backward from tip to its
// root, returning shas in oldest-first order. Unlike
// loadNewPatchesForWriterLocked, it never stops early at a known tip — a
// ceiling materialize always needs the writer's complete history.
func (c *Controller) walkFullHistory(ctx context.Context, tip string) ([]string, error) {
	var chain []string
	sha := tip
	for sha != "" {
		info, err := c.objStore.GetNodeInfo(ctx, sha)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeRefIO, "reading patch commit", err).With("sha", sha)
		}
		chain = append(chain, sha)
		if len(info.Parents) == 0 {
			break
		}
		sha = info.Parents[0]
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

func encodeFrontierSnapshot(tips map[string]string) string {
	writers := make([]string, 0, len(tips))
	for w := range tips {
		writers = append(writers, w)
	}
	sort.Strings(writers)
	var b strings.Builder
	for _, w := range writers {
		b.WriteString(w)
		b.WriteByte('=')
		b.WriteString(tips[w])
		b.WriteByte(';')
	}
	return b.String()
}
