// Package graph implements the per-graph controller: the component that
// owns a graph's in-memory caches (folded CRDT state, bitmap/property
// index, writer-tip cursors) and orchestrates its lifecycle — open,
// materialize, checkpoint, time-travel materialize, fork, and garbage
// collection. Every other package in this module (reduce, bitmapindex,
// propindex, checkpoint, traversal, writer) is a pure function over its
// inputs; this package is where their results get cached, persisted, and
// kept consistent across concurrent callers.
package graph

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/warpgraph/warp/internal/config"
	"github.com/warpgraph/warp/internal/logging"
	"github.com/warpgraph/warp/pkg/bitmapindex"
	"github.com/warpgraph/warp/pkg/checkpoint"
	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/materialize"
	"github.com/warpgraph/warp/pkg/propindex"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// Controller owns a single graph's lifecycle: open, materialize,
// checkpoint, ceiling materialize, fork, and GC. Safe for concurrent use:
// its methods serialize themselves on an internal mutex, so callers may
// invoke them concurrently without external locking.
type Controller struct {
	GraphName string

	objStore store.ObjectStore
	codec    store.Codec
	crypto   store.Crypto
	cfg      config.ControllerConfig
	logger   *zap.Logger

	mu sync.Mutex

	cachedState       *crdt.State
	cachedIndex       *bitmapindex.LogicalIndex
	cachedProps       *propindex.Index
	cachedIndexTree   *materialize.Tree
	indexDegraded     bool
	dirty             bool
	registeredWriters map[string]struct{}
	// writerTips maps writerId to the sha of the last patch commit
	// folded into cachedState — the ancestry boundary Materialize walks
	// forward from.
	writerTips map[string]string
	gcRuns     int

	materializeGroup singleflight.Group
	ceilingCache     *lru.Cache[ceilingCacheKey, *ceilingEntry]
}

const defaultCeilingCacheSize = 32

// New constructs a Controller for graphName. cfg is validated; an invalid
// config returns E_CONFIG_INVALID rather than panicking. logger may be
// nil (defaults to a no-op logger).
func New(graphName string, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto, cfg config.ControllerConfig, logger *zap.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cache, err := lru.New[ceilingCacheKey, *ceilingEntry](defaultCeilingCacheSize)
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeConfigInvalid, "constructing ceiling cache", err)
	}
	return &Controller{
		GraphName:         graphName,
		objStore:          objStore,
		codec:             codec,
		crypto:            crypto,
		cfg:               cfg,
		logger:            logging.ForGraph(logger, graphName, "graph.controller"),
		registeredWriters: make(map[string]struct{}),
		writerTips:        make(map[string]string),
		ceilingCache:      cache,
	}, nil
}

// RegisterWriter adds writerID to the graph's known-writer set, persisting
// the updated set to the coverage anchor commit (an octopus merge of every
// registered writer's current tip) so a later Open on a fresh process can
// recover the set without it being passed in again. A lost CAS race
// updating the anchor is logged and swallowed — the anchor is a discovery
// aid, not a correctness-critical ref.
func (c *Controller) RegisterWriter(ctx context.Context, writerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.registerWritersLocked(ctx, []string{writerID})
}

func (c *Controller) registerWritersLocked(ctx context.Context, writerIDs []string) error {
	added := false
	for _, w := range writerIDs {
		if w == "" {
			continue
		}
		if _, ok := c.registeredWriters[w]; !ok {
			c.registeredWriters[w] = struct{}{}
			added = true
		}
	}
	if !added {
		return nil
	}
	return c.updateCoverageAnchorLocked(ctx)
}

func (c *Controller) sortedWritersLocked() []string {
	out := make([]string, 0, len(c.registeredWriters))
	for w := range c.registeredWriters {
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

func (c *Controller) updateCoverageAnchorLocked(ctx context.Context) error {
	writers := c.sortedWritersLocked()
	parents := make([]string, 0, len(writers))
	for _, w := range writers {
		tip, ok, err := c.objStore.ReadRef(ctx, store.WriterRef(c.GraphName, w))
		if err != nil {
			return warperr.Wrap(warperr.CodeRefIO, "reading writer tip for coverage anchor", err).With("writer", w)
		}
		if ok {
			parents = append(parents, tip)
		}
	}
	message := store.EncodeAnchorMessage(store.AnchorMessage{Graph: c.GraphName, Schema: store.SchemaVersion, Writers: writers})
	oldTip, _, err := c.objStore.ReadRef(ctx, store.CoverageRef(c.GraphName))
	if err != nil {
		return warperr.Wrap(warperr.CodeRefIO, "reading coverage anchor ref", err)
	}
	sha, err := c.objStore.CommitNode(ctx, store.CommitInput{Message: message, Parents: parents})
	if err != nil {
		return warperr.Wrap(warperr.CodeStorage, "committing coverage anchor", err)
	}
	if err := c.objStore.UpdateRef(ctx, store.CoverageRef(c.GraphName), sha, oldTip); err != nil {
		c.logger.Warn("coverage anchor update lost a race, will retry on next registration", zap.Error(err))
		return nil
	}
	return nil
}

// Open validates the schema-migration boundary and loads the latest
// checkpoint (if any) into the controller's caches. A graph with no
// checkpoint and no writer history opens successfully with empty state.
func (c *Controller) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.loadRegisteredWritersLocked(ctx); err != nil {
		return err
	}
	if err := c.validateMigrationBoundaryLocked(ctx); err != nil {
		return err
	}
	return c.loadCheckpointLocked(ctx)
}

func (c *Controller) loadRegisteredWritersLocked(ctx context.Context) error {
	tip, ok, err := c.objStore.ReadRef(ctx, store.CoverageRef(c.GraphName))
	if err != nil {
		return warperr.Wrap(warperr.CodeRefIO, "reading coverage anchor ref", err)
	}
	if !ok {
		return nil
	}
	info, err := c.objStore.GetNodeInfo(ctx, tip)
	if err != nil {
		return warperr.Wrap(warperr.CodeRefIO, "reading coverage anchor commit", err).With("sha", tip)
	}
	msg, err := store.DecodeAnchorMessage(info.Message)
	if err != nil {
		return warperr.Wrap(warperr.CodePatchMalformed, "coverage anchor commit is malformed", err).With("sha", tip)
	}
	for _, w := range msg.Writers {
		c.registeredWriters[w] = struct{}{}
	}
	return nil
}

// validateMigrationBoundaryLocked fails Open with E_MIGRATION_REQUIRED if
// any known writer's current tip carries a patch schema older than the
// module's current SchemaVersion and no checkpoint exists to bridge it —
// a checkpoint, once taken at the current schema, is trusted to have
// folded every older-schema patch that preceded it.
func (c *Controller) validateMigrationBoundaryLocked(ctx context.Context) error {
	checkpointTip, ok, err := c.objStore.ReadRef(ctx, store.CheckpointRef(c.GraphName))
	if err != nil {
		return warperr.Wrap(warperr.CodeRefIO, "reading checkpoint ref", err)
	}
	if ok && checkpointTip != "" {
		return nil
	}
	for w := range c.registeredWriters {
		tip, ok, err := c.objStore.ReadRef(ctx, store.WriterRef(c.GraphName, w))
		if err != nil {
			return warperr.Wrap(warperr.CodeRefIO, "reading writer tip", err).With("writer", w)
		}
		if !ok {
			continue
		}
		info, err := c.objStore.GetNodeInfo(ctx, tip)
		if err != nil {
			return warperr.Wrap(warperr.CodeRefIO, "reading writer tip commit", err).With("sha", tip)
		}
		msg, err := store.DecodePatchMessage(info.Message)
		if err != nil {
			return warperr.Wrap(warperr.CodePatchMalformed, "writer tip is not a patch commit", err).With("sha", tip)
		}
		if msg.Schema != store.SchemaVersion {
			return warperr.New(warperr.CodeMigrationRequired, "writer history predates schema without a migration checkpoint").
				With("writer", w).With("schema", msg.Schema).With("currentSchema", store.SchemaVersion)
		}
	}
	return nil
}

func (c *Controller) loadCheckpointLocked(ctx context.Context) error {
	tip, ok, err := c.objStore.ReadRef(ctx, store.CheckpointRef(c.GraphName))
	if err != nil {
		return warperr.Wrap(warperr.CodeRefIO, "reading checkpoint ref", err)
	}
	if !ok {
		c.cachedState = crdt.NewState()
		c.writerTips = make(map[string]string)
		c.cachedIndex = nil
		c.cachedProps = nil
		c.cachedIndexTree = nil
		return nil
	}

	info, err := c.objStore.GetNodeInfo(ctx, tip)
	if err != nil {
		return warperr.Wrap(warperr.CodeRefIO, "reading checkpoint commit", err).With("sha", tip)
	}
	msg, err := store.DecodeCheckpointMessage(info.Message)
	if err != nil {
		return warperr.Wrap(warperr.CodePatchMalformed, "checkpoint commit is malformed", err).With("sha", tip)
	}
	if msg.Schema != store.SchemaVersion {
		return warperr.New(warperr.CodeMigrationRequired, "checkpoint schema mismatch").
			With("expected", store.SchemaVersion).With("actual", msg.Schema)
	}

	oids, err := c.objStore.ReadTreeOids(ctx, msg.TreeOid)
	if err != nil {
		return warperr.Wrap(warperr.CodeStorage, "reading checkpoint tree", err).With("treeOid", msg.TreeOid)
	}
	metaBlob, err := c.objStore.ReadBlob(ctx, oids[checkpointMetaFile])
	if err != nil {
		return warperr.Wrap(warperr.CodeStorage, "reading checkpoint meta blob", err)
	}
	var meta checkpointMeta
	if err := c.codec.Decode(metaBlob, &meta); err != nil {
		return warperr.Wrap(warperr.CodePatchMalformed, "decoding checkpoint meta", err)
	}
	stateBlob, err := c.objStore.ReadBlob(ctx, oids[checkpointStateFile])
	if err != nil {
		return warperr.Wrap(warperr.CodeStorage, "reading checkpoint state blob", err)
	}
	state, err := checkpoint.Decode(stateBlob, meta.StateHash, c.codec, c.crypto)
	if err != nil {
		return err
	}

	c.cachedState = state
	c.writerTips = meta.WriterTips
	if c.writerTips == nil {
		c.writerTips = make(map[string]string)
	}
	c.cachedIndex = nil
	c.cachedProps = nil
	c.cachedIndexTree = nil
	if meta.IndexTreeOid != "" {
		indexOids, err := c.objStore.ReadTreeOids(ctx, meta.IndexTreeOid)
		if err != nil {
			c.logger.Warn("failed to read checkpoint index tree, will rebuild on next materialize", zap.Error(err))
			c.indexDegraded = true
			return nil
		}
		idx, props, err := materialize.LoadFromOids(ctx, indexOids, c.objStore, c.codec, c.crypto)
		if err != nil {
			c.logger.Warn("failed to load checkpoint index, will rebuild on next materialize", zap.Error(err))
			c.indexDegraded = true
			return nil
		}
		c.cachedIndex = idx
		c.cachedProps = props
		c.indexDegraded = false
	}
	return nil
}

// IndexDegraded reports whether the controller is currently serving
// queries via linear scan because the last index build/load failed.
func (c *Controller) IndexDegraded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.indexDegraded
}

// State returns a clone of the controller's currently cached state, safe
// for the caller to read or mutate without affecting the controller.
func (c *Controller) State() *crdt.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cachedState == nil {
		return crdt.NewState()
	}
	return c.cachedState.Clone()
}

// Index returns the controller's currently cached bitmap index, or nil if
// none has been built yet or the index is degraded.
func (c *Controller) Index() *bitmapindex.LogicalIndex {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedIndex
}

// Props returns the controller's currently cached property index, or nil
// under the same conditions as Index.
func (c *Controller) Props() *propindex.Index {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cachedProps
}

// Dirty reports whether the cached state has changed since the last
// successful CreateCheckpoint.
func (c *Controller) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty
}
