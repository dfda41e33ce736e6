package bitmapindex

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// ReaderConfig controls a Reader's caching and failure-handling policy.
type ReaderConfig struct {
	MaxCachedShards int
	Strict          bool
	Logger          *zap.Logger
}

// Reader lazily loads shards from a tree's path→oid map on demand,
// caching up to MaxCachedShards via LRU. In strict mode, a corrupt or
// version-mismatched shard fails the read; in lenient mode the shard
// becomes an empty stand-in and the failure is logged once per shard key
// (never re-logged or re-read on subsequent accesses).
type Reader struct {
	oids    map[string]string
	store   store.ObjectStore
	codec   store.Codec
	crypto  store.Crypto
	cfg     ReaderConfig
	labels  *LabelRegistry
	cache   *lru.Cache[byte, *shardData]
	warned  sync.Map // byte -> struct{}
	labelMu sync.Once
}

// NewReader constructs a Reader over a persisted index tree's oid map.
func NewReader(oids map[string]string, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto, cfg ReaderConfig) (*Reader, error) {
	if cfg.MaxCachedShards <= 0 {
		cfg.MaxCachedShards = 32
	}
	cache, err := lru.New[byte, *shardData](cfg.MaxCachedShards)
	if err != nil {
		return nil, fmt.Errorf("bitmapindex: building shard cache: %w", err)
	}
	return &Reader{oids: oids, store: objStore, codec: codec, crypto: crypto, cfg: cfg, cache: cache}, nil
}

func (r *Reader) logger() *zap.Logger {
	if r.cfg.Logger != nil {
		return r.cfg.Logger
	}
	return zap.NewNop()
}

func (r *Reader) ensureLabels(ctx context.Context) error {
	var outerErr error
	r.labelMu.Do(func() {
		labelOid, ok := r.oids["labels.cbor"]
		if !ok {
			r.labels = NewLabelRegistry()
			return
		}
		data, err := r.store.ReadBlob(ctx, labelOid)
		if err != nil {
			outerErr = warperr.Wrap(warperr.CodeShardLoad, "reading labels shard", err)
			return
		}
		var doc struct {
			Entries []LabelEntry `codec:"entries"`
		}
		if err := unwrap(data, &doc, r.codec, r.crypto); err != nil {
			outerErr = err
			return
		}
		r.labels = LoadLabelRegistry(doc.Entries)
	})
	return outerErr
}

// shardFor returns key's decoded shardData, loading and caching it on
// first access. A missing shard (no files for that key) is a valid empty
// shard, not an error.
func (r *Reader) shardFor(ctx context.Context, key byte) (*shardData, error) {
	if cached, ok := r.cache.Get(key); ok {
		return cached, nil
	}

	s, err := r.loadShard(ctx, key)
	if err != nil {
		if r.cfg.Strict {
			return nil, err
		}
		if _, already := r.warned.LoadOrStore(key, struct{}{}); !already {
			r.logger().Warn("bitmapindex: shard degraded to empty stand-in",
				zap.String("shard", shardHex(key)), zap.Error(err))
		}
		s = newShardData()
	}
	r.cache.Add(key, s)
	return s, nil
}

func (r *Reader) loadShard(ctx context.Context, key byte) (*shardData, error) {
	hex := shardHex(key)
	s := newShardData()

	if oid, ok := r.oids[fmt.Sprintf("meta_%s.cbor", hex)]; ok {
		data, err := r.store.ReadBlob(ctx, oid)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeShardLoad, "reading meta shard", err)
		}
		var meta MetaPayload
		if err := unwrap(data, &meta, r.codec, r.crypto); err != nil {
			return nil, err
		}
		s.nextLocalID = meta.NextLocalID
		for _, p := range meta.Pairs {
			s.nodeToGlobal[p.NodeID] = p.GlobalID
			s.globalToNode[p.GlobalID] = p.NodeID
		}
		alive, err := decodeBitmap(meta.AliveBitmap)
		if err != nil {
			return nil, warperr.New(warperr.CodeShardCorruption, "malformed alive bitmap").With("shard", hex)
		}
		s.alive = alive
	}
	if oid, ok := r.oids[fmt.Sprintf("fwd_%s.cbor", hex)]; ok {
		dir, err := loadAdjacency(ctx, oid, r.store, r.codec, r.crypto)
		if err != nil {
			return nil, err
		}
		s.fwd = dir
	}
	if oid, ok := r.oids[fmt.Sprintf("rev_%s.cbor", hex)]; ok {
		dir, err := loadAdjacency(ctx, oid, r.store, r.codec, r.crypto)
		if err != nil {
			return nil, err
		}
		s.rev = dir
	}
	return s, nil
}

// IsAlive reports whether nodeID is alive according to the loaded shards.
func (r *Reader) IsAlive(ctx context.Context, nodeID string) (bool, error) {
	s, err := r.shardFor(ctx, ShardKeyByte(nodeID))
	if err != nil {
		return false, err
	}
	gid, ok := s.nodeToGlobal[nodeID]
	if !ok {
		return false, nil
	}
	return s.alive.Contains(uint32(gid)), nil
}

// GetEdges returns nodeID's edges in direction, restricted to labelFilter
// if non-empty, sorted by (neighborId, label).
func (r *Reader) GetEdges(ctx context.Context, nodeID string, direction Direction, labelFilter []string) ([]Neighbor, error) {
	if err := r.ensureLabels(ctx); err != nil {
		return nil, err
	}
	switch direction {
	case DirOut:
		return r.edgesOneWay(ctx, nodeID, labelFilter, forward)
	case DirIn:
		return r.edgesOneWay(ctx, nodeID, labelFilter, reverse)
	case DirBoth:
		out, err := r.edgesOneWay(ctx, nodeID, labelFilter, forward)
		if err != nil {
			return nil, err
		}
		in, err := r.edgesOneWay(ctx, nodeID, labelFilter, reverse)
		if err != nil {
			return nil, err
		}
		return mergeDedup(out, in), nil
	default:
		return nil, warperr.New(warperr.CodeStorage, "unknown direction")
	}
}

func (r *Reader) edgesOneWay(ctx context.Context, nodeID string, labelFilter []string, side edgeSide) ([]Neighbor, error) {
	s, err := r.shardFor(ctx, ShardKeyByte(nodeID))
	if err != nil {
		return nil, err
	}
	gid, ok := s.nodeToGlobal[nodeID]
	if !ok {
		return nil, nil
	}

	dir := s.fwd
	if side == reverse {
		dir = s.rev
	}

	labels := labelFilter
	if len(labels) == 0 {
		for _, e := range r.labels.Entries() {
			labels = append(labels, e.Label)
		}
	}

	var out []Neighbor
	for _, label := range labels {
		labelID, ok := r.labels.ID(label)
		if !ok {
			continue
		}
		bucket := strconv.FormatUint(uint64(labelID), 10)
		owners, ok := dir[bucket]
		if !ok {
			continue
		}
		bm, ok := owners[gid]
		if !ok {
			continue
		}
		for _, otherRaw := range bm.ToArray() {
			other := GlobalID(otherRaw)
			otherShard, err := r.shardFor(ctx, other.Shard())
			if err != nil {
				return nil, err
			}
			otherID, ok := otherShard.globalToNode[other]
			if !ok {
				continue
			}
			out = append(out, Neighbor{NodeID: otherID, Label: label})
		}
	}

	sort.Slice(out, func(i, j int) bool { return neighborLess(out[i], out[j]) })
	return out, nil
}
