package bitmapindex

import (
	"sort"
	"strconv"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/warperr"
)

// shardData is one shard's fully-decoded, in-memory form: the node↔global
// id table, the alive-set bitmap, and the forward/reverse adjacency
// buckets.
type shardData struct {
	nodeToGlobal map[string]GlobalID
	globalToNode map[GlobalID]string
	nextLocalID  uint32
	alive        *roaring.Bitmap

	// fwd/rev: bucket name ("all" or a stringified label id) -> owner
	// global id -> bitmap of the other endpoint's global ids.
	fwd map[string]map[GlobalID]*roaring.Bitmap
	rev map[string]map[GlobalID]*roaring.Bitmap
}

func newShardData() *shardData {
	return &shardData{
		nodeToGlobal: make(map[string]GlobalID),
		globalToNode: make(map[GlobalID]string),
		alive:        roaring.New(),
		fwd:          make(map[string]map[GlobalID]*roaring.Bitmap),
		rev:          make(map[string]map[GlobalID]*roaring.Bitmap),
	}
}

func (s *shardData) bucketFor(dir map[string]map[GlobalID]*roaring.Bitmap, bucket string, owner GlobalID) *roaring.Bitmap {
	owners, ok := dir[bucket]
	if !ok {
		owners = make(map[GlobalID]*roaring.Bitmap)
		dir[bucket] = owners
	}
	bm, ok := owners[owner]
	if !ok {
		bm = roaring.New()
		owners[owner] = bm
	}
	return bm
}

// LogicalIndex is the full, in-memory sharded bitmap index: one shardData
// per shard byte actually populated, plus the shared label registry.
type LogicalIndex struct {
	shards map[byte]*shardData
	labels *LabelRegistry
}

// NewLogicalIndex returns an empty index with a fresh label registry.
func NewLogicalIndex() *LogicalIndex {
	return &LogicalIndex{shards: make(map[byte]*shardData), labels: NewLabelRegistry()}
}

func (idx *LogicalIndex) shard(key byte) *shardData {
	s, ok := idx.shards[key]
	if !ok {
		s = newShardData()
		idx.shards[key] = s
	}
	return s
}

// registerNode assigns node a GlobalID, seeding from prior's next-local-id
// high-water mark for that shard so already-assigned ids never move.
func (idx *LogicalIndex) registerNode(nodeID string, prior *LogicalIndex) (GlobalID, error) {
	key := ShardKeyByte(nodeID)
	s := idx.shard(key)
	if gid, ok := s.nodeToGlobal[nodeID]; ok {
		return gid, nil
	}

	var local uint32
	if prior != nil {
		if ps, ok := prior.shards[key]; ok {
			if gid, ok := ps.nodeToGlobal[nodeID]; ok {
				// Already assigned in a prior build: carry the id forward
				// verbatim so rebuilds never renumber existing nodes.
				s.nodeToGlobal[nodeID] = gid
				s.globalToNode[gid] = nodeID
				if ps.nextLocalID > s.nextLocalID {
					s.nextLocalID = ps.nextLocalID
				}
				return gid, nil
			}
			local = ps.nextLocalID
		}
	}
	if s.nextLocalID > local {
		local = s.nextLocalID
	}
	if local > MaxLocalID {
		return 0, warperr.New(warperr.CodeShardIDOverflow, "shard local id space exhausted").
			With("shard", ShardKeyHex(nodeID)).With("local", local)
	}
	gid := NewGlobalID(key, local)
	s.nodeToGlobal[nodeID] = gid
	s.globalToNode[gid] = nodeID
	s.nextLocalID = local + 1
	return gid, nil
}

// Build performs a full rebuild of the index from state, seeding global
// ids and the label registry from prior (which may be nil for a first
// build).
func Build(state *crdt.State, prior *LogicalIndex) (*LogicalIndex, error) {
	idx := NewLogicalIndex()
	if prior != nil {
		idx.labels = LoadLabelRegistry(prior.labels.Entries())
	}

	nodeIDs := crdt.AliveStringKeys(state.NodeAlive)
	sort.Strings(nodeIDs)
	for _, nodeID := range nodeIDs {
		gid, err := idx.registerNode(nodeID, prior)
		if err != nil {
			return nil, err
		}
		idx.shard(gid.Shard()).alive.Add(uint32(gid))
	}

	edgeKeys := crdt.AliveStringKeys(state.EdgeAlive)
	sort.Strings(edgeKeys)
	for _, key := range edgeKeys {
		from, to, label, err := crdt.DecodeEdgeKey(key)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeStorage, "decoding edge key during index build", err)
		}
		if err := idx.addEdge(from, to, label, prior); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

func (idx *LogicalIndex) addEdge(from, to, label string, prior *LogicalIndex) error {
	fromGID, err := idx.registerNode(from, prior)
	if err != nil {
		return err
	}
	toGID, err := idx.registerNode(to, prior)
	if err != nil {
		return err
	}
	labelBucket := strconv.FormatUint(uint64(idx.labels.IDFor(label)), 10)

	fromShard := idx.shard(fromGID.Shard())
	fromShard.bucketFor(fromShard.fwd, AllBucket, fromGID).Add(uint32(toGID))
	fromShard.bucketFor(fromShard.fwd, labelBucket, fromGID).Add(uint32(toGID))

	toShard := idx.shard(toGID.Shard())
	toShard.bucketFor(toShard.rev, AllBucket, toGID).Add(uint32(fromGID))
	toShard.bucketFor(toShard.rev, labelBucket, toGID).Add(uint32(fromGID))
	return nil
}

func (idx *LogicalIndex) removeEdge(from, to, label string) {
	fromGID, ok := idx.nodeGlobalID(from)
	if !ok {
		return
	}
	toGID, ok := idx.nodeGlobalID(to)
	if !ok {
		return
	}
	labelBucket := strconv.FormatUint(uint64(idx.labels.IDFor(label)), 10)

	if fromShard, ok := idx.shards[fromGID.Shard()]; ok {
		if bm, ok := fromShard.fwd[AllBucket][fromGID]; ok {
			bm.Remove(uint32(toGID))
		}
		if bm, ok := fromShard.fwd[labelBucket][fromGID]; ok {
			bm.Remove(uint32(toGID))
		}
	}
	if toShard, ok := idx.shards[toGID.Shard()]; ok {
		if bm, ok := toShard.rev[AllBucket][toGID]; ok {
			bm.Remove(uint32(fromGID))
		}
		if bm, ok := toShard.rev[labelBucket][toGID]; ok {
			bm.Remove(uint32(fromGID))
		}
	}
}

func (idx *LogicalIndex) nodeGlobalID(nodeID string) (GlobalID, bool) {
	s, ok := idx.shards[ShardKeyByte(nodeID)]
	if !ok {
		return 0, false
	}
	gid, ok := s.nodeToGlobal[nodeID]
	return gid, ok
}

// ApplyDiff incrementally updates a clone of prior using the reduce.Diff
// produced by folding new patches; the state argument is not consulted.
// Shards untouched by the diff are left byte-identical to prior — an
// empty diff is a no-op clone.
func ApplyDiff(prior *LogicalIndex, diff *reduce.Diff, state *crdt.State) (*LogicalIndex, error) {
	idx := prior.Clone()

	for _, nodeID := range diff.NodesAdded {
		gid, err := idx.registerNode(nodeID, prior)
		if err != nil {
			return nil, err
		}
		idx.shard(gid.Shard()).alive.Add(uint32(gid))
	}
	for _, nodeID := range diff.NodesRemoved {
		if gid, ok := idx.nodeGlobalID(nodeID); ok {
			idx.shard(gid.Shard()).alive.Remove(uint32(gid))
		}
	}
	for _, e := range diff.EdgesAdded {
		if err := idx.addEdge(e.From, e.To, e.Label, prior); err != nil {
			return nil, err
		}
	}
	for _, e := range diff.EdgesRemoved {
		idx.removeEdge(e.From, e.To, e.Label)
	}
	return idx, nil
}

// Clone returns a deep, independent copy of idx, suitable as the base for
// ApplyDiff's incremental update.
func (idx *LogicalIndex) Clone() *LogicalIndex {
	out := NewLogicalIndex()
	out.labels = LoadLabelRegistry(idx.labels.Entries())
	for key, s := range idx.shards {
		cp := newShardData()
		cp.nextLocalID = s.nextLocalID
		for k, v := range s.nodeToGlobal {
			cp.nodeToGlobal[k] = v
		}
		for k, v := range s.globalToNode {
			cp.globalToNode[k] = v
		}
		cp.alive = s.alive.Clone()
		cp.fwd = cloneBuckets(s.fwd)
		cp.rev = cloneBuckets(s.rev)
		out.shards[key] = cp
	}
	return out
}

func cloneBuckets(in map[string]map[GlobalID]*roaring.Bitmap) map[string]map[GlobalID]*roaring.Bitmap {
	out := make(map[string]map[GlobalID]*roaring.Bitmap, len(in))
	for bucket, owners := range in {
		cp := make(map[GlobalID]*roaring.Bitmap, len(owners))
		for owner, bm := range owners {
			cp[owner] = bm.Clone()
		}
		out[bucket] = cp
	}
	return out
}
