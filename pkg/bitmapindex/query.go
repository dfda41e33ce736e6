package bitmapindex

import (
	"sort"
	"strconv"

	"github.com/warpgraph/warp/pkg/warperr"
)

// Direction selects which edges GetEdges considers.
type Direction int

const (
	DirOut Direction = iota
	DirIn
	DirBoth
)

// Neighbor is one (neighborId, label) pair, the unit this package's reads
// are sorted and deduplicated on.
type Neighbor struct {
	NodeID string
	Label  string
}

func neighborLess(a, b Neighbor) bool {
	if a.NodeID != b.NodeID {
		return a.NodeID < b.NodeID
	}
	return a.Label < b.Label
}

// IsAlive reports whether nodeID is currently alive in idx.
func (idx *LogicalIndex) IsAlive(nodeID string) bool {
	s, ok := idx.shards[ShardKeyByte(nodeID)]
	if !ok {
		return false
	}
	gid, ok := s.nodeToGlobal[nodeID]
	if !ok {
		return false
	}
	return s.alive.Contains(uint32(gid))
}

// GetEdges returns nodeID's edges in the given direction, optionally
// restricted to labelFilter, sorted by (neighborId, label). For
// DirBoth, out- and in-edges are unioned and deduplicated by
// (neighborId, label), with directionality erased.
func (idx *LogicalIndex) GetEdges(nodeID string, direction Direction, labelFilter []string) ([]Neighbor, error) {
	switch direction {
	case DirOut:
		return idx.edgesOneWay(nodeID, labelFilter, forward)
	case DirIn:
		return idx.edgesOneWay(nodeID, labelFilter, reverse)
	case DirBoth:
		out, err := idx.edgesOneWay(nodeID, labelFilter, forward)
		if err != nil {
			return nil, err
		}
		in, err := idx.edgesOneWay(nodeID, labelFilter, reverse)
		if err != nil {
			return nil, err
		}
		return mergeDedup(out, in), nil
	default:
		return nil, warperr.New(warperr.CodeStorage, "unknown direction")
	}
}

type edgeSide int

const (
	forward edgeSide = iota
	reverse
)

func (idx *LogicalIndex) edgesOneWay(nodeID string, labelFilter []string, side edgeSide) ([]Neighbor, error) {
	s, ok := idx.shards[ShardKeyByte(nodeID)]
	if !ok {
		return nil, nil
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
		for _, e := range idx.labels.Entries() {
			labels = append(labels, e.Label)
		}
	}

	var out []Neighbor
	for _, label := range labels {
		labelID, ok := idx.labels.ID(label)
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
			otherID, ok := idx.resolveGlobal(other)
			if !ok {
				continue
			}
			out = append(out, Neighbor{NodeID: otherID, Label: label})
		}
	}

	sort.Slice(out, func(i, j int) bool { return neighborLess(out[i], out[j]) })
	return out, nil
}

func (idx *LogicalIndex) resolveGlobal(gid GlobalID) (string, bool) {
	s, ok := idx.shards[gid.Shard()]
	if !ok {
		return "", false
	}
	nodeID, ok := s.globalToNode[gid]
	return nodeID, ok
}

func mergeDedup(a, b []Neighbor) []Neighbor {
	seen := make(map[Neighbor]struct{}, len(a)+len(b))
	out := make([]Neighbor, 0, len(a)+len(b))
	for _, n := range append(append([]Neighbor(nil), a...), b...) {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return neighborLess(out[i], out[j]) })
	return out
}
