// Package materialize builds and incrementally updates the on-disk index
// tree (bitmap index shards plus property shards) from a folded CRDT
// state, and verifies a built index against ground-truth adjacency.
package materialize

import (
	"context"
	"math/rand"
	"sort"

	"github.com/warpgraph/warp/pkg/bitmapindex"
	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/propindex"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// Tree is the unpersisted, in-memory rendering of an index build: every
// shard file keyed by its canonical filename, ready to be written as
// blobs and assembled into a tree object by PersistIndexTree.
type Tree struct {
	Files map[string][]byte
}

// Result bundles everything one materialize pass produces.
type Result struct {
	Tree  *Tree
	Index *bitmapindex.LogicalIndex
	Props *propindex.Index
}

func mergeFiles(a, b map[string][]byte) map[string][]byte {
	out := make(map[string][]byte, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Build performs a full rebuild of the bitmap index and property index
// from state. priorIndex, if non-nil, is consulted so stable global ids
// carry forward unchanged; the property index has no such dependency and
// is always derived fresh from state.
func Build(state *crdt.State, priorIndex *bitmapindex.LogicalIndex, codec store.Codec, crypto store.Crypto) (*Result, error) {
	idx, err := bitmapindex.Build(state, priorIndex)
	if err != nil {
		return nil, err
	}
	props, err := propindex.Build(state)
	if err != nil {
		return nil, err
	}

	idxFiles, err := idx.Files(codec, crypto)
	if err != nil {
		return nil, err
	}
	propFiles, err := props.Files(codec, crypto)
	if err != nil {
		return nil, err
	}
	return &Result{Tree: &Tree{Files: mergeFiles(idxFiles, propFiles)}, Index: idx, Props: props}, nil
}

// ApplyDiff incrementally updates priorIndex/priorProps from diff, re-
// rendering only what changed. An empty diff yields byte-identical
// shards to the prior build.
func ApplyDiff(priorIndex *bitmapindex.LogicalIndex, priorProps *propindex.Index, diff *reduce.Diff, state *crdt.State, codec store.Codec, crypto store.Crypto) (*Result, error) {
	idx, err := bitmapindex.ApplyDiff(priorIndex, diff, state)
	if err != nil {
		return nil, err
	}
	props, err := propindex.ApplyDiff(priorProps, diff, state)
	if err != nil {
		return nil, err
	}

	idxFiles, err := idx.Files(codec, crypto)
	if err != nil {
		return nil, err
	}
	propFiles, err := props.Files(codec, crypto)
	if err != nil {
		return nil, err
	}
	return &Result{Tree: &Tree{Files: mergeFiles(idxFiles, propFiles)}, Index: idx, Props: props}, nil
}

// PersistIndexTree writes tree's files as blobs and assembles them into a
// tree object, returning its oid.
func PersistIndexTree(ctx context.Context, tree *Tree, objStore store.ObjectStore) (string, error) {
	names := make([]string, 0, len(tree.Files))
	for name := range tree.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]store.TreeEntry, 0, len(names))
	for _, name := range names {
		oid, err := objStore.WriteBlob(ctx, tree.Files[name])
		if err != nil {
			return "", warperr.Wrap(warperr.CodeStorage, "writing index shard blob", err)
		}
		entries = append(entries, store.TreeEntry{Path: name, Oid: oid})
	}
	treeOid, err := objStore.WriteTree(ctx, entries)
	if err != nil {
		return "", warperr.Wrap(warperr.CodeStorage, "writing index tree", err)
	}
	return treeOid, nil
}

// LoadFromOids reconstructs the bitmap index and property index from a
// persisted tree's path→oid map.
func LoadFromOids(ctx context.Context, oids map[string]string, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto) (*bitmapindex.LogicalIndex, *propindex.Index, error) {
	idx, err := bitmapindex.LoadTree(ctx, oids, objStore, codec, crypto)
	if err != nil {
		return nil, nil, err
	}
	props, err := propindex.LoadTree(ctx, oids, objStore, codec, crypto)
	if err != nil {
		return nil, nil, err
	}
	return idx, props, nil
}

// SampleOptions controls VerifyIndex's sampling.
type SampleOptions struct {
	// SampleSize caps how many alive nodes are checked. Zero means check
	// every alive node.
	SampleSize int
}

// VerifyIndex samples alive nodes in state and asserts that each node's
// neighbor set from idx equals the ground-truth adjacency derived
// directly from state's edge set.
func VerifyIndex(state *crdt.State, idx *bitmapindex.LogicalIndex, opts SampleOptions) error {
	nodes := crdt.AliveStringKeys(state.NodeAlive)
	if opts.SampleSize > 0 && opts.SampleSize < len(nodes) {
		shuffled := append([]string(nil), nodes...)
		rand.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		nodes = shuffled[:opts.SampleSize]
		sort.Strings(nodes)
	}

	groundTruth := bruteForceAdjacency(state)

	for _, node := range nodes {
		got, err := idx.GetEdges(node, bitmapindex.DirOut, nil)
		if err != nil {
			return warperr.Wrap(warperr.CodeStorage, "verifying index", err).With("node", node)
		}
		want := groundTruth[node]
		if !neighborsEqual(got, want) {
			return warperr.New(warperr.CodeShardCorruption, "index neighbor set diverges from ground truth").
				With("node", node).With("want", want).With("got", got)
		}
	}
	return nil
}

func bruteForceAdjacency(state *crdt.State) map[string][]bitmapindex.Neighbor {
	out := make(map[string][]bitmapindex.Neighbor)
	for _, key := range crdt.AliveStringKeys(state.EdgeAlive) {
		from, to, label, err := crdt.DecodeEdgeKey(key)
		if err != nil {
			continue
		}
		out[from] = append(out[from], bitmapindex.Neighbor{NodeID: to, Label: label})
	}
	for node, neighbors := range out {
		sort.Slice(neighbors, func(i, j int) bool {
			if neighbors[i].NodeID != neighbors[j].NodeID {
				return neighbors[i].NodeID < neighbors[j].NodeID
			}
			return neighbors[i].Label < neighbors[j].Label
		})
		out[node] = neighbors
	}
	return out
}

func neighborsEqual(a, b []bitmapindex.Neighbor) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
