package bitmapindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

func shardHex(key byte) string { return hexByte(key) }

// metaPayloadFor builds the meta_XX payload for one shard: the sorted
// node→globalId table, the next-local-id high-water mark, and the
// serialized alive-set bitmap.
func metaPayloadFor(s *shardData) (MetaPayload, error) {
	pairs := make([]NodeGlobalPair, 0, len(s.nodeToGlobal))
	for nodeID, gid := range s.nodeToGlobal {
		pairs = append(pairs, NodeGlobalPair{NodeID: nodeID, GlobalID: gid})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].NodeID < pairs[j].NodeID })

	aliveBytes, err := encodeBitmap(s.alive)
	if err != nil {
		return MetaPayload{}, err
	}
	return MetaPayload{Pairs: pairs, NextLocalID: s.nextLocalID, AliveBitmap: aliveBytes}, nil
}

func adjacencyPayloadFor(dir map[string]map[GlobalID]*roaring.Bitmap) (AdjacencyPayload, error) {
	bucketNames := make([]string, 0, len(dir))
	for name := range dir {
		bucketNames = append(bucketNames, name)
	}
	sort.Strings(bucketNames)

	payload := AdjacencyPayload{Buckets: make([]Bucket, 0, len(bucketNames))}
	for _, name := range bucketNames {
		owners := dir[name]
		ownerIDs := make([]GlobalID, 0, len(owners))
		for owner := range owners {
			ownerIDs = append(ownerIDs, owner)
		}
		sort.Slice(ownerIDs, func(i, j int) bool { return ownerIDs[i] < ownerIDs[j] })

		bucket := Bucket{Name: name, Owners: make([]OwnerBitmap, 0, len(ownerIDs))}
		for _, owner := range ownerIDs {
			data, err := encodeBitmap(owners[owner])
			if err != nil {
				return AdjacencyPayload{}, err
			}
			bucket.Owners = append(bucket.Owners, OwnerBitmap{Owner: owner, Bitmap: data})
		}
		payload.Buckets = append(payload.Buckets, bucket)
	}
	return payload, nil
}

// Files renders idx as a deterministic set of shard files keyed by their
// canonical filename (meta_XX.cbor, fwd_XX.cbor, rev_XX.cbor, labels.cbor,
// receipt.cbor), each wrapped in a checksummed envelope.
func (idx *LogicalIndex) Files(codec store.Codec, crypto store.Crypto) (map[string][]byte, error) {
	out := make(map[string][]byte)

	shardKeys := make([]byte, 0, len(idx.shards))
	for key := range idx.shards {
		shardKeys = append(shardKeys, key)
	}
	sort.Slice(shardKeys, func(i, j int) bool { return shardKeys[i] < shardKeys[j] })

	nodeCount := 0
	for _, key := range shardKeys {
		s := idx.shards[key]
		nodeCount += len(s.nodeToGlobal)

		meta, err := metaPayloadFor(s)
		if err != nil {
			return nil, err
		}
		metaBytes, err := wrap(meta, codec, crypto)
		if err != nil {
			return nil, err
		}
		out[fmt.Sprintf("meta_%s.cbor", shardHex(key))] = metaBytes

		fwd, err := adjacencyPayloadFor(s.fwd)
		if err != nil {
			return nil, err
		}
		fwdBytes, err := wrap(fwd, codec, crypto)
		if err != nil {
			return nil, err
		}
		out[fmt.Sprintf("fwd_%s.cbor", shardHex(key))] = fwdBytes

		rev, err := adjacencyPayloadFor(s.rev)
		if err != nil {
			return nil, err
		}
		revBytes, err := wrap(rev, codec, crypto)
		if err != nil {
			return nil, err
		}
		out[fmt.Sprintf("rev_%s.cbor", shardHex(key))] = revBytes
	}

	labelsBytes, err := wrap(struct {
		Entries []LabelEntry `codec:"entries"`
	}{Entries: idx.labels.Entries()}, codec, crypto)
	if err != nil {
		return nil, err
	}
	out["labels.cbor"] = labelsBytes

	receipt := ReceiptPayload{
		Schema:     ShardSchema,
		NodeCount:  nodeCount,
		LabelCount: len(idx.labels.Entries()),
		ShardCount: len(shardKeys),
	}
	receiptBytes, err := wrap(receipt, codec, crypto)
	if err != nil {
		return nil, err
	}
	out["receipt.cbor"] = receiptBytes

	return out, nil
}

// Persist writes idx's files as blobs and assembles them into a tree,
// returning the tree's oid.
func (idx *LogicalIndex) Persist(ctx context.Context, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto) (string, error) {
	files, err := idx.Files(codec, crypto)
	if err != nil {
		return "", err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]store.TreeEntry, 0, len(names))
	for _, name := range names {
		oid, err := objStore.WriteBlob(ctx, files[name])
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

// LoadTree reconstructs a LogicalIndex from a tree's path→oid map,
// validating every shard's envelope as it is decoded. Any corrupt or
// mismatched shard fails the whole load with an error; the lenient
// degrade-and-log behaviour lives in the bitmapindex.Reader wrapper.
func LoadTree(ctx context.Context, oids map[string]string, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto) (*LogicalIndex, error) {
	idx := NewLogicalIndex()

	if labelOid, ok := oids["labels.cbor"]; ok {
		data, err := objStore.ReadBlob(ctx, labelOid)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeShardLoad, "reading labels shard", err)
		}
		var labelsDoc struct {
			Entries []LabelEntry `codec:"entries"`
		}
		if err := unwrap(data, &labelsDoc, codec, crypto); err != nil {
			return nil, err
		}
		idx.labels = LoadLabelRegistry(labelsDoc.Entries)
	}

	shardKeys := map[byte]bool{}
	for path := range oids {
		var hex string
		switch {
		case len(path) == len("meta_XX.cbor") && path[:5] == "meta_":
			hex = path[5:7]
		case len(path) == len("fwd_XX.cbor") && path[:4] == "fwd_":
			hex = path[4:6]
		case len(path) == len("rev_XX.cbor") && path[:4] == "rev_":
			hex = path[4:6]
		default:
			continue
		}
		key, err := parseHexByte(hex)
		if err != nil {
			continue
		}
		shardKeys[key] = true
	}

	for key := range shardKeys {
		s := newShardData()
		hex := shardHex(key)

		if oid, ok := oids[fmt.Sprintf("meta_%s.cbor", hex)]; ok {
			data, err := objStore.ReadBlob(ctx, oid)
			if err != nil {
				return nil, warperr.Wrap(warperr.CodeShardLoad, "reading meta shard", err)
			}
			var meta MetaPayload
			if err := unwrap(data, &meta, codec, crypto); err != nil {
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

		if oid, ok := oids[fmt.Sprintf("fwd_%s.cbor", hex)]; ok {
			dir, err := loadAdjacency(ctx, oid, objStore, codec, crypto)
			if err != nil {
				return nil, err
			}
			s.fwd = dir
		}
		if oid, ok := oids[fmt.Sprintf("rev_%s.cbor", hex)]; ok {
			dir, err := loadAdjacency(ctx, oid, objStore, codec, crypto)
			if err != nil {
				return nil, err
			}
			s.rev = dir
		}

		idx.shards[key] = s
	}

	return idx, nil
}

func loadAdjacency(ctx context.Context, oid string, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto) (map[string]map[GlobalID]*roaring.Bitmap, error) {
	data, err := objStore.ReadBlob(ctx, oid)
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeShardLoad, "reading adjacency shard", err)
	}
	var payload AdjacencyPayload
	if err := unwrap(data, &payload, codec, crypto); err != nil {
		return nil, err
	}
	out := make(map[string]map[GlobalID]*roaring.Bitmap, len(payload.Buckets))
	for _, bucket := range payload.Buckets {
		owners := make(map[GlobalID]*roaring.Bitmap, len(bucket.Owners))
		for _, ob := range bucket.Owners {
			bm, err := decodeBitmap(ob.Bitmap)
			if err != nil {
				return nil, warperr.New(warperr.CodeShardCorruption, "malformed adjacency bitmap").With("bucket", bucket.Name)
			}
			owners[ob.Owner] = bm
		}
		out[bucket.Name] = owners
	}
	return out, nil
}

func parseHexByte(s string) (byte, error) {
	if len(s) != 2 {
		return 0, fmt.Errorf("bitmapindex: invalid shard hex %q", s)
	}
	hi := hexNibble(s[0])
	lo := hexNibble(s[1])
	if !isHex(s[0]) || !isHex(s[1]) {
		return 0, fmt.Errorf("bitmapindex: invalid shard hex %q", s)
	}
	return hi<<4 | lo, nil
}
