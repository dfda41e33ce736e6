package bitmapindex

import (
	"bytes"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// ShardSchema is the current on-disk shard payload generation.
const ShardSchema = 1

func encodeBitmap(bm *roaring.Bitmap) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeBitmap(data []byte) (*roaring.Bitmap, error) {
	bm := roaring.New()
	if len(data) == 0 {
		return bm, nil
	}
	if _, err := bm.ReadFrom(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return bm, nil
}

// NodeGlobalPair is one row of a meta shard's sorted node→globalId table.
type NodeGlobalPair struct {
	NodeID   string   `codec:"nodeId"`
	GlobalID GlobalID `codec:"globalId"`
}

// MetaPayload is the decoded form of a shard's meta_XX file.
type MetaPayload struct {
	Pairs       []NodeGlobalPair `codec:"pairs"`
	NextLocalID uint32           `codec:"nextLocalId"`
	AliveBitmap []byte           `codec:"aliveBitmap"`
}

// OwnerBitmap is one (owner globalId, bitmap) row inside a bucket.
type OwnerBitmap struct {
	Owner  GlobalID `codec:"owner"`
	Bitmap []byte   `codec:"bitmap"`
}

// Bucket is one named bucket ("all" or a stringified label id) inside a
// fwd/rev shard.
type Bucket struct {
	Name   string        `codec:"name"`
	Owners []OwnerBitmap `codec:"owners"`
}

// AdjacencyPayload is the decoded form of a shard's fwd_XX/rev_XX file.
type AdjacencyPayload struct {
	Buckets []Bucket `codec:"buckets"`
}

// ReceiptPayload is the decoded form of the index tree's receipt file: a
// content-addressed, timestamp-free build summary.
type ReceiptPayload struct {
	Schema     int `codec:"schema"`
	NodeCount  int `codec:"nodeCount"`
	LabelCount int `codec:"labelCount"`
	ShardCount int `codec:"shardCount"`
}

// envelope is the {version, checksum, payload} wrapper every shard file is
// stored under, so readers can detect corruption and version skew before
// trusting the payload.
type envelope struct {
	Version  int    `codec:"version"`
	Checksum string `codec:"checksum"`
	Payload  []byte `codec:"payload"`
}

// wrap encodes payload through codec, computes its checksum via crypto,
// and wraps both in an envelope, itself codec-encoded.
func wrap(payload interface{}, codec store.Codec, crypto store.Crypto) ([]byte, error) {
	inner, err := codec.Encode(payload)
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeStorage, "encoding shard payload", err)
	}
	checksum, err := crypto.Hash("sha256", inner)
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeStorage, "hashing shard payload", err)
	}
	return codec.Encode(envelope{Version: ShardSchema, Checksum: checksum, Payload: inner})
}

// unwrap decodes an envelope and verifies its checksum, then decodes the
// inner payload into out.
func unwrap(data []byte, out interface{}, codec store.Codec, crypto store.Crypto) error {
	var env envelope
	if err := codec.Decode(data, &env); err != nil {
		return warperr.New(warperr.CodeShardCorruption, "malformed shard envelope").With("cause", err.Error())
	}
	if env.Version != ShardSchema {
		return warperr.New(warperr.CodeShardValidation, "shard version mismatch").
			With("expected", ShardSchema).With("actual", env.Version)
	}
	got, err := crypto.Hash("sha256", env.Payload)
	if err != nil {
		return warperr.Wrap(warperr.CodeStorage, "hashing shard payload", err)
	}
	if !crypto.ConstantTimeEqual([]byte(got), []byte(env.Checksum)) {
		return warperr.New(warperr.CodeShardCorruption, "shard checksum mismatch").
			With("expected", env.Checksum).With("actual", got)
	}
	return codec.Decode(env.Payload, out)
}
