// Package propindex builds and reads the per-shard node→properties map
// that sits alongside the bitmap index: for every alive node, the set of
// its current (LWW-resolved) property values, partitioned by the same
// byte-wide shard key the bitmap index uses so the two can be persisted
// and loaded together.
package propindex

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/warpgraph/warp/pkg/bitmapindex"
	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// Schema is the current on-disk props shard payload generation.
const Schema = 1

// PropEntry is one property key/value row for a node.
type PropEntry struct {
	Key   string          `codec:"key"`
	Value json.RawMessage `codec:"value"`
}

// NodeProps is one node's sorted property rows.
type NodeProps struct {
	NodeID string      `codec:"nodeId"`
	Props  []PropEntry `codec:"props"`
}

// Payload is the decoded form of a shard's props_XX file.
type Payload struct {
	Schema int         `codec:"schema"`
	Nodes  []NodeProps `codec:"nodes"`
}

type envelope struct {
	Version  int    `codec:"version"`
	Checksum string `codec:"checksum"`
	Payload  []byte `codec:"payload"`
}

func wrap(payload Payload, codec store.Codec, crypto store.Crypto) ([]byte, error) {
	inner, err := codec.Encode(payload)
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeStorage, "encoding props shard payload", err)
	}
	checksum, err := crypto.Hash("sha256", inner)
	if err != nil {
		return nil, warperr.Wrap(warperr.CodeStorage, "hashing props shard payload", err)
	}
	return codec.Encode(envelope{Version: Schema, Checksum: checksum, Payload: inner})
}

func unwrap(data []byte, codec store.Codec, crypto store.Crypto) (Payload, error) {
	var env envelope
	if err := codec.Decode(data, &env); err != nil {
		return Payload{}, warperr.New(warperr.CodeShardCorruption, "malformed props shard envelope").With("cause", err.Error())
	}
	if env.Version != Schema {
		return Payload{}, warperr.New(warperr.CodeShardValidation, "props shard version mismatch").
			With("expected", Schema).With("actual", env.Version)
	}
	got, err := crypto.Hash("sha256", env.Payload)
	if err != nil {
		return Payload{}, warperr.Wrap(warperr.CodeStorage, "hashing props shard payload", err)
	}
	if !crypto.ConstantTimeEqual([]byte(got), []byte(env.Checksum)) {
		return Payload{}, warperr.New(warperr.CodeShardCorruption, "props shard checksum mismatch").
			With("expected", env.Checksum).With("actual", got)
	}
	var payload Payload
	if err := codec.Decode(env.Payload, &payload); err != nil {
		return Payload{}, warperr.New(warperr.CodeShardCorruption, "malformed props shard payload").With("cause", err.Error())
	}
	return payload, nil
}

// Index is the in-memory node→properties map, sharded the same way the
// bitmap index shards nodes, so the two can be built and persisted
// together from one materialize pass.
type Index struct {
	shards map[byte]map[string]map[string]json.RawMessage // shard -> nodeId -> key -> value
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{shards: make(map[byte]map[string]map[string]json.RawMessage)}
}

func (idx *Index) shard(key byte) map[string]map[string]json.RawMessage {
	s, ok := idx.shards[key]
	if !ok {
		s = make(map[string]map[string]json.RawMessage)
		idx.shards[key] = s
	}
	return s
}

func (idx *Index) set(nodeID, key string, value json.RawMessage) {
	s := idx.shard(bitmapindex.ShardKeyByte(nodeID))
	props, ok := s[nodeID]
	if !ok {
		props = make(map[string]json.RawMessage)
		s[nodeID] = props
	}
	props[key] = value
}

func (idx *Index) deleteNode(nodeID string) {
	s := idx.shards[bitmapindex.ShardKeyByte(nodeID)]
	if s == nil {
		return
	}
	delete(s, nodeID)
}

// Props returns nodeID's current property map, or nil if it has none.
func (idx *Index) Props(nodeID string) map[string]json.RawMessage {
	s := idx.shards[bitmapindex.ShardKeyByte(nodeID)]
	if s == nil {
		return nil
	}
	return s[nodeID]
}

// Build derives a fresh Index from state, keeping only properties of
// currently-alive nodes. Node identity/sharding is independent of the
// bitmap index's global id assignment — shard keys derive directly from
// the node id — so Build needs no prior-index handle to stay stable.
func Build(state *crdt.State) (*Index, error) {
	idx := NewIndex()
	for propKey, reg := range state.Prop {
		kind, nodeID, _, _, _, key, err := crdt.DecodePropKey(propKey)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeStorage, "decoding property key", err)
		}
		if kind != crdt.PropKeyNode {
			continue
		}
		if !state.IsNodeAlive(nodeID) {
			continue
		}
		idx.set(nodeID, key, reg.Value)
	}
	return idx, nil
}

// Clone returns a deep, independent copy.
func (idx *Index) Clone() *Index {
	out := NewIndex()
	for shardKey, nodes := range idx.shards {
		clone := make(map[string]map[string]json.RawMessage, len(nodes))
		for nodeID, props := range nodes {
			propsClone := make(map[string]json.RawMessage, len(props))
			for k, v := range props {
				propsClone[k] = v
			}
			clone[nodeID] = propsClone
		}
		out.shards[shardKey] = clone
	}
	return out
}

// ApplyDiff derives an updated Index from prior by re-deriving only the
// nodes touched by diff's changes, leaving every other shard's entries
// byte-identical to prior.
func ApplyDiff(prior *Index, diff *reduce.Diff, state *crdt.State) (*Index, error) {
	idx := prior.Clone()
	for _, nodeID := range diff.NodesRemoved {
		idx.deleteNode(nodeID)
	}
	touched := make(map[string]bool, len(diff.NodesAdded)+len(diff.PropsChanged))
	for _, nodeID := range diff.NodesAdded {
		touched[nodeID] = true
	}
	for _, change := range diff.PropsChanged {
		kind, nodeID, _, _, _, _, err := crdt.DecodePropKey(change.Key)
		if err != nil || kind != crdt.PropKeyNode {
			continue
		}
		touched[nodeID] = true
	}
	for nodeID := range touched {
		if !state.IsNodeAlive(nodeID) {
			idx.deleteNode(nodeID)
			continue
		}
		idx.deleteNode(nodeID)
		props := nodePropsFromState(state, nodeID)
		for key, value := range props {
			idx.set(nodeID, key, value)
		}
	}
	return idx, nil
}

func nodePropsFromState(state *crdt.State, nodeID string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage)
	for propKey, reg := range state.Prop {
		kind, pNodeID, _, _, _, key, err := crdt.DecodePropKey(propKey)
		if err != nil || kind != crdt.PropKeyNode || pNodeID != nodeID {
			continue
		}
		out[key] = reg.Value
	}
	return out
}

const hexDigits = "0123456789abcdef"

func shardHex(key byte) string {
	return string([]byte{hexDigits[key>>4], hexDigits[key&0x0f]})
}

func shardFileName(shardKey byte) string {
	return fmt.Sprintf("props_%s.cbor", shardHex(shardKey))
}

// Files renders idx as a deterministic set of props_XX.cbor shard files.
func (idx *Index) Files(codec store.Codec, crypto store.Crypto) (map[string][]byte, error) {
	out := make(map[string][]byte)
	shardKeys := make([]byte, 0, len(idx.shards))
	for key := range idx.shards {
		shardKeys = append(shardKeys, key)
	}
	sort.Slice(shardKeys, func(i, j int) bool { return shardKeys[i] < shardKeys[j] })

	for _, key := range shardKeys {
		nodes := idx.shards[key]
		nodeIDs := make([]string, 0, len(nodes))
		for nodeID := range nodes {
			nodeIDs = append(nodeIDs, nodeID)
		}
		sort.Strings(nodeIDs)

		payload := Payload{Schema: Schema, Nodes: make([]NodeProps, 0, len(nodeIDs))}
		for _, nodeID := range nodeIDs {
			props := nodes[nodeID]
			keys := make([]string, 0, len(props))
			for k := range props {
				keys = append(keys, k)
			}
			sort.Strings(keys)

			entry := NodeProps{NodeID: nodeID, Props: make([]PropEntry, 0, len(keys))}
			for _, k := range keys {
				entry.Props = append(entry.Props, PropEntry{Key: k, Value: props[k]})
			}
			payload.Nodes = append(payload.Nodes, entry)
		}

		data, err := wrap(payload, codec, crypto)
		if err != nil {
			return nil, err
		}
		out[shardFileName(key)] = data
	}
	return out, nil
}

// Persist writes idx's shard files as blobs, returning a path→oid map
// suitable for merging into the index tree's entries.
func (idx *Index) Persist(ctx context.Context, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto) (map[string]string, error) {
	files, err := idx.Files(codec, crypto)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(map[string]string, len(names))
	for _, name := range names {
		oid, err := objStore.WriteBlob(ctx, files[name])
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeStorage, "writing props shard blob", err)
		}
		out[name] = oid
	}
	return out, nil
}

// LoadTree reconstructs an Index from a tree's path→oid map, reading
// every props_XX.cbor entry found there.
func LoadTree(ctx context.Context, oids map[string]string, objStore store.ObjectStore, codec store.Codec, crypto store.Crypto) (*Index, error) {
	idx := NewIndex()
	for path, oid := range oids {
		if len(path) < len("props_XX.cbor") || path[:6] != "props_" {
			continue
		}
		data, err := objStore.ReadBlob(ctx, oid)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeShardLoad, "reading props shard", err)
		}
		payload, err := unwrap(data, codec, crypto)
		if err != nil {
			return nil, err
		}
		for _, node := range payload.Nodes {
			for _, entry := range node.Props {
				idx.set(node.NodeID, entry.Key, entry.Value)
			}
		}
	}
	return idx, nil
}
