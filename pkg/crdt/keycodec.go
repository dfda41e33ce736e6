package crdt

import (
	"fmt"
	"strings"
)

// edgePropPrefix is the leading byte that distinguishes edge property keys
// from node property keys in the Prop map's flat key space.
const edgePropPrefix = byte(0x01)

// EncodeEdgeKey renders (from, to, label) as the byte-stable OR-Set key
// "{from}\0{to}\0{label}".
func EncodeEdgeKey(from, to, label string) string {
	var b strings.Builder
	b.Grow(len(from) + len(to) + len(label) + 2)
	b.WriteString(from)
	b.WriteByte(0)
	b.WriteString(to)
	b.WriteByte(0)
	b.WriteString(label)
	return b.String()
}

// DecodeEdgeKey reverses EncodeEdgeKey.
func DecodeEdgeKey(key string) (from, to, label string, err error) {
	parts := strings.Split(key, "\x00")
	if len(parts) != 3 {
		return "", "", "", fmt.Errorf("crdt: malformed edge key %q", key)
	}
	return parts[0], parts[1], parts[2], nil
}

// EncodeNodePropKey renders a node property key "{nodeId}\0{key}".
func EncodeNodePropKey(nodeID, key string) string {
	return nodeID + "\x00" + key
}

// EncodeEdgePropKey renders an edge property key
// "\x01{from}\0{to}\0{label}\0{key}".
func EncodeEdgePropKey(from, to, label, key string) string {
	var b strings.Builder
	b.WriteByte(edgePropPrefix)
	b.WriteString(from)
	b.WriteByte(0)
	b.WriteString(to)
	b.WriteByte(0)
	b.WriteString(label)
	b.WriteByte(0)
	b.WriteString(key)
	return b.String()
}

// PropKeyKind distinguishes node vs. edge property keys in the flat Prop map.
type PropKeyKind int

const (
	PropKeyNode PropKeyKind = iota
	PropKeyEdge
)

// DecodePropKey classifies and decomposes a property key produced by
// EncodeNodePropKey or EncodeEdgePropKey.
func DecodePropKey(propKey string) (kind PropKeyKind, nodeID, from, to, label, key string, err error) {
	if len(propKey) == 0 {
		return 0, "", "", "", "", "", fmt.Errorf("crdt: empty property key")
	}
	if propKey[0] == edgePropPrefix {
		parts := strings.Split(propKey[1:], "\x00")
		if len(parts) != 4 {
			return 0, "", "", "", "", "", fmt.Errorf("crdt: malformed edge property key %q", propKey)
		}
		return PropKeyEdge, "", parts[0], parts[1], parts[2], parts[3], nil
	}
	parts := strings.SplitN(propKey, "\x00", 2)
	if len(parts) != 2 {
		return 0, "", "", "", "", "", fmt.Errorf("crdt: malformed node property key %q", propKey)
	}
	return PropKeyNode, parts[0], "", "", "", parts[1], nil
}
