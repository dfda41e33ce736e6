// Package reduce implements the join reducer: applying patch operations to
// a crdt.State and tracking the resulting diff.
package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/warperr"
)

// Kind is the six raw wire operation types plus two internal, non-wire
// variants the reducer derives by decoding a PropSet; the internal variants
// must never appear on the wire.
type Kind string

const (
	KindNodeAdd    Kind = "NodeAdd"
	KindNodeRemove Kind = "NodeRemove"
	KindEdgeAdd    Kind = "EdgeAdd"
	KindEdgeRemove Kind = "EdgeRemove"
	KindPropSet    Kind = "PropSet"
	KindBlobValue  Kind = "BlobValue"

	// internal, never on the wire
	kindNodePropSet Kind = "nodePropSet"
	kindEdgePropSet Kind = "edgePropSet"
)

// Op is a single operation inside a patch. It is a tagged union: only the
// fields relevant to Kind are populated. Op is the already-validated,
// strongly-typed form; ValidateRawOp produces one from an untyped wire map.
type Op struct {
	Kind Kind

	// NodeAdd / NodeRemove
	Node         string
	Dot          *crdt.Dot
	ObservedDots []crdt.Dot

	// EdgeAdd / EdgeRemove
	From, To, Label string

	// PropSet (node target: Node set, edge fields empty; edge target: From/To/Label set)
	Key     string
	Value   json.RawMessage
	BlobID  string
	hasBlob bool

	// BlobValue
	ID string
}

// isEdgeTarget reports whether a PropSet op targets an edge property.
func (o Op) isEdgeTarget() bool { return o.From != "" || o.To != "" || o.Label != "" }

// ValidateRawOp converts an untyped, wire-decoded operation map into a
// strongly-typed Op, enforcing the same required-field checks on both the
// fast path and the diff path. Unknown kinds are not an error here — the
// caller (Reduce/ApplyWithDiff) silently skips them; ValidateRawOp only
// returns an error when "kind" is missing or not a string, or for a
// *recognized* kind missing required fields.
func ValidateRawOp(raw map[string]interface{}) (Op, bool, error) {
	kindVal, ok := raw["kind"]
	if !ok {
		return Op{}, false, malformed("missing required field", "kind", "")
	}
	kindStr, ok := kindVal.(string)
	if !ok {
		return Op{}, false, malformed("field must be a string", "kind", kindVal)
	}
	kind := Kind(kindStr)

	switch kind {
	case KindNodeAdd:
		node, err := reqString(raw, "node")
		if err != nil {
			return Op{}, true, err
		}
		dot, err := reqDot(raw)
		if err != nil {
			return Op{}, true, err
		}
		return Op{Kind: kind, Node: node, Dot: &dot}, true, nil

	case KindNodeRemove:
		node, err := reqString(raw, "node")
		if err != nil {
			return Op{}, true, err
		}
		dots, err := reqObservedDots(raw)
		if err != nil {
			return Op{}, true, err
		}
		return Op{Kind: kind, Node: node, ObservedDots: dots}, true, nil

	case KindEdgeAdd:
		from, to, label, err := reqEdgeTriple(raw)
		if err != nil {
			return Op{}, true, err
		}
		dot, err := reqDot(raw)
		if err != nil {
			return Op{}, true, err
		}
		return Op{Kind: kind, From: from, To: to, Label: label, Dot: &dot}, true, nil

	case KindEdgeRemove:
		from, to, label, err := reqEdgeTriple(raw)
		if err != nil {
			return Op{}, true, err
		}
		dots, err := reqObservedDots(raw)
		if err != nil {
			return Op{}, true, err
		}
		return Op{Kind: kind, From: from, To: to, Label: label, ObservedDots: dots}, true, nil

	case KindPropSet:
		key, err := reqString(raw, "key")
		if err != nil {
			return Op{}, true, err
		}
		op := Op{Kind: kind, Key: key}
		if node, ok := raw["node"].(string); ok && node != "" {
			op.Node = node
		}
		if from, ok := raw["from"].(string); ok {
			op.From = from
		}
		if to, ok := raw["to"].(string); ok {
			op.To = to
		}
		if label, ok := raw["label"].(string); ok {
			op.Label = label
		}
		if !op.isEdgeTarget() && op.Node == "" {
			return Op{}, true, malformed("PropSet requires node, or from+to+label", "node", nil)
		}
		if blobID, ok := raw["blobId"].(string); ok && blobID != "" {
			op.BlobID = blobID
			op.hasBlob = true
		} else if v, ok := raw["value"]; ok {
			encoded, err := json.Marshal(v)
			if err != nil {
				return Op{}, true, malformed("value is not JSON-serializable", "value", v)
			}
			op.Value = encoded
		} else {
			return Op{}, true, malformed("PropSet requires value or blobId", "value", nil)
		}
		return op, true, nil

	case KindBlobValue:
		id, err := reqString(raw, "id")
		if err != nil {
			return Op{}, true, err
		}
		return Op{Kind: kind, ID: id}, true, nil

	default:
		// Unknown op types are forward-compatible no-ops.
		return Op{}, false, nil
	}
}

func reqString(raw map[string]interface{}, field string) (string, error) {
	v, ok := raw[field]
	if !ok {
		return "", malformed("missing required field", field, nil)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", malformed("field must be a non-empty string", field, v)
	}
	return s, nil
}

func reqEdgeTriple(raw map[string]interface{}) (from, to, label string, err error) {
	from, err = reqString(raw, "from")
	if err != nil {
		return
	}
	to, err = reqString(raw, "to")
	if err != nil {
		return
	}
	label, err = reqString(raw, "label")
	return
}

func reqDot(raw map[string]interface{}) (crdt.Dot, error) {
	dotVal, ok := raw["dot"]
	if !ok {
		return crdt.Dot{}, malformed("missing required field", "dot", nil)
	}
	dotMap, ok := dotVal.(map[string]interface{})
	if !ok {
		return crdt.Dot{}, malformed("dot must be an object", "dot", dotVal)
	}
	return parseDotFields(dotMap)
}

func parseDotFields(m map[string]interface{}) (crdt.Dot, error) {
	writer, ok := m["writerId"].(string)
	if !ok || writer == "" {
		return crdt.Dot{}, malformed("writerId must be a string", "dot.writerId", m["writerId"])
	}
	counter, err := asUint64(m["counter"])
	if err != nil {
		return crdt.Dot{}, malformed("counter must be a number", "dot.counter", m["counter"])
	}
	return crdt.Dot{Writer: writer, Counter: counter}, nil
}

func reqObservedDots(raw map[string]interface{}) ([]crdt.Dot, error) {
	v, ok := raw["observedDots"]
	if !ok {
		return nil, malformed("missing required field", "observedDots", nil)
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, malformed("observedDots must be an array", "observedDots", v)
	}
	out := make([]crdt.Dot, 0, len(arr))
	for i, elem := range arr {
		m, ok := elem.(map[string]interface{})
		if !ok {
			return nil, malformed(fmt.Sprintf("observedDots[%d] must be an object", i), "observedDots", elem)
		}
		d, err := parseDotFields(m)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func asUint64(v interface{}) (uint64, error) {
	switch n := v.(type) {
	case uint64:
		return n, nil
	case int64:
		if n < 0 {
			return 0, fmt.Errorf("negative counter")
		}
		return uint64(n), nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("negative counter")
		}
		return uint64(n), nil
	case float64:
		if n < 0 {
			return 0, fmt.Errorf("negative counter")
		}
		return uint64(n), nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}

func malformed(message, field string, value interface{}) error {
	return warperr.New(warperr.CodePatchMalformed, message).With("field", field).With("value", value)
}
