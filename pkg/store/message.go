package store

import (
	"fmt"
	"strconv"
	"strings"
)

// PatchMessage is the decoded form of a patch commit's message: it names
// the graph, writer, lamport tick, schema generation, and the blob id of
// the CBOR-encoded patch body.
type PatchMessage struct {
	Graph    string
	WriterID string
	Lamport  uint64
	Schema   int
	BlobOid  string
}

// AnchorMessage is the decoded form of a coverage-anchor commit's message.
type AnchorMessage struct {
	Graph   string
	Schema  int
	Writers []string
}

const (
	patchHeader      = "warp:patch:v1"
	anchorHeader     = "warp:anchor:v1"
	checkpointHeader = "warp:checkpoint:v1"
)

// EncodePatchMessage renders a header-prefixed, line-oriented commit
// message for a patch commit node. The format is deliberately
// human-readable text (rather than a dense binary encoding) so that
// `getNodeInfo` callers and ad-hoc store inspection tools can read it
// without decoding the patch blob itself.
func EncodePatchMessage(m PatchMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", patchHeader)
	fmt.Fprintf(&b, "graph=%s\n", m.Graph)
	fmt.Fprintf(&b, "writer=%s\n", m.WriterID)
	fmt.Fprintf(&b, "lamport=%d\n", m.Lamport)
	fmt.Fprintf(&b, "schema=%d\n", m.Schema)
	fmt.Fprintf(&b, "blob=%s\n", m.BlobOid)
	return b.String()
}

// EncodeAnchorMessage renders a coverage-anchor commit message.
func EncodeAnchorMessage(m AnchorMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", anchorHeader)
	fmt.Fprintf(&b, "graph=%s\n", m.Graph)
	fmt.Fprintf(&b, "schema=%d\n", m.Schema)
	fmt.Fprintf(&b, "writers=%s\n", strings.Join(m.Writers, ","))
	return b.String()
}

// CheckpointMessage is the decoded form of a checkpoint commit's message:
// it names the graph, schema generation, and the oid of the tree holding
// the serialized state blob and the checkpoint meta blob (which names the
// separately persisted index tree); no receipt blob is written.
type CheckpointMessage struct {
	Graph   string
	Schema  int
	TreeOid string
}

// EncodeCheckpointMessage renders a checkpoint commit message naming the
// graph, schema generation, and the oid of the checkpoint's payload tree.
func EncodeCheckpointMessage(m CheckpointMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", checkpointHeader)
	fmt.Fprintf(&b, "graph=%s\n", m.Graph)
	fmt.Fprintf(&b, "schema=%d\n", m.Schema)
	fmt.Fprintf(&b, "tree=%s\n", m.TreeOid)
	return b.String()
}

// DecodeCheckpointMessage parses a checkpoint commit message produced by
// EncodeCheckpointMessage.
func DecodeCheckpointMessage(message string) (CheckpointMessage, error) {
	kind, ok := DetectMessageKind(message)
	if !ok || kind != MessageKindCheckpoint {
		return CheckpointMessage{}, fmt.Errorf("store: not a checkpoint message")
	}
	fields := parseFields(message)
	schema, err := strconv.Atoi(fields["schema"])
	if err != nil {
		return CheckpointMessage{}, fmt.Errorf("store: invalid schema field: %w", err)
	}
	return CheckpointMessage{Graph: fields["graph"], Schema: schema, TreeOid: fields["tree"]}, nil
}

// DetectMessageKind inspects a commit message's header line and reports
// which of the three kinds produced it. Returns ok=false for anything
// else (a foreign or malformed commit message).
func DetectMessageKind(message string) (kind MessageKind, ok bool) {
	header, _, _ := strings.Cut(message, "\n")
	switch header {
	case patchHeader:
		return MessageKindPatch, true
	case anchorHeader:
		return MessageKindAnchor, true
	case checkpointHeader:
		return MessageKindCheckpoint, true
	default:
		return "", false
	}
}

// DecodePatchMessage parses a patch commit message produced by
// EncodePatchMessage.
func DecodePatchMessage(message string) (PatchMessage, error) {
	kind, ok := DetectMessageKind(message)
	if !ok || kind != MessageKindPatch {
		return PatchMessage{}, fmt.Errorf("store: not a patch message")
	}
	fields := parseFields(message)
	lamport, err := strconv.ParseUint(fields["lamport"], 10, 64)
	if err != nil {
		return PatchMessage{}, fmt.Errorf("store: invalid lamport field: %w", err)
	}
	schema, err := strconv.Atoi(fields["schema"])
	if err != nil {
		return PatchMessage{}, fmt.Errorf("store: invalid schema field: %w", err)
	}
	return PatchMessage{
		Graph:    fields["graph"],
		WriterID: fields["writer"],
		Lamport:  lamport,
		Schema:   schema,
		BlobOid:  fields["blob"],
	}, nil
}

// DecodeAnchorMessage parses an anchor commit message produced by
// EncodeAnchorMessage.
func DecodeAnchorMessage(message string) (AnchorMessage, error) {
	kind, ok := DetectMessageKind(message)
	if !ok || kind != MessageKindAnchor {
		return AnchorMessage{}, fmt.Errorf("store: not an anchor message")
	}
	fields := parseFields(message)
	schema, err := strconv.Atoi(fields["schema"])
	if err != nil {
		return AnchorMessage{}, fmt.Errorf("store: invalid schema field: %w", err)
	}
	var writers []string
	if w := fields["writers"]; w != "" {
		writers = strings.Split(w, ",")
	}
	return AnchorMessage{Graph: fields["graph"], Schema: schema, Writers: writers}, nil
}

func parseFields(message string) map[string]string {
	out := map[string]string{}
	lines := strings.Split(message, "\n")
	for _, line := range lines[1:] {
		k, v, found := strings.Cut(line, "=")
		if !found {
			continue
		}
		out[k] = v
	}
	return out
}
