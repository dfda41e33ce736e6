// Package storeadapter provides an in-memory store.ObjectStore sufficient
// to exercise the full writer/materialize/checkpoint/GC flow in tests and
// standalone use. It is explicitly a reference adapter, not a production
// backend.
package storeadapter

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

type nodeRecord struct {
	treeOid string
	info    store.NodeInfo
}

// Memory is a mutex-guarded, content-addressed object store: blobs and
// trees are addressed by the sha256 of their canonical encoding, commit
// nodes get a synthetic sha built the same way, and refs are a plain map
// with compare-and-swap on update.
type Memory struct {
	mu sync.RWMutex

	blobs map[string][]byte
	trees map[string][]store.TreeEntry
	nodes map[string]nodeRecord
	refs  map[string]string
}

// New returns an empty Memory store.
func New() *Memory {
	return &Memory{
		blobs: make(map[string][]byte),
		trees: make(map[string][]store.TreeEntry),
		nodes: make(map[string]nodeRecord),
		refs:  make(map[string]string),
	}
}

func contentHash(prefix byte, data []byte) string {
	h := sha256.New()
	h.Write([]byte{prefix})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (m *Memory) WriteBlob(_ context.Context, data []byte) (string, error) {
	oid := contentHash('b', data)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[oid] = append([]byte(nil), data...)
	return oid, nil
}

func (m *Memory) ReadBlob(_ context.Context, oid string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[oid]
	if !ok {
		return nil, warperr.New(warperr.CodeMissingObject, "blob not found").With("oid", oid)
	}
	return append([]byte(nil), data...), nil
}

func treeCanonicalBytes(entries []store.TreeEntry) []byte {
	sorted := append([]store.TreeEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })
	var b strings.Builder
	for _, e := range sorted {
		fmt.Fprintf(&b, "%s\x00%s\n", e.Path, e.Oid)
	}
	return []byte(b.String())
}

func (m *Memory) WriteTree(_ context.Context, entries []store.TreeEntry) (string, error) {
	canon := treeCanonicalBytes(entries)
	oid := contentHash('t', canon)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trees[oid] = append([]store.TreeEntry(nil), entries...)
	return oid, nil
}

func (m *Memory) ReadTree(ctx context.Context, oid string) (map[string][]byte, error) {
	m.mu.RLock()
	entries, ok := m.trees[oid]
	m.mu.RUnlock()
	if !ok {
		return nil, warperr.New(warperr.CodeMissingObject, "tree not found").With("oid", oid)
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		data, err := m.ReadBlob(ctx, e.Oid)
		if err != nil {
			return nil, err
		}
		out[e.Path] = data
	}
	return out, nil
}

func (m *Memory) ReadTreeOids(_ context.Context, oid string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, ok := m.trees[oid]
	if !ok {
		return nil, warperr.New(warperr.CodeMissingObject, "tree not found").With("oid", oid)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		out[e.Path] = e.Oid
	}
	return out, nil
}

func (m *Memory) CommitNode(_ context.Context, in store.CommitInput) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\x00", in.Message)
	for _, p := range in.Parents {
		fmt.Fprintf(&b, "%s,", p)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	// Disambiguate otherwise-identical commits (e.g. two empty
	// checkpoints) with a sequence counter, the way a real store's tree
	// oid + timestamp would.
	seq := len(m.nodes)
	fmt.Fprintf(&b, "\x00seq=%d", seq)
	sha := contentHash('c', []byte(b.String()))
	m.nodes[sha] = nodeRecord{
		info: store.NodeInfo{
			Sha:     sha,
			Message: in.Message,
			Parents: append([]string(nil), in.Parents...),
		},
	}
	return sha, nil
}

func (m *Memory) GetNodeInfo(_ context.Context, sha string) (store.NodeInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.nodes[sha]
	if !ok {
		return store.NodeInfo{}, warperr.New(warperr.CodeMissingObject, "commit not found").With("sha", sha)
	}
	return rec.info, nil
}

func (m *Memory) ReadRef(_ context.Context, name string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sha, ok := m.refs[name]
	return sha, ok, nil
}

func (m *Memory) UpdateRef(_ context.Context, name, newSha, expectedOldSha string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := m.refs[name]
	if expectedOldSha != "" && current != expectedOldSha {
		return warperr.New(warperr.CodeRefIO, "compare-and-swap failed").
			With("ref", name).With("expected", expectedOldSha).With("actual", current)
	}
	if expectedOldSha == "" && current != "" {
		return warperr.New(warperr.CodeRefIO, "compare-and-swap failed: ref already exists").
			With("ref", name).With("actual", current)
	}
	m.refs[name] = newSha
	return nil
}
