// Package store defines the external collaborator ports the graph engine
// consumes: a content-addressed object store, a codec, and a crypto
// primitive set. The engine never assumes a concrete backend for any of
// these — it is wired against the interfaces here.
package store

import "context"

// TreeEntry is one entry of a tree object: a path segment and the oid of
// the blob or sub-tree it names.
type TreeEntry struct {
	Path string
	Oid  string
}

// NodeInfo describes a commit-like node in the object store's history
// graph.
type NodeInfo struct {
	Sha     string
	Message string
	Parents []string
	Author  string
	Date    string
}

// CommitInput is the payload for ObjectStore.CommitNode.
type CommitInput struct {
	Message string
	Parents []string
	Sign    bool
}

// ObjectStore is the content-addressed store port: blobs, trees, commit
// nodes, and CAS ref updates. The real backend (git-like storage) is out
// of scope for this module; storeadapter ships an in-memory reference
// implementation sufficient for tests and standalone use.
type ObjectStore interface {
	WriteBlob(ctx context.Context, data []byte) (oid string, err error)
	ReadBlob(ctx context.Context, oid string) ([]byte, error)
	WriteTree(ctx context.Context, entries []TreeEntry) (oid string, err error)
	ReadTree(ctx context.Context, oid string) (map[string][]byte, error)
	ReadTreeOids(ctx context.Context, oid string) (map[string]string, error)
	CommitNode(ctx context.Context, in CommitInput) (sha string, err error)
	GetNodeInfo(ctx context.Context, sha string) (NodeInfo, error)
	ReadRef(ctx context.Context, name string) (sha string, ok bool, err error)
	// UpdateRef sets name to newSha. If expectedOldSha is non-empty, the
	// update is a compare-and-swap: it fails if the ref's current value
	// does not match expectedOldSha.
	UpdateRef(ctx context.Context, name, newSha, expectedOldSha string) error
}

// Crypto is the hashing/HMAC/constant-time-compare port.
type Crypto interface {
	Hash(algorithm string, data []byte) (hex string, err error)
	HMAC(algorithm string, key, data []byte) ([]byte, error)
	ConstantTimeEqual(a, b []byte) bool
}

// Codec is the wire (de)serialization port. CBOR is the canonical choice;
// Decode must return a proto-safe representation (plain map[string]any,
// never a type that could alias a host prototype — moot in Go, where maps
// are always safe, but the contract is kept explicit per the source
// ecosystem's requirement).
type Codec interface {
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, out interface{}) error
}
