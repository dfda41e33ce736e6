package reduce

import "github.com/warpgraph/warp/pkg/crdt"

// Patch is the schema-tagged record a writer commits: an ordered sequence
// of operations plus the causal context it was authored against.
type Patch struct {
	WriterID      string
	Lamport       uint64
	Ops           []Op
	CausalContext crdt.VersionVector
	Reads         []string
	Writes        []string
}

// EffectiveValue returns the JSON value a PropSet op should store in the
// LWW register: either the inline value, or a synthesized blob reference.
func (o Op) EffectiveValue() []byte {
	if o.hasBlob {
		return []byte(`{"blobId":"` + o.BlobID + `"}`)
	}
	return o.Value
}
