// Package neighbor defines the NeighborProvider port the traversal engine
// consumes, plus its two canonical implementations: an in-memory
// adjacency-map view built directly from a crdt.State, and a view backed
// by the sharded bitmap index.
package neighbor

import (
	"context"
	"sort"

	"github.com/warpgraph/warp/pkg/bitmapindex"
	"github.com/warpgraph/warp/pkg/crdt"
)

// Direction mirrors bitmapindex.Direction at the provider boundary so
// traversal code depends only on this package, not on the index's
// internal representation.
type Direction = bitmapindex.Direction

const (
	DirOut  = bitmapindex.DirOut
	DirIn   = bitmapindex.DirIn
	DirBoth = bitmapindex.DirBoth
)

// Neighbor is one (neighborId, label) edge endpoint.
type Neighbor = bitmapindex.Neighbor

// LatencyClass tells the traversal engine whether neighbor lookups are
// cheap enough to skip caching.
type LatencyClass int

const (
	LatencySync LatencyClass = iota
	LatencyAsyncLocal
	LatencyAsyncRemote
)

// Options narrows a GetNeighbors call to a label subset.
type Options struct {
	Labels []string
}

// Provider is the single abstraction the traversal engine consumes.
// Implementations must return neighbors sorted by (neighborId, label) via
// strict codepoint comparison, and must erase directionality for
// DirBoth — deduplicating by (neighborId, label).
type Provider interface {
	GetNeighbors(ctx context.Context, nodeID string, direction Direction, options Options) ([]Neighbor, error)
	HasNode(ctx context.Context, nodeID string) (bool, error)
	LatencyClass() LatencyClass
}

// AdjacencyMapProvider is an in-memory provider built directly from a
// crdt.State's alive edge set — no index required, suitable for small
// graphs or as a fallback when the bitmap index is degraded.
type AdjacencyMapProvider struct {
	state *crdt.State
	out   map[string][]Neighbor
	in    map[string][]Neighbor
}

// NewAdjacencyMapProvider derives a provider from state's current alive
// nodes and edges.
func NewAdjacencyMapProvider(state *crdt.State) *AdjacencyMapProvider {
	p := &AdjacencyMapProvider{
		state: state,
		out:   make(map[string][]Neighbor),
		in:    make(map[string][]Neighbor),
	}
	for _, key := range crdt.AliveStringKeys(state.EdgeAlive) {
		from, to, label, err := crdt.DecodeEdgeKey(key)
		if err != nil {
			continue
		}
		p.out[from] = append(p.out[from], Neighbor{NodeID: to, Label: label})
		p.in[to] = append(p.in[to], Neighbor{NodeID: from, Label: label})
	}
	for _, m := range []map[string][]Neighbor{p.out, p.in} {
		for node, neighbors := range m {
			sortNeighbors(neighbors)
			m[node] = neighbors
		}
	}
	return p
}

func sortNeighbors(neighbors []Neighbor) {
	sort.Slice(neighbors, func(i, j int) bool {
		if neighbors[i].NodeID != neighbors[j].NodeID {
			return neighbors[i].NodeID < neighbors[j].NodeID
		}
		return neighbors[i].Label < neighbors[j].Label
	})
}

func filterByLabel(neighbors []Neighbor, labels []string) []Neighbor {
	if len(labels) == 0 {
		return neighbors
	}
	allowed := make(map[string]bool, len(labels))
	for _, l := range labels {
		allowed[l] = true
	}
	out := make([]Neighbor, 0, len(neighbors))
	for _, n := range neighbors {
		if allowed[n.Label] {
			out = append(out, n)
		}
	}
	return out
}

func mergeDedup(a, b []Neighbor) []Neighbor {
	seen := make(map[Neighbor]bool, len(a)+len(b))
	out := make([]Neighbor, 0, len(a)+len(b))
	for _, n := range append(append([]Neighbor{}, a...), b...) {
		if seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	sortNeighbors(out)
	return out
}

// GetNeighbors implements Provider.
func (p *AdjacencyMapProvider) GetNeighbors(_ context.Context, nodeID string, direction Direction, options Options) ([]Neighbor, error) {
	switch direction {
	case DirOut:
		return filterByLabel(p.out[nodeID], options.Labels), nil
	case DirIn:
		return filterByLabel(p.in[nodeID], options.Labels), nil
	case DirBoth:
		return filterByLabel(mergeDedup(p.out[nodeID], p.in[nodeID]), options.Labels), nil
	default:
		return nil, nil
	}
}

// HasNode implements Provider.
func (p *AdjacencyMapProvider) HasNode(_ context.Context, nodeID string) (bool, error) {
	return p.state.IsNodeAlive(nodeID), nil
}

// LatencyClass implements Provider: everything here is an in-memory map
// lookup.
func (p *AdjacencyMapProvider) LatencyClass() LatencyClass { return LatencySync }

// BitmapProvider adapts a bitmap index (or lazy-loading reader) to
// Provider.
type BitmapProvider struct {
	idx     *bitmapindex.LogicalIndex
	reader  *bitmapindex.Reader
	latency LatencyClass
}

// NewLogicalIndexProvider wraps a fully in-memory LogicalIndex: lookups
// never suspend, so LatencyClass is sync.
func NewLogicalIndexProvider(idx *bitmapindex.LogicalIndex) *BitmapProvider {
	return &BitmapProvider{idx: idx, latency: LatencySync}
}

// NewReaderProvider wraps a lazy-loading Reader: lookups may read from the
// object store, so LatencyClass is async-local.
func NewReaderProvider(reader *bitmapindex.Reader) *BitmapProvider {
	return &BitmapProvider{reader: reader, latency: LatencyAsyncLocal}
}

// GetNeighbors implements Provider.
func (p *BitmapProvider) GetNeighbors(ctx context.Context, nodeID string, direction Direction, options Options) ([]Neighbor, error) {
	if p.idx != nil {
		return p.idx.GetEdges(nodeID, direction, options.Labels)
	}
	return p.reader.GetEdges(ctx, nodeID, direction, options.Labels)
}

// HasNode implements Provider.
func (p *BitmapProvider) HasNode(ctx context.Context, nodeID string) (bool, error) {
	if p.idx != nil {
		return p.idx.IsAlive(nodeID), nil
	}
	return p.reader.IsAlive(ctx, nodeID)
}

// LatencyClass implements Provider.
func (p *BitmapProvider) LatencyClass() LatencyClass { return p.latency }
