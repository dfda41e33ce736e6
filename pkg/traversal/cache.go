package traversal

import (
	"context"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/warpgraph/warp/pkg/neighbor"
)

const maxInlineLabelKeyLen = 128

// cacheKey identifies one GetNeighbors call: nodeId, direction, and the
// label filter collapsed to a single string so it can key a map. Short
// label sets are joined with \x1f (a byte that cannot appear in a label);
// long ones are folded through FNV-1a so the key itself stays bounded.
type cacheKey struct {
	nodeID    string
	direction neighbor.Direction
	labelKey  string
}

func labelSetKey(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)
	joined := strings.Join(sorted, "\x1f")
	if len(joined) <= maxInlineLabelKeyLen {
		return joined
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(joined))
	return "h:" + strconv.FormatUint(h.Sum64(), 16)
}

// CachingProvider wraps a neighbor.Provider with a bounded LRU cache
// keyed by (nodeId, direction, label set). It is only worth wrapping
// providers whose LatencyClass is above LatencySync — synchronous
// in-memory providers are already cheaper than a cache lookup.
type CachingProvider struct {
	inner neighbor.Provider
	cache *lru.Cache[cacheKey, []neighbor.Neighbor]
}

// NewCachingProvider wraps inner with an LRU cache holding up to size
// neighbor-list entries.
func NewCachingProvider(inner neighbor.Provider, size int) (*CachingProvider, error) {
	cache, err := lru.New[cacheKey, []neighbor.Neighbor](size)
	if err != nil {
		return nil, err
	}
	return &CachingProvider{inner: inner, cache: cache}, nil
}

// GetNeighbors implements neighbor.Provider.
func (p *CachingProvider) GetNeighbors(ctx context.Context, nodeID string, direction neighbor.Direction, options neighbor.Options) ([]neighbor.Neighbor, error) {
	key := cacheKey{nodeID: nodeID, direction: direction, labelKey: labelSetKey(options.Labels)}
	if cached, ok := p.cache.Get(key); ok {
		return cached, nil
	}
	result, err := p.inner.GetNeighbors(ctx, nodeID, direction, options)
	if err != nil {
		return nil, err
	}
	p.cache.Add(key, result)
	return result, nil
}

// HasNode implements neighbor.Provider; membership is not cached since
// the underlying index's IsAlive lookup is already cheap relative to
// neighbor enumeration.
func (p *CachingProvider) HasNode(ctx context.Context, nodeID string) (bool, error) {
	return p.inner.HasNode(ctx, nodeID)
}

// LatencyClass implements neighbor.Provider, reporting the wrapped
// provider's class so callers can still reason about cache-miss cost.
func (p *CachingProvider) LatencyClass() neighbor.LatencyClass {
	return p.inner.LatencyClass()
}

// Purge clears every cached entry, e.g. after a materialize pass changes
// the underlying index.
func (p *CachingProvider) Purge() {
	p.cache.Purge()
}
