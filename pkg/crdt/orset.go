package crdt

import "sort"

// ORSet is an observed-remove set over key type K. A key is alive iff it
// has at least one dot in Entries that is not also present in Tombstones.
// The invariant entries-never-in-tombstones is maintained by Add/Remove
// themselves, including when a Remove's observed dots have not yet been
// witnessed by a corresponding Add (out-of-order delivery): the dot is
// tombstoned pre-emptively so a later Add of that exact dot is suppressed,
// which is what makes replay order-independent.
type ORSet[K comparable] struct {
	Entries    map[K]map[string]Dot
	Tombstones map[string]struct{}
}

// NewORSet returns an empty OR-Set.
func NewORSet[K comparable]() *ORSet[K] {
	return &ORSet[K]{
		Entries:    make(map[K]map[string]Dot),
		Tombstones: make(map[string]struct{}),
	}
}

// Alive reports whether key currently has at least one live dot.
func (s *ORSet[K]) Alive(key K) bool {
	dots, ok := s.Entries[key]
	return ok && len(dots) > 0
}

// Add records dot as keeping key alive, unless dot has already been
// tombstoned by a Remove this OR-Set has observed. Returns true iff key
// transitioned from not-alive to alive as a result.
func (s *ORSet[K]) Add(key K, dot Dot) bool {
	wasAlive := s.Alive(key)
	encoded := dot.Encode()
	if _, tombstoned := s.Tombstones[encoded]; tombstoned {
		return false
	}
	dots, ok := s.Entries[key]
	if !ok {
		dots = make(map[string]Dot)
		s.Entries[key] = dots
	}
	dots[encoded] = dot
	return !wasAlive && s.Alive(key)
}

// Remove moves every dot in observedDots from Entries to Tombstones. If
// this empties Entries[key], key stops being alive. Returns true iff key
// transitioned from alive to not-alive as a result.
func (s *ORSet[K]) Remove(key K, observedDots []Dot) bool {
	wasAlive := s.Alive(key)
	dots := s.Entries[key]
	for _, d := range observedDots {
		encoded := d.Encode()
		s.Tombstones[encoded] = struct{}{}
		if dots != nil {
			delete(dots, encoded)
		}
	}
	if dots != nil && len(dots) == 0 {
		delete(s.Entries, key)
	}
	return wasAlive && !s.Alive(key)
}

// AliveKeys returns every currently-alive key in unspecified (map
// iteration) order; AliveStringKeys returns the keys of a string-keyed
// set sorted.
func (s *ORSet[K]) AliveKeys() []K {
	out := make([]K, 0, len(s.Entries))
	for k, dots := range s.Entries {
		if len(dots) > 0 {
			out = append(out, k)
		}
	}
	return out
}

// AliveStringKeys is AliveKeys sorted by strict codepoint order, for the
// common case K = string; callers that need deterministic output depend
// on this ordering.
func AliveStringKeys(s *ORSet[string]) []string {
	out := s.AliveKeys()
	sort.Strings(out)
	return out
}

// AliveDots returns every dot currently keeping key alive, the
// observedDots a writer must cite to remove it. Order is unspecified.
func (s *ORSet[K]) AliveDots(key K) []Dot {
	dots := s.Entries[key]
	out := make([]Dot, 0, len(dots))
	for _, d := range dots {
		out = append(out, d)
	}
	return out
}

// CompactTombstones removes tombstone entries whose dot is provably
// superseded: frontier[dot.Writer] >= dot.Counter. Safe purely as a
// storage optimization — a writer never reissues a counter once
// allocated, so no future Add can ever need to be suppressed by a
// tombstone that low again. Returns the number of tombstones removed.
func (s *ORSet[K]) CompactTombstones(frontier VersionVector) int {
	removed := 0
	for enc := range s.Tombstones {
		dot, err := ParseDot(enc)
		if err != nil {
			continue
		}
		if frontier.Covers(dot) {
			delete(s.Tombstones, enc)
			removed++
		}
	}
	return removed
}

// Clone returns a deep, independent copy.
func (s *ORSet[K]) Clone() *ORSet[K] {
	out := NewORSet[K]()
	for k, dots := range s.Entries {
		cp := make(map[string]Dot, len(dots))
		for e, d := range dots {
			cp[e] = d
		}
		out.Entries[k] = cp
	}
	for t := range s.Tombstones {
		out.Tombstones[t] = struct{}{}
	}
	return out
}

// Join merges other into s in place, preserving the OR-Set join semantics
// (union of entries and tombstones, with tombstones always winning over a
// conflicting entry). Returns the set of keys whose aliveness changed.
func (s *ORSet[K]) Join(other *ORSet[K]) []K {
	var changed []K
	for t := range other.Tombstones {
		if _, ok := s.Tombstones[t]; !ok {
			s.Tombstones[t] = struct{}{}
		}
	}
	for k, dots := range other.Entries {
		wasAlive := s.Alive(k)
		for e, d := range dots {
			if _, tombstoned := s.Tombstones[e]; tombstoned {
				continue
			}
			existing, ok := s.Entries[k]
			if !ok {
				existing = make(map[string]Dot)
				s.Entries[k] = existing
			}
			existing[e] = d
		}
		if existing := s.Entries[k]; existing != nil {
			for e := range existing {
				if _, tombstoned := s.Tombstones[e]; tombstoned {
					delete(existing, e)
				}
			}
			if len(existing) == 0 {
				delete(s.Entries, k)
			}
		}
		if wasAlive != s.Alive(k) {
			changed = append(changed, k)
		}
	}
	// Re-check keys that already existed in s in case other's tombstones
	// retired dots we were holding.
	for k, dots := range s.Entries {
		for e := range dots {
			if _, tombstoned := s.Tombstones[e]; tombstoned {
				delete(dots, e)
			}
		}
		if len(dots) == 0 {
			delete(s.Entries, k)
		}
	}
	return changed
}
