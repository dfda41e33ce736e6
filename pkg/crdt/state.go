package crdt

// State is the folded CRDT materialization of every patch applied so far.
// Invariant: ObservedFrontier[w] >= c for every dot (w,c) referenced by any
// live entry or tombstone in NodeAlive, EdgeAlive, or Prop's registers.
type State struct {
	NodeAlive        *ORSet[string]
	EdgeAlive        *ORSet[string]
	Prop             map[string]*LWWRegister
	ObservedFrontier VersionVector
	// EdgeBirthEvent records the EventID of the dot that most recently made
	// an edge key alive, used to break ties when an edge is removed and
	// re-added and a property write races with that transition.
	EdgeBirthEvent map[string]EventID
}

// NewState returns an empty State ready to fold patches into.
func NewState() *State {
	return &State{
		NodeAlive:        NewORSet[string](),
		EdgeAlive:        NewORSet[string](),
		Prop:             make(map[string]*LWWRegister),
		ObservedFrontier: NewVersionVector(),
		EdgeBirthEvent:   make(map[string]EventID),
	}
}

// Clone returns a deep, independent copy suitable for clone-then-swap GC
// and ceiling-materialize caching.
func (s *State) Clone() *State {
	out := &State{
		NodeAlive:        s.NodeAlive.Clone(),
		EdgeAlive:        s.EdgeAlive.Clone(),
		Prop:             make(map[string]*LWWRegister, len(s.Prop)),
		ObservedFrontier: s.ObservedFrontier.Clone(),
		EdgeBirthEvent:   make(map[string]EventID, len(s.EdgeBirthEvent)),
	}
	for k, reg := range s.Prop {
		cp := *reg
		out.Prop[k] = &cp
	}
	for k, ev := range s.EdgeBirthEvent {
		out.EdgeBirthEvent[k] = ev
	}
	return out
}

// IsNodeAlive reports whether nodeID is currently alive.
func (s *State) IsNodeAlive(nodeID string) bool { return s.NodeAlive.Alive(nodeID) }

// IsEdgeAlive reports whether the (from,to,label) edge is currently alive.
func (s *State) IsEdgeAlive(from, to, label string) bool {
	return s.EdgeAlive.Alive(EncodeEdgeKey(from, to, label))
}
