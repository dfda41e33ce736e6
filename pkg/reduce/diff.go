package reduce

// EdgeRef identifies an edge by its three-part key.
type EdgeRef struct {
	From, To, Label string
}

// PropChange records the winning value of a property key after a fold.
type PropChange struct {
	Key   string
	Value []byte
}

// Diff is a five-list transition record. An entry is emitted only when
// aliveness or the LWW winner actually transitions — redundant ops that
// don't change anything emit nothing.
type Diff struct {
	NodesAdded   []string
	NodesRemoved []string
	EdgesAdded   []EdgeRef
	EdgesRemoved []EdgeRef
	// PropsChanged is keyed by the flat crdt property key (see
	// crdt.EncodeNodePropKey / EncodeEdgePropKey) so the last entry per
	// key can be found by string equality during Merge.
	PropsChanged []PropChange
}

// Merge combines two diffs taken in sequence: d then other. Contradictory
// add/remove pairs for the same node/edge cancel (add then remove, or
// remove then add, become neither); PropsChanged keeps only the last entry
// per key.
func Merge(d, other *Diff) *Diff {
	nodeDelta := map[string]int{} // +1 added, -1 removed, 0 cancelled out
	nodeOrder := []string{}
	noteNode := func(id string, sign int) {
		if _, ok := nodeDelta[id]; !ok {
			nodeOrder = append(nodeOrder, id)
		}
		nodeDelta[id] += sign
	}
	for _, n := range d.NodesAdded {
		noteNode(n, 1)
	}
	for _, n := range d.NodesRemoved {
		noteNode(n, -1)
	}
	for _, n := range other.NodesAdded {
		noteNode(n, 1)
	}
	for _, n := range other.NodesRemoved {
		noteNode(n, -1)
	}

	edgeDelta := map[EdgeRef]int{}
	edgeOrder := []EdgeRef{}
	noteEdge := func(e EdgeRef, sign int) {
		if _, ok := edgeDelta[e]; !ok {
			edgeOrder = append(edgeOrder, e)
		}
		edgeDelta[e] += sign
	}
	for _, e := range d.EdgesAdded {
		noteEdge(e, 1)
	}
	for _, e := range d.EdgesRemoved {
		noteEdge(e, -1)
	}
	for _, e := range other.EdgesAdded {
		noteEdge(e, 1)
	}
	for _, e := range other.EdgesRemoved {
		noteEdge(e, -1)
	}

	out := &Diff{}
	for _, n := range nodeOrder {
		switch {
		case nodeDelta[n] > 0:
			out.NodesAdded = append(out.NodesAdded, n)
		case nodeDelta[n] < 0:
			out.NodesRemoved = append(out.NodesRemoved, n)
		}
	}
	for _, e := range edgeOrder {
		switch {
		case edgeDelta[e] > 0:
			out.EdgesAdded = append(out.EdgesAdded, e)
		case edgeDelta[e] < 0:
			out.EdgesRemoved = append(out.EdgesRemoved, e)
		}
	}

	last := map[string][]byte{}
	order := []string{}
	for _, pc := range d.PropsChanged {
		if _, ok := last[pc.Key]; !ok {
			order = append(order, pc.Key)
		}
		last[pc.Key] = pc.Value
	}
	for _, pc := range other.PropsChanged {
		if _, ok := last[pc.Key]; !ok {
			order = append(order, pc.Key)
		}
		last[pc.Key] = pc.Value
	}
	for _, k := range order {
		out.PropsChanged = append(out.PropsChanged, PropChange{Key: k, Value: last[k]})
	}

	return out
}

// Empty reports whether the diff carries no changes at all.
func (d *Diff) Empty() bool {
	return len(d.NodesAdded) == 0 && len(d.NodesRemoved) == 0 &&
		len(d.EdgesAdded) == 0 && len(d.EdgesRemoved) == 0 && len(d.PropsChanged) == 0
}
