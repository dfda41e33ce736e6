package reduce

import (
	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/warperr"
)

// StampedPatch pairs a Patch with the object-store sha of the commit that
// carries it — the sha is required to build each operation's EventID.
type StampedPatch struct {
	Patch Patch
	Sha   string
}

// ReduceOptions controls what Reduce computes in addition to the folded
// state.
type ReduceOptions struct {
	WithDiff     bool
	WithReceipts bool
	Logger       *zap.Logger
}

// Receipt summarizes one folded patch, for ReduceOptions.WithReceipts.
type Receipt struct {
	WriterID string
	Lamport  uint64
	Sha      string
	OpsCount int
}

// ReduceResult is Reduce's return value: the folded state plus whichever of
// Diff/Receipts the caller asked for.
type ReduceResult struct {
	State    *crdt.State
	Diff     *Diff
	Receipts []Receipt
}

// validate enforces the required-field guard on an already-typed Op, so
// programmatically constructed ops (bypassing ValidateRawOp) can't smuggle
// a nil Dot or empty from/to/label past the reducer.
func validate(op Op) error {
	switch op.Kind {
	case KindNodeAdd:
		if op.Node == "" {
			return malformed("missing required field", "node", nil)
		}
		if op.Dot == nil {
			return malformed("missing required field", "dot", nil)
		}
	case KindNodeRemove:
		if op.Node == "" {
			return malformed("missing required field", "node", nil)
		}
		if op.ObservedDots == nil {
			return malformed("missing required field", "observedDots", nil)
		}
	case KindEdgeAdd:
		if op.From == "" || op.To == "" || op.Label == "" {
			return malformed("missing required field", "from/to/label", nil)
		}
		if op.Dot == nil {
			return malformed("missing required field", "dot", nil)
		}
	case KindEdgeRemove:
		if op.From == "" || op.To == "" || op.Label == "" {
			return malformed("missing required field", "from/to/label", nil)
		}
		if op.ObservedDots == nil {
			return malformed("missing required field", "observedDots", nil)
		}
	case KindPropSet:
		if op.Key == "" {
			return malformed("missing required field", "key", nil)
		}
		if !op.isEdgeTarget() && op.Node == "" {
			return malformed("PropSet requires node, or from+to+label", "node", nil)
		}
		if op.Value == nil && !op.hasBlob {
			return malformed("PropSet requires value or blobId", "value", nil)
		}
	case KindBlobValue:
		if op.ID == "" {
			return malformed("missing required field", "id", nil)
		}
	}
	return nil
}

// ApplyOp folds a single operation into state at the given eventID,
// without tracking a diff. Unknown kinds are silently skipped.
func ApplyOp(state *crdt.State, op Op, eventID crdt.EventID) error {
	_, err := applyOp(state, op, eventID)
	return err
}

// applyOp is the shared implementation; it returns whether the op actually
// changed anything, so ApplyWithDiff can decide whether to emit a diff
// entry.
func applyOp(state *crdt.State, op Op, eventID crdt.EventID) (bool, error) {
	if err := validate(op); err != nil {
		return false, err
	}

	switch op.Kind {
	case KindNodeAdd:
		state.ObservedFrontier.Observe(op.Dot.Writer, op.Dot.Counter)
		return state.NodeAlive.Add(op.Node, *op.Dot), nil

	case KindNodeRemove:
		for _, d := range op.ObservedDots {
			state.ObservedFrontier.Observe(d.Writer, d.Counter)
		}
		return state.NodeAlive.Remove(op.Node, op.ObservedDots), nil

	case KindEdgeAdd:
		key := crdt.EncodeEdgeKey(op.From, op.To, op.Label)
		state.ObservedFrontier.Observe(op.Dot.Writer, op.Dot.Counter)
		becameAlive := state.EdgeAlive.Add(key, *op.Dot)
		if becameAlive {
			state.EdgeBirthEvent[key] = eventID
		}
		return becameAlive, nil

	case KindEdgeRemove:
		key := crdt.EncodeEdgeKey(op.From, op.To, op.Label)
		for _, d := range op.ObservedDots {
			state.ObservedFrontier.Observe(d.Writer, d.Counter)
		}
		return state.EdgeAlive.Remove(key, op.ObservedDots), nil

	case KindPropSet:
		var propKey string
		if op.isEdgeTarget() {
			propKey = crdt.EncodeEdgePropKey(op.From, op.To, op.Label, op.Key)
		} else {
			propKey = crdt.EncodeNodePropKey(op.Node, op.Key)
		}
		newReg := crdt.LWWRegister{EventID: eventID, Value: op.EffectiveValue()}
		existing, ok := state.Prop[propKey]
		if !ok {
			state.Prop[propKey] = &newReg
			return true, nil
		}
		return existing.Join(newReg), nil

	case KindBlobValue:
		// Carries only an id; content tracking lives outside the CRDT
		// state proper (the object store already content-addresses it).
		return false, nil

	default:
		return false, nil
	}
}

// ApplyWithDiff folds every op of patch into state, stamping each op's
// EventID from (patch.Lamport, patch.WriterID, sha, opIndex), and returns
// the diff of what actually changed.
func ApplyWithDiff(state *crdt.State, patch Patch, sha string) (*Diff, error) {
	diff := &Diff{}
	for i, op := range patch.Ops {
		eventID := crdt.EventID{
			Lamport:  patch.Lamport,
			Writer:   patch.WriterID,
			PatchSha: sha,
			OpIndex:  uint32(i),
		}
		changed, err := applyOp(state, op, eventID)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodePatchMalformed, "applying patch op", err).
				With("writerId", patch.WriterID).With("patchSha", sha).With("opIndex", i)
		}
		if !changed {
			continue
		}
		switch op.Kind {
		case KindNodeAdd:
			if state.NodeAlive.Alive(op.Node) {
				diff.NodesAdded = append(diff.NodesAdded, op.Node)
			}
		case KindNodeRemove:
			diff.NodesRemoved = append(diff.NodesRemoved, op.Node)
		case KindEdgeAdd:
			diff.EdgesAdded = append(diff.EdgesAdded, EdgeRef{op.From, op.To, op.Label})
		case KindEdgeRemove:
			diff.EdgesRemoved = append(diff.EdgesRemoved, EdgeRef{op.From, op.To, op.Label})
		case KindPropSet:
			var propKey string
			if op.isEdgeTarget() {
				propKey = crdt.EncodeEdgePropKey(op.From, op.To, op.Label, op.Key)
			} else {
				propKey = crdt.EncodeNodePropKey(op.Node, op.Key)
			}
			diff.PropsChanged = append(diff.PropsChanged, PropChange{Key: propKey, Value: op.EffectiveValue()})
		}
	}
	return diff, nil
}

// Reduce folds a causally-ordered sequence of patches into state (a fresh
// state if nil), optionally computing a cumulative diff and/or per-patch
// receipts. Patches must already be in causal-rank order; Reduce does not
// resequence them — that's the graph controller's job.
func Reduce(state *crdt.State, patches []StampedPatch, opts ReduceOptions) (*ReduceResult, error) {
	if state == nil {
		state = crdt.NewState()
	}
	result := &ReduceResult{State: state}
	var cumulative *Diff
	if opts.WithDiff {
		cumulative = &Diff{}
	}

	for _, sp := range patches {
		d, err := ApplyWithDiff(state, sp.Patch, sp.Sha)
		if err != nil {
			return nil, err
		}
		if opts.Logger != nil {
			opts.Logger.Debug("folded patch",
				zap.String("writerId", sp.Patch.WriterID),
				zap.Uint64("lamport", sp.Patch.Lamport),
				zap.String("sha", sp.Sha),
				zap.Int("ops", len(sp.Patch.Ops)))
		}
		if opts.WithDiff {
			cumulative = Merge(cumulative, d)
		}
		if opts.WithReceipts {
			result.Receipts = append(result.Receipts, Receipt{
				WriterID: sp.Patch.WriterID,
				Lamport:  sp.Patch.Lamport,
				Sha:      sp.Sha,
				OpsCount: len(sp.Patch.Ops),
			})
		}
	}

	if opts.WithDiff {
		result.Diff = cumulative
	}
	return result, nil
}
