// Package writer implements the per-writer commit path: a Writer owning
// (graphName, writerId) opens a PatchSession, which buffers operations as
// wire-shaped maps and commits them as a single CBOR patch blob under a
// compare-and-swap ref update.
package writer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/reduce"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// wirePatch is the codec-facing shape of a committed patch blob: Ops are
// kept as raw maps (kind-tagged, exactly as reduce.ValidateRawOp expects)
// rather than typed reduce.Op values, since some op kinds (blob-valued
// PropSet) carry unexported fields a foreign package cannot populate
// directly.
type wirePatch struct {
	WriterID string                   `codec:"writerId"`
	Lamport  uint64                   `codec:"lamport"`
	Ops      []map[string]interface{} `codec:"ops"`
}

// Writer owns a single writer identity within a graph and is the entry
// point for opening patch sessions against it.
type Writer struct {
	GraphName string
	WriterID  string

	objStore store.ObjectStore
	codec    store.Codec
	logger   *zap.Logger
	limiter  *CommitRateLimiter
}

// New constructs a Writer with no CommitRateLimiter, so its patch sessions
// are never throttled. logger may be nil, in which case log lines are
// discarded.
func New(graphName, writerID string, objStore store.ObjectStore, codec store.Codec, logger *zap.Logger) *Writer {
	return NewWithLimiter(graphName, writerID, objStore, codec, logger, nil)
}

// NewWithLimiter is New with an explicit, optionally shared CommitRateLimiter.
// limiter may be nil, in which case patch sessions are never throttled;
// pass a CommitRateLimiter shared across every Writer in a process to bound
// a single writer's commit rate against the object store.
func NewWithLimiter(graphName, writerID string, objStore store.ObjectStore, codec store.Codec, logger *zap.Logger, limiter *CommitRateLimiter) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{GraphName: graphName, WriterID: writerID, objStore: objStore, codec: codec, logger: logger, limiter: limiter}
}

// currentTip reads this writer's ref, returning ("", false, nil) if the
// writer has never committed.
func (w *Writer) currentTip(ctx context.Context) (string, bool, error) {
	sha, ok, err := w.objStore.ReadRef(ctx, store.WriterRef(w.GraphName, w.WriterID))
	if err != nil {
		return "", false, warperr.Wrap(warperr.CodeRefIO, "reading writer ref", err).With("writer", w.WriterID)
	}
	return sha, ok, nil
}

// nextLamport inspects the writer's current tip commit (if any) and
// returns one past its lamport tick, so a writer's own patches form a
// strictly increasing lamport sequence regardless of what other writers
// have done concurrently.
func (w *Writer) nextLamport(ctx context.Context, tip string, tipExists bool) (uint64, error) {
	if !tipExists {
		return 1, nil
	}
	info, err := w.objStore.GetNodeInfo(ctx, tip)
	if err != nil {
		return 0, warperr.Wrap(warperr.CodeRefIO, "reading writer tip commit", err).With("sha", tip)
	}
	msg, err := store.DecodePatchMessage(info.Message)
	if err != nil {
		return 0, warperr.Wrap(warperr.CodePatchMalformed, "writer tip is not a patch commit", err).With("sha", tip)
	}
	return msg.Lamport + 1, nil
}

// BeginPatch captures the writer's current tip as the session's CAS
// baseline and opens a new PatchSession. state is the caller's current
// materialized view of the graph, consulted only to resolve the
// observedDots a RemoveNode/RemoveEdge call must cite — it is never
// mutated.
func (w *Writer) BeginPatch(ctx context.Context, state *crdt.State) (*PatchSession, error) {
	if w.limiter != nil && !w.limiter.Allow(w.WriterID) {
		return nil, errRateLimited(w.WriterID)
	}
	tip, tipExists, err := w.currentTip(ctx)
	if err != nil {
		return nil, err
	}
	lamport, err := w.nextLamport(ctx, tip, tipExists)
	if err != nil {
		return nil, err
	}
	return &PatchSession{
		writer:          w,
		state:           state,
		expectedOldHead: tip,
		lamport:         lamport,
		nextCounter:     state.ObservedFrontier.Get(w.WriterID) + 1,
	}, nil
}

// PatchSession buffers a single writer's operations between BeginPatch
// and Commit. Not safe for concurrent use; a session is single-shot and
// may not be committed twice.
type PatchSession struct {
	writer *Writer
	state  *crdt.State

	expectedOldHead string
	lamport         uint64
	nextCounter     uint64
	ops             []map[string]interface{}
	committed       bool
}

func (s *PatchSession) issueDot() crdt.Dot {
	d := crdt.Dot{Writer: s.writer.WriterID, Counter: s.nextCounter}
	s.nextCounter++
	return d
}

func dotWireMap(d crdt.Dot) map[string]interface{} {
	return map[string]interface{}{"writerId": d.Writer, "counter": d.Counter}
}

func dotsWireSlice(dots []crdt.Dot) []interface{} {
	out := make([]interface{}, len(dots))
	for i, d := range dots {
		out[i] = dotWireMap(d)
	}
	return out
}

// AddNode buffers a NodeAdd operation for nodeID.
func (s *PatchSession) AddNode(nodeID string) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind": string(reduce.KindNodeAdd),
		"node": nodeID,
		"dot":  dotWireMap(s.issueDot()),
	})
	return s
}

// RemoveNode buffers a NodeRemove operation for nodeID, citing every dot
// currently keeping it alive in the session's state snapshot.
func (s *PatchSession) RemoveNode(nodeID string) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind":         string(reduce.KindNodeRemove),
		"node":         nodeID,
		"observedDots": dotsWireSlice(s.state.NodeAlive.AliveDots(nodeID)),
	})
	return s
}

// AddEdge buffers an EdgeAdd operation for (from, to, label).
func (s *PatchSession) AddEdge(from, to, label string) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind":  string(reduce.KindEdgeAdd),
		"from":  from,
		"to":    to,
		"label": label,
		"dot":   dotWireMap(s.issueDot()),
	})
	return s
}

// RemoveEdge buffers an EdgeRemove operation for (from, to, label), citing
// every dot currently keeping it alive in the session's state snapshot.
func (s *PatchSession) RemoveEdge(from, to, label string) *PatchSession {
	key := crdt.EncodeEdgeKey(from, to, label)
	s.ops = append(s.ops, map[string]interface{}{
		"kind":         string(reduce.KindEdgeRemove),
		"from":         from,
		"to":           to,
		"label":        label,
		"observedDots": dotsWireSlice(s.state.EdgeAlive.AliveDots(key)),
	})
	return s
}

// SetProperty buffers a PropSet operation assigning value to key on
// nodeID.
func (s *PatchSession) SetProperty(nodeID, key string, value json.RawMessage) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind":  string(reduce.KindPropSet),
		"node":  nodeID,
		"key":   key,
		"value": value,
	})
	return s
}

// SetEdgeProperty buffers a PropSet operation assigning value to key on
// the (from, to, label) edge.
func (s *PatchSession) SetEdgeProperty(from, to, label, key string, value json.RawMessage) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind":  string(reduce.KindPropSet),
		"from":  from,
		"to":    to,
		"label": label,
		"key":   key,
		"value": value,
	})
	return s
}

// AttachContent buffers a PropSet operation pointing key on nodeID at a
// previously-uploaded blob, rather than an inline value.
func (s *PatchSession) AttachContent(nodeID, key, blobID string) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind":   string(reduce.KindPropSet),
		"node":   nodeID,
		"key":    key,
		"blobId": blobID,
	})
	return s
}

// AttachEdgeContent buffers a PropSet operation pointing key on the
// (from, to, label) edge at a previously-uploaded blob.
func (s *PatchSession) AttachEdgeContent(from, to, label, key, blobID string) *PatchSession {
	s.ops = append(s.ops, map[string]interface{}{
		"kind":   string(reduce.KindPropSet),
		"from":   from,
		"to":     to,
		"label":  label,
		"key":    key,
		"blobId": blobID,
	})
	return s
}

// Commit serializes the buffered operations as a CBOR patch blob and
// atomically advances the writer ref with compare-and-swap against the
// tip BeginPatch observed. Returns EMPTY_PATCH if no operations were
// buffered, WRITER_REF_ADVANCED if another commit won the race (the
// caller must BeginPatch again), SESSION_COMMITTED if called twice.
func (s *PatchSession) Commit(ctx context.Context) (sha string, err error) {
	if s.committed {
		return "", warperr.New(warperr.CodeSessionCommitted, "patch session already committed")
	}
	if len(s.ops) == 0 {
		return "", warperr.New(warperr.CodeEmptyPatch, "patch session has no buffered operations")
	}

	blob := wirePatch{WriterID: s.writer.WriterID, Lamport: s.lamport, Ops: s.ops}
	data, err := s.writer.codec.Encode(blob)
	if err != nil {
		return "", warperr.Wrap(warperr.CodePersistWriteFail, "encoding patch blob", err)
	}
	blobOid, err := s.writer.objStore.WriteBlob(ctx, data)
	if err != nil {
		return "", warperr.Wrap(warperr.CodePersistWriteFail, "writing patch blob", err)
	}

	message := store.EncodePatchMessage(store.PatchMessage{
		Graph:    s.writer.GraphName,
		WriterID: s.writer.WriterID,
		Lamport:  s.lamport,
		Schema:   store.SchemaVersion,
		BlobOid:  blobOid,
	})
	var parents []string
	if s.expectedOldHead != "" {
		parents = []string{s.expectedOldHead}
	}
	newSha, err := s.writer.objStore.CommitNode(ctx, store.CommitInput{Message: message, Parents: parents})
	if err != nil {
		return "", warperr.Wrap(warperr.CodePersistWriteFail, "committing patch node", err)
	}

	if err := s.writer.objStore.UpdateRef(ctx, store.WriterRef(s.writer.GraphName, s.writer.WriterID), newSha, s.expectedOldHead); err != nil {
		return "", warperr.Wrap(warperr.CodeWriterRefAdvanced, "writer ref advanced concurrently", err).
			With("writer", s.writer.WriterID).With("expectedOldHead", s.expectedOldHead)
	}

	s.committed = true
	s.writer.logger.Debug("committed patch",
		zap.String("writer", s.writer.WriterID),
		zap.Uint64("lamport", s.lamport),
		zap.Int("ops", len(s.ops)),
		zap.String("sha", newSha))
	return newSha, nil
}

// transientCommitFailure reports whether err is worth retrying: a storage
// hiccup writing the blob, commit node, or updating the ref. A
// WRITER_REF_ADVANCED conflict is a logical race, not a transient fault —
// per Commit's contract the caller must re-open the session against the
// new tip and rebuild the patch, since buffered RemoveNode/RemoveEdge ops
// may cite observedDots that are now stale; CommitWithRetry does not do
// this on the caller's behalf.
func transientCommitFailure(err error) bool {
	return warperr.HasCode(err, warperr.CodePersistWriteFail) || warperr.HasCode(err, warperr.CodeRefIO)
}

// CommitWithRetry retries Commit under policy for transient storage
// failures until it succeeds, the policy is exhausted, or ctx is
// cancelled. Non-transient failures (EMPTY_PATCH, WRITER_REF_ADVANCED,
// SESSION_COMMITTED) are returned immediately.
func (s *PatchSession) CommitWithRetry(ctx context.Context, policy backoff.BackOff) (sha string, err error) {
	for {
		sha, err = s.Commit(ctx)
		if err == nil {
			return sha, nil
		}
		if !transientCommitFailure(err) {
			return "", err
		}

		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			return "", err
		}
		select {
		case <-ctx.Done():
			return "", warperr.Wrap(warperr.CodeCancelled, "commit retry cancelled", ctx.Err())
		case <-time.After(wait):
		}
	}
}
