// Package checkpoint serializes and deserializes a folded crdt.State to
// and from the object store's codec, verifying a content hash on the way
// back in so a corrupted or truncated blob is never silently materialized
// into a controller's cache.
package checkpoint

import (
	"sort"

	"github.com/warpgraph/warp/pkg/crdt"
	"github.com/warpgraph/warp/pkg/store"
	"github.com/warpgraph/warp/pkg/warperr"
)

// Schema is the current checkpoint payload generation.
const Schema = 1

// dotWire and the other wire structs below are the codec-facing shapes:
// plain, lowercase-tagged structs with no pointer-typed maps, so the CBOR
// handle's canonical encoding is a pure function of content.
type dotWire struct {
	Writer  string `codec:"writer"`
	Counter uint64 `codec:"counter"`
}

type orEntryWire struct {
	Key  string    `codec:"key"`
	Dots []dotWire `codec:"dots"`
}

type orSetWire struct {
	Entries    []orEntryWire `codec:"entries"`
	Tombstones []string      `codec:"tombstones"`
}

type propWire struct {
	Key     string  `codec:"key"`
	EventID eventWire `codec:"eventId"`
	Value   []byte  `codec:"value"`
}

type eventWire struct {
	Lamport  uint64 `codec:"lamport"`
	Writer   string `codec:"writer"`
	PatchSha string `codec:"patchSha"`
	OpIndex  uint32 `codec:"opIndex"`
}

type frontierEntryWire struct {
	Writer  string `codec:"writer"`
	Counter uint64 `codec:"counter"`
}

type edgeBirthWire struct {
	Key     string    `codec:"key"`
	EventID eventWire `codec:"eventId"`
}

// Payload is the full wire-serializable snapshot of a crdt.State,
// produced by Serialize and consumed by Deserialize.
type Payload struct {
	Schema           int                 `codec:"schema"`
	NodeAlive        orSetWire           `codec:"nodeAlive"`
	EdgeAlive        orSetWire           `codec:"edgeAlive"`
	Prop             []propWire          `codec:"prop"`
	ObservedFrontier []frontierEntryWire `codec:"observedFrontier"`
	EdgeBirthEvent   []edgeBirthWire     `codec:"edgeBirthEvent"`
}

func toEventWire(e crdt.EventID) eventWire {
	return eventWire{Lamport: e.Lamport, Writer: e.Writer, PatchSha: e.PatchSha, OpIndex: e.OpIndex}
}

func fromEventWire(e eventWire) crdt.EventID {
	return crdt.EventID{Lamport: e.Lamport, Writer: e.Writer, PatchSha: e.PatchSha, OpIndex: e.OpIndex}
}

func toORSetWire(s *crdt.ORSet[string]) orSetWire {
	entryKeys := make([]string, 0, len(s.Entries))
	for k := range s.Entries {
		entryKeys = append(entryKeys, k)
	}
	sort.Strings(entryKeys)

	wire := orSetWire{Entries: make([]orEntryWire, 0, len(entryKeys))}
	for _, k := range entryKeys {
		dots := s.Entries[k]
		dotKeys := make([]string, 0, len(dots))
		for enc := range dots {
			dotKeys = append(dotKeys, enc)
		}
		sort.Strings(dotKeys)
		wireDots := make([]dotWire, 0, len(dotKeys))
		for _, enc := range dotKeys {
			d := dots[enc]
			wireDots = append(wireDots, dotWire{Writer: d.Writer, Counter: d.Counter})
		}
		wire.Entries = append(wire.Entries, orEntryWire{Key: k, Dots: wireDots})
	}

	tombstones := make([]string, 0, len(s.Tombstones))
	for enc := range s.Tombstones {
		tombstones = append(tombstones, enc)
	}
	sort.Strings(tombstones)
	wire.Tombstones = tombstones
	return wire
}

func fromORSetWire(w orSetWire) *crdt.ORSet[string] {
	s := crdt.NewORSet[string]()
	for _, enc := range w.Tombstones {
		s.Tombstones[enc] = struct{}{}
	}
	for _, entry := range w.Entries {
		dots := make(map[string]crdt.Dot, len(entry.Dots))
		for _, d := range entry.Dots {
			dot := crdt.Dot{Writer: d.Writer, Counter: d.Counter}
			dots[dot.Encode()] = dot
		}
		s.Entries[entry.Key] = dots
	}
	return s
}

// Serialize produces a deterministic Payload from state: two states that
// differ only in the order operations were applied in produce
// byte-identical output, because every map is flattened through a sorted
// key list first.
func Serialize(state *crdt.State) *Payload {
	payload := &Payload{
		Schema:    Schema,
		NodeAlive: toORSetWire(state.NodeAlive),
		EdgeAlive: toORSetWire(state.EdgeAlive),
	}

	propKeys := make([]string, 0, len(state.Prop))
	for k := range state.Prop {
		propKeys = append(propKeys, k)
	}
	sort.Strings(propKeys)
	for _, k := range propKeys {
		reg := state.Prop[k]
		payload.Prop = append(payload.Prop, propWire{Key: k, EventID: toEventWire(reg.EventID), Value: []byte(reg.Value)})
	}

	writers := make([]string, 0, len(state.ObservedFrontier))
	for w := range state.ObservedFrontier {
		writers = append(writers, w)
	}
	sort.Strings(writers)
	for _, w := range writers {
		payload.ObservedFrontier = append(payload.ObservedFrontier, frontierEntryWire{Writer: w, Counter: state.ObservedFrontier[w]})
	}

	edgeKeys := make([]string, 0, len(state.EdgeBirthEvent))
	for k := range state.EdgeBirthEvent {
		edgeKeys = append(edgeKeys, k)
	}
	sort.Strings(edgeKeys)
	for _, k := range edgeKeys {
		payload.EdgeBirthEvent = append(payload.EdgeBirthEvent, edgeBirthWire{Key: k, EventID: toEventWire(state.EdgeBirthEvent[k])})
	}

	return payload
}

// Deserialize reconstructs a crdt.State from a Payload produced by
// Serialize. materialize(serialize(state)) ≡ state for any state built
// purely by folding patches through the reducer.
func Deserialize(payload *Payload) (*crdt.State, error) {
	if payload.Schema != Schema {
		return nil, warperr.New(warperr.CodeMigrationRequired, "checkpoint schema mismatch").
			With("expected", Schema).With("actual", payload.Schema)
	}

	state := &crdt.State{
		NodeAlive:        fromORSetWire(payload.NodeAlive),
		EdgeAlive:        fromORSetWire(payload.EdgeAlive),
		Prop:             make(map[string]*crdt.LWWRegister, len(payload.Prop)),
		ObservedFrontier: crdt.NewVersionVector(),
		EdgeBirthEvent:   make(map[string]crdt.EventID, len(payload.EdgeBirthEvent)),
	}
	for _, p := range payload.Prop {
		state.Prop[p.Key] = &crdt.LWWRegister{EventID: fromEventWire(p.EventID), Value: append([]byte(nil), p.Value...)}
	}
	for _, f := range payload.ObservedFrontier {
		state.ObservedFrontier[f.Writer] = f.Counter
	}
	for _, eb := range payload.EdgeBirthEvent {
		state.EdgeBirthEvent[eb.Key] = fromEventWire(eb.EventID)
	}
	return state, nil
}

// Encode serializes state through codec and returns the bytes plus their
// content hash, computed via crypto — the hash that a checkpoint's
// meta blob records so later loads can detect corruption.
func Encode(state *crdt.State, codec store.Codec, crypto store.Crypto) (data []byte, hash string, err error) {
	payload := Serialize(state)
	data, err = codec.Encode(payload)
	if err != nil {
		return nil, "", warperr.Wrap(warperr.CodeStorage, "encoding checkpoint payload", err)
	}
	hash, err = crypto.Hash("sha256", data)
	if err != nil {
		return nil, "", warperr.Wrap(warperr.CodeStorage, "hashing checkpoint payload", err)
	}
	return data, hash, nil
}

// Decode verifies data's hash against wantHash (if non-empty) and decodes
// it into a crdt.State.
func Decode(data []byte, wantHash string, codec store.Codec, crypto store.Crypto) (*crdt.State, error) {
	if wantHash != "" {
		got, err := crypto.Hash("sha256", data)
		if err != nil {
			return nil, warperr.Wrap(warperr.CodeStorage, "hashing checkpoint payload", err)
		}
		if !crypto.ConstantTimeEqual([]byte(got), []byte(wantHash)) {
			return nil, warperr.New(warperr.CodeStorage, "checkpoint hash mismatch").
				With("expected", wantHash).With("actual", got)
		}
	}
	var payload Payload
	if err := codec.Decode(data, &payload); err != nil {
		return nil, warperr.Wrap(warperr.CodeStorage, "decoding checkpoint payload", err)
	}
	return Deserialize(&payload)
}
