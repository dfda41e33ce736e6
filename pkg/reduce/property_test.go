package reduce

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/warpgraph/warp/pkg/crdt"
)

// genPatches produces a small set of single-op patches over a fixed pool of
// node ids and writers, covering NodeAdd/NodeRemove/PropSet so the shuffled
// orders below exercise OR-Set and LWW joins together.
func genPatches(t *rapid.T) []StampedPatch {
	writers := []string{"w1", "w2", "w3"}
	nodes := []string{"n1", "n2", "n3", "n4"}

	n := rapid.IntRange(1, 12).Draw(t, "n")
	counters := map[string]uint64{}
	patches := make([]StampedPatch, 0, n)

	for i := 0; i < n; i++ {
		writer := rapid.SampledFrom(writers).Draw(t, "writer")
		node := rapid.SampledFrom(nodes).Draw(t, "node")
		kind := rapid.SampledFrom([]Kind{KindNodeAdd, KindNodeRemove, KindPropSet}).Draw(t, "kind")
		counters[writer]++
		counter := counters[writer]

		var op Op
		switch kind {
		case KindNodeAdd:
			op = Op{Kind: KindNodeAdd, Node: node, Dot: &crdt.Dot{Writer: writer, Counter: counter}}
		case KindNodeRemove:
			op = Op{Kind: KindNodeRemove, Node: node, ObservedDots: []crdt.Dot{{Writer: writer, Counter: counter}}}
		case KindPropSet:
			val := rapid.IntRange(0, 100).Draw(t, "val")
			op = Op{Kind: KindPropSet, Node: node, Key: "k", Value: []byte(fmt.Sprintf("%d", val))}
		}

		patches = append(patches, StampedPatch{
			Sha: fmt.Sprintf("sha%d", i),
			Patch: Patch{
				WriterID: writer,
				Lamport:  counter,
				Ops:      []Op{op},
			},
		})
	}
	return patches
}

func foldedAliveKeys(t require.TestingT, patches []StampedPatch) []string {
	result, err := Reduce(nil, patches, ReduceOptions{})
	require.NoError(t, err)
	return result.State.NodeAlive.AliveKeys()
}

// TestReducePropertyCommutative checks that folding a set of patches in any
// order yields the same final alive-node set — the same guarantee
// pkg/crdt's OR-Set join commutativity test covers, but exercised through
// the full reducer.
func TestReducePropertyCommutative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		patches := genPatches(t)
		shuffled := rapid.Permutation(patches).Draw(t, "order")

		a := foldedAliveKeys(t, patches)
		b := foldedAliveKeys(t, shuffled)
		require.ElementsMatch(t, a, b)
	})
}

// TestReducePropertyIdempotent checks that folding the same patch twice
// (simulating duplicate delivery) does not change the result.
func TestReducePropertyIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		patches := genPatches(t)
		once, err := Reduce(nil, patches, ReduceOptions{})
		require.NoError(t, err)

		doubled := append(append([]StampedPatch{}, patches...), patches...)
		twice, err := Reduce(nil, doubled, ReduceOptions{})
		require.NoError(t, err)

		require.ElementsMatch(t, once.State.NodeAlive.AliveKeys(), twice.State.NodeAlive.AliveKeys())
	})
}

// TestReducePropertyAssociative checks that folding in two batches (with an
// intermediate state) matches folding all at once.
func TestReducePropertyAssociative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		patches := genPatches(t)
		if len(patches) < 2 {
			return
		}
		split := rapid.IntRange(1, len(patches)-1).Draw(t, "split")

		whole, err := Reduce(nil, patches, ReduceOptions{})
		require.NoError(t, err)

		partial, err := Reduce(nil, patches[:split], ReduceOptions{})
		require.NoError(t, err)
		rest, err := Reduce(partial.State, patches[split:], ReduceOptions{})
		require.NoError(t, err)

		require.ElementsMatch(t, whole.State.NodeAlive.AliveKeys(), rest.State.NodeAlive.AliveKeys())
	})
}
