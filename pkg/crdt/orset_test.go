package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestORSetAddAliveTransition(t *testing.T) {
	s := NewORSet[string]()
	require.False(t, s.Alive("a"))

	became := s.Add("a", Dot{Writer: "w1", Counter: 1})
	assert.True(t, became)
	assert.True(t, s.Alive("a"))

	became = s.Add("a", Dot{Writer: "w1", Counter: 2})
	assert.False(t, became, "already alive, second dot doesn't re-transition")
}

func TestORSetRemoveRetiresDot(t *testing.T) {
	s := NewORSet[string]()
	dot := Dot{Writer: "w1", Counter: 1}
	s.Add("a", dot)

	became := s.Remove("a", []Dot{dot})
	assert.True(t, became)
	assert.False(t, s.Alive("a"))
}

func TestORSetAliveDotsReturnsCurrentDots(t *testing.T) {
	s := NewORSet[string]()
	assert.Empty(t, s.AliveDots("a"))

	d1 := Dot{Writer: "w1", Counter: 1}
	d2 := Dot{Writer: "w2", Counter: 1}
	s.Add("a", d1)
	s.Add("a", d2)

	assert.ElementsMatch(t, []Dot{d1, d2}, s.AliveDots("a"))

	s.Remove("a", []Dot{d1})
	assert.ElementsMatch(t, []Dot{d2}, s.AliveDots("a"))
}

func TestORSetCompactTombstonesRemovesSupersededOnly(t *testing.T) {
	s := NewORSet[string]()
	s.Add("a", Dot{Writer: "w1", Counter: 1})
	s.Remove("a", []Dot{{Writer: "w1", Counter: 1}})
	s.Add("b", Dot{Writer: "w1", Counter: 2})
	s.Remove("b", []Dot{{Writer: "w1", Counter: 2}})

	frontier := VersionVector{"w1": 1}
	removed := s.CompactTombstones(frontier)
	assert.Equal(t, 1, removed)
	_, stillTombstoned := s.Tombstones[Dot{Writer: "w1", Counter: 2}.Encode()]
	assert.True(t, stillTombstoned)
	_, compactedAway := s.Tombstones[Dot{Writer: "w1", Counter: 1}.Encode()]
	assert.False(t, compactedAway)
}

func TestORSetRemoveBeforeAddSuppressesLaterAdd(t *testing.T) {
	// Out-of-order delivery: the remove arrives (tombstoning a dot that
	// hasn't been observed as an add yet), then the add for that exact dot
	// arrives. The key must never become alive.
	s := NewORSet[string]()
	dot := Dot{Writer: "w1", Counter: 1}

	s.Remove("a", []Dot{dot})
	assert.False(t, s.Alive("a"))

	became := s.Add("a", dot)
	assert.False(t, became)
	assert.False(t, s.Alive("a"))
}

func TestORSetIdempotentAdd(t *testing.T) {
	s1 := NewORSet[string]()
	dot := Dot{Writer: "w1", Counter: 1}
	s1.Add("a", dot)
	s1.Add("a", dot)

	s2 := NewORSet[string]()
	s2.Add("a", dot)

	assert.Equal(t, s2.AliveKeys(), s1.AliveKeys())
}

func TestORSetJoinCommutative(t *testing.T) {
	mk := func() (*ORSet[string], *ORSet[string]) {
		a := NewORSet[string]()
		a.Add("x", Dot{Writer: "w1", Counter: 1})
		b := NewORSet[string]()
		b.Add("x", Dot{Writer: "w2", Counter: 1})
		b.Remove("x", []Dot{{Writer: "w1", Counter: 1}})
		return a, b
	}

	a1, b1 := mk()
	a1.Join(b1)

	a2, b2 := mk()
	// join in the opposite order: fold a2 into b2
	b2.Join(a2)

	assert.Equal(t, AliveStringKeys(a1), AliveStringKeys(b2))
}

func TestAliveStringKeysSorted(t *testing.T) {
	s := NewORSet[string]()
	s.Add("zeta", Dot{Writer: "w1", Counter: 1})
	s.Add("alpha", Dot{Writer: "w1", Counter: 2})
	s.Add("mid", Dot{Writer: "w1", Counter: 3})

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, AliveStringKeys(s))
}
