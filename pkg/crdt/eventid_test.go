package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventIDOrdering(t *testing.T) {
	base := EventID{Lamport: 5, Writer: "b", PatchSha: "sha1", OpIndex: 0}

	cases := []struct {
		name string
		b    EventID
		want int
	}{
		{"higher lamport wins", EventID{Lamport: 6, Writer: "a", PatchSha: "sha0", OpIndex: 0}, -1},
		{"lower lamport loses", EventID{Lamport: 4, Writer: "z", PatchSha: "sha9", OpIndex: 9}, 1},
		{"same lamport, writer breaks tie", EventID{Lamport: 5, Writer: "c", PatchSha: "sha1", OpIndex: 0}, -1},
		{"same lamport+writer, sha breaks tie", EventID{Lamport: 5, Writer: "b", PatchSha: "sha2", OpIndex: 0}, -1},
		{"same lamport+writer+sha, opIndex breaks tie", EventID{Lamport: 5, Writer: "b", PatchSha: "sha1", OpIndex: 1}, -1},
		{"identical", base, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Compare(base, tc.b))
		})
	}
}

func TestEventIDLessGreater(t *testing.T) {
	a := EventID{Lamport: 1, Writer: "a", PatchSha: "s", OpIndex: 0}
	b := EventID{Lamport: 2, Writer: "a", PatchSha: "s", OpIndex: 0}
	assert.True(t, Less(a, b))
	assert.True(t, Greater(b, a))
	assert.False(t, Less(a, a))
}
