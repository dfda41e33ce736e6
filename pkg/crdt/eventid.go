package crdt

// EventID is the LWW priority: a 4-tuple totally ordered lexicographically
// on (lamport, writerId, patchSha, opIndex) in that order.
type EventID struct {
	Lamport  uint64
	Writer   string
	PatchSha string
	OpIndex  uint32
}

// Compare returns -1, 0, or 1 as a is less than, equal to, or greater than
// b under the four-field lexicographic order above.
func Compare(a, b EventID) int {
	if a.Lamport != b.Lamport {
		if a.Lamport < b.Lamport {
			return -1
		}
		return 1
	}
	if a.Writer != b.Writer {
		if a.Writer < b.Writer {
			return -1
		}
		return 1
	}
	if a.PatchSha != b.PatchSha {
		if a.PatchSha < b.PatchSha {
			return -1
		}
		return 1
	}
	if a.OpIndex != b.OpIndex {
		if a.OpIndex < b.OpIndex {
			return -1
		}
		return 1
	}
	return 0
}

// Less reports whether a sorts strictly before b.
func Less(a, b EventID) bool { return Compare(a, b) < 0 }

// Greater reports whether a sorts strictly after b.
func Greater(a, b EventID) bool { return Compare(a, b) > 0 }
