package crdt

import "encoding/json"

// LWWRegister is a last-writer-wins register keyed by EventID. Joining two
// registers keeps the one whose EventID compares greater; ties cannot occur
// in practice since EventID includes the originating patch sha and op
// index, but the comparison is still total.
type LWWRegister struct {
	EventID EventID
	Value   json.RawMessage
}

// Join merges other into the receiver, keeping the winner by EventID order.
// Returns true iff the register's value actually changed (other won).
func (r *LWWRegister) Join(other LWWRegister) bool {
	if Greater(other.EventID, r.EventID) {
		*r = other
		return true
	}
	return false
}

// NewLWWRegister constructs a register for a fresh PropSet.
func NewLWWRegister(eventID EventID, value json.RawMessage) *LWWRegister {
	return &LWWRegister{EventID: eventID, Value: value}
}
