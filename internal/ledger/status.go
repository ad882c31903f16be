package ledger

import "strings"

// Status is a message delivery state. The lattice is monotonic:
// queued < sent < delivered < read, with failed absorbing. Updates that move
// backward are ignored so out-of-order callbacks cannot corrupt state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
	StatusFailed    Status = "failed"
)

// StatusFromProvider maps a gateway status string onto the lattice.
// "undelivered" collapses to failed; unrecognized values default to sent,
// matching the gateway's own fallback semantics.
func StatusFromProvider(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued":
		return StatusQueued
	case "sent":
		return StatusSent
	case "delivered":
		return StatusDelivered
	case "read":
		return StatusRead
	case "failed", "undelivered":
		return StatusFailed
	default:
		return StatusSent
	}
}

// rank orders the forward lattice. failed is handled separately as the
// absorbing state and has no rank.
func rank(s Status) int {
	switch s {
	case StatusQueued:
		return 0
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return -1
	}
}

// CanTransition reports whether moving from one status to another is a
// forward move on the lattice. It mirrors the SQL guard in the store.
func CanTransition(from, to Status) bool {
	if from == StatusFailed {
		return false
	}
	if to == StatusFailed {
		return true
	}
	return rank(to) > rank(from)
}
