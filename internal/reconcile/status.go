package reconcile

import (
	"time"

	"github.com/roach88/docket/internal/stock"
)

// State is the coarse sync indicator shown next to the tally.
type State string

const (
	// StateIdle means the local tally matches what was last written or received.
	StateIdle State = "idle"
	// StatePending means local edits are waiting for the debounce window.
	StatePending State = "pending"
	// StateSyncing means a write is outstanding.
	StateSyncing State = "syncing"
	// StateError means the last write failed and local edits are unflushed.
	StateError State = "error"
)

// Status is a point-in-time view of the engine, safe to read from any goroutine.
type Status struct {
	State        State        `json:"state"`
	Origin       stock.Origin `json:"origin"`
	PendingSince time.Time    `json:"pending_since,omitzero"`
	LastSyncedAt time.Time    `json:"last_synced_at,omitzero"`
	LastError    string       `json:"last_error,omitempty"`

	// Writes counts successful flushes.
	Writes int `json:"writes"`
	// Failures counts failed flushes and resets.
	Failures int `json:"failures"`
	// Ignored counts remote updates dropped by PolicyDeferRemote.
	Ignored int `json:"ignored"`
}
