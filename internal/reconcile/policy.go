package reconcile

import (
	"fmt"
	"strings"
)

// ConflictPolicy decides what a remote update does to local edits that
// have not been flushed yet.
type ConflictPolicy int

const (
	// PolicyLastWriterWins replaces the whole tally with the remote sheet,
	// discarding unflushed local edits. This is the historical behaviour of
	// the yard tally and the default.
	PolicyLastWriterWins ConflictPolicy = iota

	// PolicyDeferRemote ignores remote updates while a local burst is
	// pending or a write is in flight. The local write then wins on the
	// shared store.
	PolicyDeferRemote

	// PolicyKeepLocal applies the remote sheet but keeps the local value of
	// every line edited since the last successful flush. Those lines are
	// still flushed.
	PolicyKeepLocal
)

// ParseConflictPolicy parses the configuration name of a policy.
func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "last-writer-wins", "lww":
		return PolicyLastWriterWins, nil
	case "defer-remote":
		return PolicyDeferRemote, nil
	case "keep-local":
		return PolicyKeepLocal, nil
	default:
		return 0, fmt.Errorf("unknown conflict policy %q: must be one of last-writer-wins, defer-remote, keep-local", s)
	}
}

func (p ConflictPolicy) String() string {
	switch p {
	case PolicyLastWriterWins:
		return "last-writer-wins"
	case PolicyDeferRemote:
		return "defer-remote"
	case PolicyKeepLocal:
		return "keep-local"
	default:
		return fmt.Sprintf("ConflictPolicy(%d)", int(p))
	}
}
