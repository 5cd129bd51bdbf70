package reconcile

import (
	"context"

	"github.com/roach88/docket/internal/stock"
)

// Remote is the shared store the engine synchronises with.
//
// Implementations: remote.Memory (in-process), store.Store (SQLite) and
// client.Client (HTTP). The store is assumed to be last-writer-wins per
// sheet.
type Remote interface {
	// ReadCounters returns the current shared sheet.
	ReadCounters(ctx context.Context) (stock.Counters, error)

	// WriteCounters replaces the shared sheet. actorID identifies the writer.
	WriteCounters(ctx context.Context, counters stock.Counters, actorID string) error

	// Subscribe registers onChange for every change to the shared sheet,
	// including changes written by this engine. Notifications are delivered
	// in the order the store emits them, one at a time. ctx bounds the
	// Subscribe call only; the subscription lasts until the returned func
	// is called. Any sheet the implementation delivers during the call is
	// delivered before Subscribe returns.
	Subscribe(ctx context.Context, onChange func(stock.Counters)) (unsubscribe func(), err error)

	// ResetCounters clears the shared sheet.
	ResetCounters(ctx context.Context, actorID string) error
}
