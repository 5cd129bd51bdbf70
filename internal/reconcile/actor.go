package reconcile

import (
	"github.com/google/uuid"
)

// NewActorID returns a time-sortable actor id for a station, e.g.
// "yard-office/0190f5c2-...". An empty station yields the bare UUIDv7.
//
// Panics if UUID generation fails (should never happen in practice).
func NewActorID(station string) string {
	id := uuid.Must(uuid.NewV7()).String()
	if station == "" {
		return id
	}
	return station + "/" + id
}
