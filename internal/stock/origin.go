package stock

import "fmt"

// Origin records where the most recent change to a local tally came from.
//
// It is the crux of echo suppression: Local changes must eventually be
// pushed to the shared store, Remote changes must never be pushed back.
type Origin int

const (
	// OriginNone means there is nothing to push.
	OriginNone Origin = iota
	// OriginLocal means a user action changed the tally and it is not yet flushed.
	OriginLocal
	// OriginRemote means the tally was last replaced by a shared-store notification.
	OriginRemote
)

func (o Origin) String() string {
	switch o {
	case OriginNone:
		return "none"
	case OriginLocal:
		return "local"
	case OriginRemote:
		return "remote"
	default:
		return fmt.Sprintf("Origin(%d)", int(o))
	}
}

// MarshalText lets Origin appear by name in JSON status payloads.
func (o Origin) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}
