package stock

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidField is returned when a counter field name is not recognised.
var ErrInvalidField = errors.New("invalid stock field")

// Field selects one of the two counts on a tally line.
type Field int

const (
	// Runnable is the "can run" pack count.
	Runnable Field = iota + 1
	// NonRunnable is the "can't run" (racking) pack count.
	NonRunnable
)

// ParseField accepts the wire names and the yard-floor aliases.
func ParseField(s string) (Field, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "runnable", "can-run", "canrun":
		return Runnable, nil
	case "nonrunnable", "non-runnable", "cant-run", "cantrun", "racking":
		return NonRunnable, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidField, s)
	}
}

// String returns the wire name of the field.
func (f Field) String() string {
	switch f {
	case Runnable:
		return "runnable"
	case NonRunnable:
		return "nonRunnable"
	default:
		return fmt.Sprintf("Field(%d)", int(f))
	}
}
