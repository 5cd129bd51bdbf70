package stock

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrNegativeCount is returned when a tally received from outside holds a
// negative count.
var ErrNegativeCount = errors.New("negative stock count")

// Counter is the pair of pack counts on one tally line.
type Counter struct {
	Runnable    int `json:"runnable" cbor:"runnable"`
	NonRunnable int `json:"nonRunnable" cbor:"nonRunnable"`
}

// Get returns the count selected by f.
func (c Counter) Get(f Field) int {
	switch f {
	case Runnable:
		return c.Runnable
	case NonRunnable:
		return c.NonRunnable
	default:
		return 0
	}
}

// Add returns c with delta applied to field f, clamped at zero and
// saturating at math.MaxInt.
func (c Counter) Add(f Field, delta int) Counter {
	switch f {
	case Runnable:
		c.Runnable = addClamped(c.Runnable, delta)
	case NonRunnable:
		c.NonRunnable = addClamped(c.NonRunnable, delta)
	}
	return c
}

// IsZero reports whether both counts are zero.
func (c Counter) IsZero() bool {
	return c.Runnable == 0 && c.NonRunnable == 0
}

// Total is the number of packs on the line regardless of runnability.
func (c Counter) Total() int {
	return c.Runnable + c.NonRunnable
}

func addClamped(n, delta int) int {
	switch {
	case delta > 0 && n > math.MaxInt-delta:
		return math.MaxInt
	case delta < 0 && n < math.MinInt-delta:
		return 0
	}
	return max(n+delta, 0)
}

// Counters is a whole tally sheet. A missing key reads as 0/0.
type Counters map[Key]Counter

// Get returns the counter for k, or the zero Counter when absent.
func (cs Counters) Get(k Key) Counter {
	return cs[k]
}

// Clone returns an independent copy. Cloning a nil map yields an empty map.
func (cs Counters) Clone() Counters {
	out := make(Counters, len(cs))
	for k, v := range cs {
		out[k] = v
	}
	return out
}

// Equal reports whether both sheets hold the same lines. A line that is
// present with 0/0 is not equal to an absent line.
func (cs Counters) Equal(other Counters) bool {
	if len(cs) != len(other) {
		return false
	}
	for k, v := range cs {
		ov, ok := other[k]
		if !ok || ov != v {
			return false
		}
	}
	return true
}

// Keys returns the sheet's keys in byte order.
func (cs Counters) Keys() []Key {
	keys := make([]Key, 0, len(cs))
	for k := range cs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Total sums both counts across every line.
func (cs Counters) Total() Counter {
	var total Counter
	for _, v := range cs {
		total.Runnable += v.Runnable
		total.NonRunnable += v.NonRunnable
	}
	return total
}

// Validate checks a sheet received from another process: every key must
// parse and no count may be negative.
func (cs Counters) Validate() error {
	for k, v := range cs {
		if _, err := ParseKey(string(k)); err != nil {
			return err
		}
		if v.Runnable < 0 || v.NonRunnable < 0 {
			return fmt.Errorf("%w: %s", ErrNegativeCount, k)
		}
	}
	return nil
}
