package store

import (
	"sync"

	"github.com/roach88/docket/internal/stock"
)

// Op names the kind of sheet change.
type Op string

const (
	OpWrite Op = "write"
	OpReset Op = "reset"

	// OpSnapshot marks the full sheet sent at the start of a change feed.
	// It is never stored.
	OpSnapshot Op = "snapshot"
)

// Change is one committed sheet change.
type Change struct {
	Revision int64          `json:"revision"`
	Actor    string         `json:"actor"`
	Op       Op             `json:"op"`
	Digest   string         `json:"digest"`
	Counters stock.Counters `json:"counters"`
}

// Hub fans committed changes out to subscribers.
//
// Thread-safety: All methods are safe for concurrent use. Publish calls
// every subscriber while holding the hub lock, so subscribers observe
// changes in publish order. Subscribers must return quickly and must not
// call back into the Hub.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]func(Change)
	order  []int
	nextID int
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[int]func(Change))}
}

// Subscribe registers fn and returns an idempotent unsubscribe func.
func (h *Hub) Subscribe(fn func(Change)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	h.subs[id] = fn
	h.order = append(h.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

// Publish delivers c to every subscriber in subscription order.
// Each subscriber gets its own copy of the counters.
func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, id := range h.order {
		cc := c
		cc.Counters = c.Counters.Clone()
		h.subs[id](cc)
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) remove(id int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.subs, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}
