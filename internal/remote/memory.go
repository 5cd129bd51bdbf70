// Package remote provides an in-process shared stock sheet.
//
// Memory stands in for the hosted store when every station runs in one
// process. It behaves like the real store: the last write replaces the
// whole sheet, and every change is pushed to every subscriber, the writer
// included.
package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/docket/internal/reconcile"
	"github.com/roach88/docket/internal/stock"
)

// Memory is a shared stock sheet held in memory.
//
// Thread-safety: All methods are safe for concurrent use. Subscriber
// callbacks run while the sheet lock is held, so they see changes in
// emission order and must not call back into Memory.
type Memory struct {
	mu        sync.Mutex
	sheet     stock.Counters
	revision  int64
	lastActor string
	subs      []subscriber
	nextID    int
}

type subscriber struct {
	id int
	fn func(stock.Counters)
}

var _ reconcile.Remote = (*Memory)(nil)

// NewMemory creates a sheet seeded with initial (which may be nil).
func NewMemory(initial stock.Counters) *Memory {
	return &Memory{sheet: initial.Clone()}
}

// ReadCounters returns a copy of the sheet.
func (m *Memory) ReadCounters(ctx context.Context) (stock.Counters, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sheet.Clone(), nil
}

// WriteCounters replaces the sheet and notifies subscribers.
func (m *Memory) WriteCounters(ctx context.Context, counters stock.Counters, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := counters.Validate(); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheet = counters.Clone()
	m.bumpLocked(actorID)
	return nil
}

// ResetCounters empties the sheet and notifies subscribers.
func (m *Memory) ResetCounters(ctx context.Context, actorID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sheet = stock.Counters{}
	m.bumpLocked(actorID)
	return nil
}

// Subscribe registers onChange for every later change. ctx is only checked
// here; the subscription lasts until the returned func is called.
func (m *Memory) Subscribe(ctx context.Context, onChange func(stock.Counters)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.subs = append(m.subs, subscriber{id: id, fn: onChange})

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(id) })
	}, nil
}

// Revision returns the number of changes applied so far and the actor of
// the latest one.
func (m *Memory) Revision() (int64, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.revision, m.lastActor
}

// Subscribers returns the number of live subscriptions.
func (m *Memory) Subscribers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *Memory) remove(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

func (m *Memory) bumpLocked(actorID string) {
	m.revision++
	m.lastActor = actorID
	for _, s := range m.subs {
		s.fn(m.sheet.Clone())
	}
}
