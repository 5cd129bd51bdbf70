package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/docket/internal/clock"
	"github.com/roach88/docket/internal/stock"
)

// DefaultDelay is the debounce window applied to local edits.
const DefaultDelay = time.Second

// Engine mirrors the shared stock sheet locally and pushes local edits back.
//
// Thread-safety model:
//   - Run(): must be called from exactly one goroutine
//   - Increment/Decrement/Reset/Flush/Snapshot: safe from any goroutine,
//     they block until the loop has handled the request
//   - OnRemoteUpdate(): safe from any goroutine, never blocks
//   - Status(): safe from any goroutine, never blocks
//
// INVARIANTS:
//   - counters, origin and the debounce timer are only touched by the loop
//   - a remote update never arms the debounce timer
//   - at most one remote call (WriteCounters or ResetCounters) is
//     outstanding at a time; a reset waits for the write before it
type Engine struct {
	remote  Remote
	clock   clock.Clock
	logger  *slog.Logger
	actorID string
	delay   time.Duration
	policy  ConflictPolicy

	queue    *eventQueue
	debounce *debouncer
	done     chan struct{}
	doneOnce sync.Once

	// Loop-owned state.
	runCtx       context.Context
	counters     stock.Counters
	origin       stock.Origin
	gen          uint64 // bumped by every local mutation
	dirty        map[stock.Key]struct{}
	writing      bool
	writeAgain   bool
	resetting    bool
	resetGen     uint64  // gen of the latest Reset
	resetQueued  []event // Reset calls waiting for the remote
	resetWaiters []event // Reset calls answered by the outstanding reset
	lastErr      error
	lastSynced   time.Time
	writes       int
	failures     int
	ignored      int
	flushWaiters []event

	statusMu sync.RWMutex
	status   Status

	subMu       sync.Mutex
	unsubscribe func()
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used for the debounce timer.
//
// Default: clock.Real(). Tests pass a testutil.FakeClock.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithDelay sets the debounce window. Non-positive values are ignored.
//
// Default: 1s (DefaultDelay)
func WithDelay(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.delay = d
		}
	}
}

// WithPolicy sets how remote updates treat unflushed local edits.
//
// Default: PolicyLastWriterWins
func WithPolicy(p ConflictPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithActorID sets the id sent with every write.
//
// Default: a fresh UUIDv7 (NewActorID("")).
func WithActorID(id string) Option {
	return func(e *Engine) {
		if id != "" {
			e.actorID = id
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine bound to remote. Call Run to start its loop and
// Connect to load and follow the shared sheet.
func New(remote Remote, opts ...Option) *Engine {
	e := &Engine{
		remote:   remote,
		clock:    clock.Real(),
		logger:   slog.Default(),
		delay:    DefaultDelay,
		policy:   PolicyLastWriterWins,
		queue:    newEventQueue(),
		done:     make(chan struct{}),
		counters: stock.Counters{},
		dirty:    make(map[stock.Key]struct{}),
		status:   Status{State: StateIdle},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.actorID == "" {
		e.actorID = NewActorID("")
	}
	e.debounce = newDebouncer(e.clock, e.delay, func(armID uint64) {
		e.queue.Enqueue(event{typ: eventFlushDue, armID: armID})
	})

	return e
}

// ActorID returns the id this engine writes under.
func (e *Engine) ActorID() string { return e.actorID }

// Done is closed when Run has returned.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run processes events until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// Event handling never fails the loop: remote errors are recorded in the
// status and logged, and processing continues.
func (e *Engine) Run(ctx context.Context) error {
	e.runCtx = ctx
	e.logger.Info("reconcile engine starting",
		"actor_id", e.actorID,
		"delay", e.delay,
		"policy", e.policy.String(),
	)
	defer e.shutdown()

	for {
		ev, ok := e.queue.TryDequeue()
		if ok {
			e.process(ev)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("reconcile engine stopping: context cancelled", "actor_id", e.actorID)
			return ctx.Err()

		case <-e.queue.Wait():
			if e.queue.Closed() && e.queue.Len() == 0 {
				e.logger.Info("reconcile engine stopping: queue closed", "actor_id", e.actorID)
				return nil
			}
		}
	}
}

// Stop closes the event queue. Run returns once queued events are handled.
func (e *Engine) Stop() {
	e.queue.Close()
}

// shutdown releases everything still waiting on the loop.
func (e *Engine) shutdown() {
	e.queue.Close()
	e.debounce.Cancel()
	for _, ev := range e.queue.Drain() {
		ev.respond(reply{err: ErrStopped})
	}
	for _, waiters := range [][]event{e.flushWaiters, e.resetQueued, e.resetWaiters} {
		for _, ev := range waiters {
			ev.respond(reply{err: ErrStopped})
		}
	}
	e.flushWaiters, e.resetQueued, e.resetWaiters = nil, nil, nil
	e.doneOnce.Do(func() { close(e.done) })
}

// Connect subscribes to the shared sheet and seeds the local tally with
// its current value. Both arrive as remote updates, so neither is written
// back.
func (e *Engine) Connect(ctx context.Context) error {
	unsub, err := e.remote.Subscribe(ctx, func(cs stock.Counters) {
		e.OnRemoteUpdate(cs)
	})
	if err != nil {
		se := newSyncError(ErrCodeSubscribeFailed, e.actorID, err)
		e.logger.Warn("subscribe failed", "actor_id", e.actorID, "error", err)
		return se
	}

	initial, err := e.remote.ReadCounters(ctx)
	if err != nil {
		unsub()
		se := newSyncError(ErrCodeReadFailed, e.actorID, err)
		e.logger.Warn("initial read failed", "actor_id", e.actorID, "error", err)
		return se
	}
	if !e.OnRemoteUpdate(initial) {
		unsub()
		return ErrStopped
	}

	e.subMu.Lock()
	e.unsubscribe = unsub
	e.subMu.Unlock()

	e.logger.Info("connected to shared sheet", "actor_id", e.actorID, "lines", len(initial))
	return nil
}

// Close pushes any pending local edits immediately, unsubscribes and stops
// the loop. The flush error, if any, is returned.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Flush(ctx)
	if errors.Is(err, ErrStopped) {
		err = nil
	}

	e.subMu.Lock()
	unsub := e.unsubscribe
	e.unsubscribe = nil
	e.subMu.Unlock()
	if unsub != nil {
		unsub()
	}

	e.Stop()
	return err
}

// Increment adds one pack to field on key and returns the new counter.
func (e *Engine) Increment(ctx context.Context, key stock.Key, field stock.Field) (stock.Counter, error) {
	return e.edit(ctx, key, field, 1)
}

// Decrement removes one pack from field on key, clamping at zero. A clamped
// decrement still counts as a local edit and arms the debounce window.
func (e *Engine) Decrement(ctx context.Context, key stock.Key, field stock.Field) (stock.Counter, error) {
	return e.edit(ctx, key, field, -1)
}

func (e *Engine) edit(ctx context.Context, key stock.Key, field stock.Field, delta int) (stock.Counter, error) {
	if _, err := stock.ParseKey(string(key)); err != nil {
		return stock.Counter{}, err
	}
	if field != stock.Runnable && field != stock.NonRunnable {
		return stock.Counter{}, fmt.Errorf("%w: %s", stock.ErrInvalidField, field)
	}
	r, err := e.call(ctx, event{typ: eventEdit, key: key, field: field, delta: delta})
	if err != nil {
		return stock.Counter{}, err
	}
	return r.counter, nil
}

// OnRemoteUpdate hands a sheet pushed by the remote store to the loop.
// It never blocks and never causes a write. Returns false once stopped.
func (e *Engine) OnRemoteUpdate(counters stock.Counters) bool {
	return e.queue.Enqueue(event{typ: eventRemote, counters: counters.Clone()})
}

// Reset clears the tally locally and on the remote store. The reset is sent
// immediately, bypassing and cancelling the debounce window.
func (e *Engine) Reset(ctx context.Context) error {
	_, err := e.call(ctx, event{typ: eventReset})
	return err
}

// Flush writes pending local edits now instead of waiting for the debounce
// window, and waits for the write to finish. It is a no-op when there is
// nothing local to push.
func (e *Engine) Flush(ctx context.Context) error {
	_, err := e.call(ctx, event{typ: eventFlushNow})
	return err
}

// Snapshot returns a copy of the local tally.
func (e *Engine) Snapshot(ctx context.Context) (stock.Counters, error) {
	r, err := e.call(ctx, event{typ: eventSnapshot})
	if err != nil {
		return nil, err
	}
	return r.counters, nil
}

// Status returns the latest published status.
func (e *Engine) Status() Status {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

func (e *Engine) call(ctx context.Context, ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	if !e.queue.Enqueue(ev) {
		return reply{}, ErrStopped
	}

	select {
	case r := <-ev.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.done:
		select {
		case r := <-ev.reply:
			return r, r.err
		default:
			return reply{}, ErrStopped
		}
	}
}

// process routes an event to its handler.
// CRITICAL: Called only from Run() goroutine.
func (e *Engine) process(ev event) {
	switch ev.typ {
	case eventEdit:
		e.handleEdit(ev)
	case eventRemote:
		e.handleRemote(ev)
	case eventFlushDue:
		if !e.debounce.Fired(ev.armID) {
			e.logger.Debug("stale debounce fire ignored", "arm_id", ev.armID)
			break
		}
		e.startFlush("debounce")
	case eventWriteDone:
		e.handleWriteDone(ev)
	case eventReset:
		e.handleReset(ev)
	case eventResetDone:
		e.handleResetDone(ev)
	case eventFlushNow:
		e.handleFlushNow(ev)
	case eventSnapshot:
		ev.respond(reply{counters: e.counters.Clone()})
	default:
		e.logger.Error("unknown reconcile event", "type", int(ev.typ))
		ev.respond(reply{err: fmt.Errorf("unknown event type: %d", ev.typ)})
	}
	e.publishStatus()
}

func (e *Engine) handleEdit(ev event) {
	after := e.counters.Get(ev.key).Add(ev.field, ev.delta)
	e.counters[ev.key] = after
	e.origin = stock.OriginLocal
	e.gen++
	e.dirty[ev.key] = struct{}{}
	e.debounce.Arm()

	e.logger.Debug("local edit",
		"key", ev.key,
		"field", ev.field.String(),
		"delta", ev.delta,
		"runnable", after.Runnable,
		"non_runnable", after.NonRunnable,
	)
	ev.respond(reply{counter: after})
}

func (e *Engine) handleRemote(ev event) {
	switch e.policy {
	case PolicyDeferRemote:
		if e.debounce.Pending() || e.busy() || e.origin == stock.OriginLocal {
			e.ignored++
			e.logger.Info("remote update ignored: local edits pending",
				"lines", len(ev.counters),
				"dirty_lines", len(e.dirty),
			)
			return
		}
		e.applyRemote(ev.counters)

	case PolicyKeepLocal:
		if e.origin != stock.OriginLocal || len(e.dirty) == 0 {
			e.applyRemote(ev.counters)
			return
		}
		merged := ev.counters.Clone()
		for k := range e.dirty {
			merged[k] = e.counters.Get(k)
		}
		e.counters = merged
		e.logger.Debug("remote update merged",
			"lines", len(merged),
			"kept_local", len(e.dirty),
		)

	default:
		if e.origin == stock.OriginLocal && len(e.dirty) > 0 {
			e.logger.Info("remote update replaced unflushed local edits",
				"dirty_lines", len(e.dirty),
				"pending", e.debounce.Pending(),
			)
		}
		e.applyRemote(ev.counters)
	}
}

func (e *Engine) applyRemote(cs stock.Counters) {
	e.counters = cs.Clone()
	e.origin = stock.OriginRemote
	clear(e.dirty)
	e.logger.Debug("remote update applied", "lines", len(cs))
}

// busy reports whether a remote call is outstanding.
func (e *Engine) busy() bool { return e.writing || e.resetting }

// startFlush writes the whole tally off-loop if it holds local edits.
func (e *Engine) startFlush(reason string) {
	if e.origin != stock.OriginLocal {
		e.logger.Debug("flush skipped: no local edits", "reason", reason, "origin", e.origin.String())
		return
	}
	if e.busy() {
		e.writeAgain = true
		e.logger.Debug("flush deferred: remote call in flight", "reason", reason)
		return
	}

	snapshot := e.counters.Clone()
	gen := e.gen
	e.writing = true
	e.writeAgain = false

	e.logger.Debug("flush started", "reason", reason, "lines", len(snapshot), "gen", gen)

	ctx := e.runCtx
	go func() {
		err := e.remote.WriteCounters(ctx, snapshot, e.actorID)
		e.queue.Enqueue(event{typ: eventWriteDone, gen: gen, err: err})
	}()
}

func (e *Engine) handleWriteDone(ev event) {
	e.writing = false

	if ev.err != nil {
		e.failures++
		e.lastErr = newSyncError(ErrCodeWriteFailed, e.actorID, ev.err)
		e.logger.Warn("flush failed; local edits kept",
			"actor_id", e.actorID,
			"gen", ev.gen,
			"error", ev.err,
		)
	} else {
		e.writes++
		e.lastErr = nil
		e.lastSynced = e.clock.Now()
		if e.gen == ev.gen && e.origin == stock.OriginLocal {
			e.origin = stock.OriginNone
			clear(e.dirty)
		}
		e.logger.Info("flush written", "actor_id", e.actorID, "gen", ev.gen, "origin", e.origin.String())
	}

	e.next()
}

// next starts the remote call queued behind the one that just finished.
// A queued reset goes first, then a follow-up flush. Flush waiters are
// answered once nothing is left to send.
func (e *Engine) next() {
	if len(e.resetQueued) > 0 {
		e.startReset()
		return
	}
	if e.writeAgain && e.origin == stock.OriginLocal {
		e.startFlush("follow_up")
		return
	}
	e.writeAgain = false

	var err error
	if e.lastErr != nil {
		err = e.lastErr
	}
	for _, w := range e.flushWaiters {
		w.respond(reply{err: err})
	}
	e.flushWaiters = nil
}

func (e *Engine) handleFlushNow(ev event) {
	if e.origin != stock.OriginLocal && !e.busy() {
		ev.respond(reply{})
		return
	}
	e.debounce.Cancel()
	e.flushWaiters = append(e.flushWaiters, ev)
	if !e.busy() {
		e.startFlush("flush_now")
		return
	}
	if e.origin == stock.OriginLocal {
		e.writeAgain = true
	}
}

// handleReset clears the tally at once. The remote reset is sent
// immediately unless another remote call is outstanding, in which case it
// goes next so that call cannot land after it.
func (e *Engine) handleReset(ev event) {
	e.debounce.Cancel()
	e.counters = stock.Counters{}
	clear(e.dirty)
	e.origin = stock.OriginLocal
	e.gen++
	e.resetGen = e.gen
	e.writeAgain = false
	e.resetQueued = append(e.resetQueued, ev)

	if e.busy() {
		e.logger.Info("reset queued: remote call in flight", "actor_id", e.actorID)
		return
	}
	e.startReset()
}

// startReset sends one ResetCounters for every queued Reset call.
func (e *Engine) startReset() {
	e.resetting = true
	e.resetWaiters = e.resetQueued
	e.resetQueued = nil

	gen := e.resetGen
	ctx := e.runCtx
	e.logger.Info("reset requested", "actor_id", e.actorID, "callers", len(e.resetWaiters))

	go func() {
		err := e.remote.ResetCounters(ctx, e.actorID)
		e.queue.Enqueue(event{typ: eventResetDone, gen: gen, err: err})
	}()
}

func (e *Engine) handleResetDone(ev event) {
	e.resetting = false
	waiters := e.resetWaiters
	e.resetWaiters = nil

	var err error
	if ev.err != nil {
		e.failures++
		e.lastErr = newSyncError(ErrCodeResetFailed, e.actorID, ev.err)
		err = e.lastErr
		e.logger.Warn("reset failed; local tally cleared", "actor_id", e.actorID, "error", ev.err)
	} else {
		e.lastErr = nil
		e.lastSynced = e.clock.Now()
		if e.gen == ev.gen && e.origin == stock.OriginLocal {
			e.origin = stock.OriginNone
		}
		e.logger.Info("reset written", "actor_id", e.actorID)
	}

	for _, w := range waiters {
		w.respond(reply{err: err})
	}
	e.next()
}

// publishStatus recomputes the status snapshot and logs state changes.
func (e *Engine) publishStatus() {
	st := Status{
		Origin:       e.origin,
		LastSyncedAt: e.lastSynced,
		Writes:       e.writes,
		Failures:     e.failures,
		Ignored:      e.ignored,
	}
	switch {
	case e.busy():
		st.State = StateSyncing
	case e.debounce.Pending():
		st.State = StatePending
		st.PendingSince = e.debounce.Since()
	case e.lastErr != nil:
		st.State = StateError
	default:
		st.State = StateIdle
	}
	if e.lastErr != nil {
		st.LastError = e.lastErr.Error()
	}

	e.statusMu.Lock()
	prev := e.status.State
	e.status = st
	e.statusMu.Unlock()

	if prev != st.State {
		e.logger.Debug("sync status changed", "from", string(prev), "to", string(st.State))
	}
}
