package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/docket/internal/stock"
	"github.com/roach88/docket/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testKey = stock.MustKey("treated", "90x45mm", "2.4m")

// writeCall records one WriteCounters call.
type writeCall struct {
	counters stock.Counters
	actorID  string
}

// fakeRemote is an in-memory Remote that records calls and can fail,
// block, or echo writes back to subscribers.
type fakeRemote struct {
	mu       sync.Mutex
	sheet    stock.Counters
	writes   []writeCall
	resets   []string
	writeErr error
	resetErr error
	echo     bool
	subs     map[int]func(stock.Counters)
	nextSub  int

	// When block is non-nil WriteCounters waits for it to close.
	block   chan struct{}
	started chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		sheet:   stock.Counters{},
		subs:    make(map[int]func(stock.Counters)),
		started: make(chan struct{}, 16),
	}
}

func (r *fakeRemote) ReadCounters(ctx context.Context) (stock.Counters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sheet.Clone(), nil
}

func (r *fakeRemote) WriteCounters(ctx context.Context, cs stock.Counters, actorID string) error {
	r.mu.Lock()
	r.writes = append(r.writes, writeCall{counters: cs.Clone(), actorID: actorID})
	block := r.block
	r.mu.Unlock()

	r.started <- struct{}{}
	if block != nil {
		<-block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.sheet = cs.Clone()
	if r.echo {
		r.notifyLocked()
	}
	return nil
}

func (r *fakeRemote) ResetCounters(ctx context.Context, actorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets = append(r.resets, actorID)
	if r.resetErr != nil {
		return r.resetErr
	}
	r.sheet = stock.Counters{}
	if r.echo {
		r.notifyLocked()
	}
	return nil
}

func (r *fakeRemote) Subscribe(ctx context.Context, onChange func(stock.Counters)) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = onChange
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		delete(r.subs, id)
	}, nil
}

// push simulates a write by another station.
func (r *fakeRemote) push(cs stock.Counters) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sheet = cs.Clone()
	r.notifyLocked()
}

func (r *fakeRemote) notifyLocked() {
	for _, fn := range r.subs {
		fn(r.sheet.Clone())
	}
}

func (r *fakeRemote) writeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.writes)
}

func (r *fakeRemote) lastWrite() writeCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.writes[len(r.writes)-1]
}

func (r *fakeRemote) resetCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resets)
}

func (r *fakeRemote) sheetCopy() stock.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sheet.Clone()
}

func (r *fakeRemote) setWriteErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

func (r *fakeRemote) subscriberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// startEngine runs an engine on a fake clock until the test ends.
func startEngine(t *testing.T, r Remote, opts ...Option) (*Engine, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testutil.Epoch)
	base := []Option{WithClock(clk), WithActorID("test-actor"), WithLogger(discardLogger())}
	e := New(r, append(base, opts...)...)

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = e.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-e.Done()
	})
	return e, clk
}

// settle round-trips through the loop so every event queued before it has
// been handled.
func settle(t *testing.T, e *Engine) stock.Counters {
	t.Helper()
	cs, err := e.Snapshot(context.Background())
	require.NoError(t, err)
	return cs
}

func waitWrites(t *testing.T, r *fakeRemote, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return r.writeCount() >= n },
		time.Second, time.Millisecond, "expected %d writes", n)
}

func waitState(t *testing.T, e *Engine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return e.Status().State == want },
		time.Second, time.Millisecond, "expected state %s, have %s", want, e.Status().State)
}

func TestEngine_BurstProducesSingleWrite(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Increment(ctx, testKey, stock.Runnable)
		require.NoError(t, err)
		clk.Advance(60 * time.Millisecond)
	}
	settle(t, e)
	assert.Equal(t, 0, r.writeCount(), "nothing written inside the window")
	assert.Equal(t, StatePending, e.Status().State)

	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	waitState(t, e, StateIdle)

	settle(t, e)
	assert.Equal(t, 1, r.writeCount())
	w := r.lastWrite()
	assert.Equal(t, stock.Counters{testKey: {Runnable: 3, NonRunnable: 0}}, w.counters)
	assert.Equal(t, "test-actor", w.actorID)
	assert.Equal(t, stock.OriginNone, e.Status().Origin)
	assert.Equal(t, 1, e.Status().Writes)
}

func TestEngine_EachEditRestartsWindow(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Increment(ctx, testKey, stock.NonRunnable)
		require.NoError(t, err)
		clk.Advance(900 * time.Millisecond)
	}
	settle(t, e)
	assert.Equal(t, 0, r.writeCount(), "window keeps sliding while edits arrive")

	clk.Advance(100 * time.Millisecond)
	waitWrites(t, r, 1)
	assert.Equal(t, 5, r.lastWrite().counters[testKey].NonRunnable)
}

func TestEngine_DecrementClampsAndSchedulesFlush(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)

	c, err := e.Decrement(context.Background(), testKey, stock.Runnable)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Runnable)
	settle(t, e)
	assert.Equal(t, stock.OriginLocal, e.Status().Origin)
	assert.Equal(t, StatePending, e.Status().State)
	assert.Equal(t, 1, clk.PendingCount())

	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	assert.Equal(t, stock.Counter{}, r.lastWrite().counters[testKey])
}

func TestEngine_CountersNeverNegative(t *testing.T) {
	r := newFakeRemote()
	e, _ := startEngine(t, r)
	ctx := context.Background()

	ops := []int{-1, 1, -1, -1, 1, 1, -1, -1, -1, 1}
	for _, op := range ops {
		var c stock.Counter
		var err error
		if op > 0 {
			c, err = e.Increment(ctx, testKey, stock.NonRunnable)
		} else {
			c, err = e.Decrement(ctx, testKey, stock.NonRunnable)
		}
		require.NoError(t, err)
		require.GreaterOrEqual(t, c.NonRunnable, 0)
		require.GreaterOrEqual(t, c.Runnable, 0)
	}
	assert.Equal(t, 1, settle(t, e)[testKey].NonRunnable)
}

func TestEngine_RemoteUpdatesNeverWrite(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)

	for i := 1; i <= 5; i++ {
		require.True(t, e.OnRemoteUpdate(stock.Counters{testKey: {Runnable: i}}))
	}
	cs := settle(t, e)
	assert.Equal(t, 5, cs[testKey].Runnable)
	assert.Equal(t, stock.OriginRemote, e.Status().Origin)
	assert.Equal(t, 0, clk.PendingCount(), "remote updates never arm the timer")

	clk.Advance(time.Minute)
	settle(t, e)
	assert.Equal(t, 0, r.writeCount())
	assert.Equal(t, StateIdle, e.Status().State)
}

func TestEngine_EchoIsNotWrittenBack(t *testing.T) {
	r := newFakeRemote()
	r.echo = true
	e, clk := startEngine(t, r)
	ctx := context.Background()
	require.NoError(t, e.Connect(ctx))

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	waitState(t, e, StateIdle)

	clk.Advance(time.Minute)
	settle(t, e)
	assert.Equal(t, 1, r.writeCount(), "own write echoed back is not re-written")
	assert.Equal(t, stock.OriginRemote, e.Status().Origin)
}

func TestEngine_ResetIsImmediate(t *testing.T) {
	r := newFakeRemote()
	r.sheet = stock.Counters{testKey: {Runnable: 4}}
	e, clk := startEngine(t, r)
	ctx := context.Background()
	require.NoError(t, e.Connect(ctx))

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	require.Equal(t, 1, clk.PendingCount())

	require.NoError(t, e.Reset(ctx))
	assert.Len(t, r.resets, 1)
	assert.Equal(t, "test-actor", r.resets[0])
	assert.Equal(t, 0, clk.PendingCount(), "reset cancels the debounce window")
	assert.Empty(t, settle(t, e))

	rs, err := r.ReadCounters(ctx)
	require.NoError(t, err)
	assert.Empty(t, rs)

	clk.Advance(time.Minute)
	settle(t, e)
	assert.Equal(t, 0, r.writeCount(), "no debounced write after reset")
	assert.Equal(t, stock.OriginNone, e.Status().Origin)
}

func TestEngine_ResetFailure(t *testing.T) {
	r := newFakeRemote()
	r.resetErr = errors.New("backend down")
	e, _ := startEngine(t, r)

	err := e.Reset(context.Background())
	require.Error(t, err)
	assert.True(t, IsSyncError(err))

	var se *SyncError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, ErrCodeResetFailed, se.Code)
	waitState(t, e, StateError)
	assert.Equal(t, stock.OriginLocal, e.Status().Origin, "cleared tally is still owed to the store")
}

func TestEngine_WriteFailureKeepsLocalState(t *testing.T) {
	r := newFakeRemote()
	r.setWriteErr(errors.New("network unreachable"))
	e, clk := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	waitState(t, e, StateError)

	st := e.Status()
	assert.Equal(t, 1, st.Failures)
	assert.Contains(t, st.LastError, string(ErrCodeWriteFailed))
	assert.Equal(t, stock.OriginLocal, st.Origin)
	assert.Equal(t, 1, settle(t, e)[testKey].Runnable, "no rollback on failure")

	// No retry until another edit opens a new window.
	clk.Advance(time.Minute)
	settle(t, e)
	assert.Equal(t, 1, r.writeCount())

	r.setWriteErr(nil)
	_, err = e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	clk.Advance(DefaultDelay)
	waitWrites(t, r, 2)
	waitState(t, e, StateIdle)
	assert.Equal(t, 2, r.lastWrite().counters[testKey].Runnable)
	assert.Empty(t, e.Status().LastError)
}

func TestEngine_EditsDuringInFlightWrite(t *testing.T) {
	r := newFakeRemote()
	r.block = make(chan struct{})
	e, clk := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	clk.Advance(DefaultDelay)
	<-r.started
	waitState(t, e, StateSyncing)

	// Edits keep landing while the write is outstanding.
	c, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Runnable)
	clk.Advance(DefaultDelay)
	settle(t, e)
	assert.Equal(t, 1, r.writeCount(), "second write waits for the first")

	close(r.block)
	waitWrites(t, r, 2)
	waitState(t, e, StateIdle)
	assert.Equal(t, 2, r.lastWrite().counters[testKey].Runnable)
	assert.Equal(t, stock.OriginNone, e.Status().Origin)
	assert.Equal(t, 2, e.Status().Writes)
}

func tallyEmpty(e *Engine) bool {
	cs, err := e.Snapshot(context.Background())
	return err == nil && len(cs) == 0
}

// resetAsync calls Reset on another goroutine and returns its result channel.
func resetAsync(e *Engine) <-chan error {
	done := make(chan error, 1)
	go func() { done <- e.Reset(context.Background()) }()
	return done
}

func TestEngine_ResetWhileWriteInFlight(t *testing.T) {
	r := newFakeRemote()
	r.block = make(chan struct{})
	e, clk := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	clk.Advance(DefaultDelay)
	<-r.started
	waitState(t, e, StateSyncing)

	resetDone := resetAsync(e)
	require.Eventually(t, func() bool { return tallyEmpty(e) },
		time.Second, time.Millisecond, "reset clears the tally at once")
	assert.Zero(t, r.resetCount(), "reset waits for the outstanding write")

	close(r.block)
	require.NoError(t, <-resetDone)

	assert.Equal(t, 1, r.resetCount())
	assert.Empty(t, r.sheetCopy(), "the late write must not survive the reset")
	assert.Empty(t, settle(t, e))
	waitState(t, e, StateIdle)
	assert.Equal(t, stock.OriginNone, e.Status().Origin)
	assert.Equal(t, 1, r.writeCount())
}

func TestEngine_EditAfterQueuedResetIsWritten(t *testing.T) {
	r := newFakeRemote()
	r.block = make(chan struct{})
	e, clk := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)
	clk.Advance(DefaultDelay)
	<-r.started

	resetDone := resetAsync(e)
	require.Eventually(t, func() bool { return tallyEmpty(e) },
		time.Second, time.Millisecond)

	rough := stock.MustKey("rough", "150x50mm", "6.0m")
	_, err = e.Increment(ctx, rough, stock.NonRunnable)
	require.NoError(t, err)

	close(r.block)
	require.NoError(t, <-resetDone)

	clk.Advance(DefaultDelay)
	waitWrites(t, r, 2)
	waitState(t, e, StateIdle)
	assert.Equal(t, stock.Counters{rough: {NonRunnable: 1}}, r.lastWrite().counters)
	assert.Equal(t, stock.Counters{rough: {NonRunnable: 1}}, r.sheetCopy())
	assert.Equal(t, stock.OriginNone, e.Status().Origin)
}

func TestEngine_RemoteDuringPendingBurst_LastWriterWins(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Increment(ctx, testKey, stock.Runnable)
		require.NoError(t, err)
	}
	other := stock.MustKey("untreated", "90x45mm", "3.0m")
	e.OnRemoteUpdate(stock.Counters{testKey: {Runnable: 7}, other: {NonRunnable: 1}})

	cs := settle(t, e)
	assert.Equal(t, 7, cs[testKey].Runnable, "unflushed local edits are overwritten")
	assert.Equal(t, 1, cs[other].NonRunnable)

	clk.Advance(DefaultDelay)
	settle(t, e)
	assert.Equal(t, 0, r.writeCount(), "nothing local left to flush")
	assert.Equal(t, StateIdle, e.Status().State)
}

func TestEngine_RemoteDuringPendingBurst_DeferRemote(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r, WithPolicy(PolicyDeferRemote))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := e.Increment(ctx, testKey, stock.Runnable)
		require.NoError(t, err)
	}
	e.OnRemoteUpdate(stock.Counters{testKey: {Runnable: 7}})

	cs := settle(t, e)
	assert.Equal(t, 2, cs[testKey].Runnable)
	assert.Equal(t, 1, e.Status().Ignored)

	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	assert.Equal(t, 2, r.lastWrite().counters[testKey].Runnable)
	waitState(t, e, StateIdle)

	// Once idle, remote updates apply again.
	e.OnRemoteUpdate(stock.Counters{testKey: {Runnable: 9}})
	assert.Equal(t, 9, settle(t, e)[testKey].Runnable)
}

func TestEngine_RemoteDuringPendingBurst_KeepLocal(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r, WithPolicy(PolicyKeepLocal))
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)

	other := stock.MustKey("untreated", "90x45mm", "3.0m")
	e.OnRemoteUpdate(stock.Counters{testKey: {Runnable: 7}, other: {NonRunnable: 4}})

	cs := settle(t, e)
	assert.Equal(t, 1, cs[testKey].Runnable, "locally edited line kept")
	assert.Equal(t, 4, cs[other].NonRunnable, "other lines taken from remote")
	assert.Equal(t, stock.OriginLocal, e.Status().Origin)

	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	assert.Equal(t, stock.Counters{testKey: {Runnable: 1}, other: {NonRunnable: 4}}, r.lastWrite().counters)
}

func TestEngine_FlushWritesImmediately(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)

	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 1, r.writeCount())
	assert.Equal(t, 0, clk.PendingCount())

	// Nothing local left: flush is a no-op.
	require.NoError(t, e.Flush(ctx))
	assert.Equal(t, 1, r.writeCount())
}

func TestEngine_FlushReportsWriteError(t *testing.T) {
	r := newFakeRemote()
	r.setWriteErr(errors.New("boom"))
	e, _ := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)

	err = e.Flush(ctx)
	require.Error(t, err)
	assert.True(t, IsSyncError(err))
}

func TestEngine_CloseFlushesAndStops(t *testing.T) {
	r := newFakeRemote()
	e, _ := startEngine(t, r)
	ctx := context.Background()
	require.NoError(t, e.Connect(ctx))
	require.Equal(t, 1, r.subscriberCount())

	_, err := e.Increment(ctx, testKey, stock.NonRunnable)
	require.NoError(t, err)

	require.NoError(t, e.Close(ctx))
	assert.Equal(t, 1, r.writeCount())
	assert.Equal(t, 0, r.subscriberCount())

	select {
	case <-e.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}

	_, err = e.Increment(ctx, testKey, stock.Runnable)
	assert.ErrorIs(t, err, ErrStopped)
	assert.False(t, e.OnRemoteUpdate(stock.Counters{}))
}

func TestEngine_ConnectSeedsWithoutWriting(t *testing.T) {
	r := newFakeRemote()
	r.sheet = stock.Counters{testKey: {Runnable: 2, NonRunnable: 1}}
	e, clk := startEngine(t, r)

	require.NoError(t, e.Connect(context.Background()))
	assert.Equal(t, stock.Counter{Runnable: 2, NonRunnable: 1}, settle(t, e)[testKey])

	r.push(stock.Counters{testKey: {Runnable: 5}})
	assert.Equal(t, 5, settle(t, e)[testKey].Runnable)

	clk.Advance(time.Minute)
	settle(t, e)
	assert.Equal(t, 0, r.writeCount())
}

func TestEngine_InvalidEdit(t *testing.T) {
	e, _ := startEngine(t, newFakeRemote())
	ctx := context.Background()

	for _, key := range []stock.Key{"", "treated 90x45mm-2.4m", "cafe\u0301-90x45mm-2.4m"} {
		_, err := e.Increment(ctx, key, stock.Runnable)
		assert.ErrorIs(t, err, stock.ErrInvalidKey, "key %q", key)
	}
	assert.Empty(t, settle(t, e), "rejected keys never enter the tally")

	_, err := e.Increment(ctx, testKey, stock.Field(0))
	assert.ErrorIs(t, err, stock.ErrInvalidField)
}

func TestEngine_InvalidKeyDoesNotPoisonLaterWrites(t *testing.T) {
	r := newFakeRemote()
	e, clk := startEngine(t, r)
	ctx := context.Background()

	_, err := e.Increment(ctx, "treated 90x45", stock.Runnable)
	require.Error(t, err)
	_, err = e.Increment(ctx, testKey, stock.Runnable)
	require.NoError(t, err)

	clk.Advance(DefaultDelay)
	waitWrites(t, r, 1)
	waitState(t, e, StateIdle)
	assert.Equal(t, stock.Counters{testKey: {Runnable: 1}}, r.lastWrite().counters)
	require.NoError(t, r.lastWrite().counters.Validate())
}

func TestEngine_CallRespectsContext(t *testing.T) {
	// Engine whose loop never runs: calls must give up on ctx.
	e := New(newFakeRemote(), WithLogger(discardLogger()))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.Increment(ctx, testKey, stock.Runnable)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	e.Stop()
}

func TestEngine_DefaultActorID(t *testing.T) {
	e := New(newFakeRemote())
	assert.Len(t, e.ActorID(), 36)
	e.Stop()
}
