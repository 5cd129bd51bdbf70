// Package reconcile keeps a station's local stock tally consistent with the
// shared sheet held by a remote store.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Every mutation of the local tally happens on the goroutine running
// Engine.Run. Public operations (Increment, Decrement, Reset, Flush) enqueue
// an event and wait for the loop's reply. Remote notifications, debounce
// timer fires and write completions are posted to the same queue, so the
// counter map and origin flag need no locks and are observed in one order.
//
// Origin Tagging:
// The loop tracks where the latest change came from (stock.Origin). Local
// edits are tagged OriginLocal and arm the debounce window; remote updates
// are tagged OriginRemote and never arm it. A flush only writes when the
// origin is still OriginLocal, which is what stops two stations from
// echoing each other's writes forever.
//
// Debounce:
// Each local edit restarts a fixed delay. When it expires the whole tally is
// written once. Writes run off the loop so further edits keep landing while
// a write is outstanding; those edits are captured by the next flush. Writes
// are never issued concurrently: a fire that arrives while a write is in
// flight is folded into a follow-up write.
//
// Failure:
// A failed write leaves the local tally untouched and moves the engine to
// StateError. There is no retry loop; the next local edit arms a new
// window and the next flush tries again.
package reconcile
