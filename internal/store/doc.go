// Package store provides SQLite-backed storage for the shared stock sheet.
//
// The store keeps two tables:
//   - stock_counters: the current sheet, one row per timber line
//   - sheet_history: an append-only log of every write and reset, with a
//     deterministic CBOR snapshot and BLAKE3 digest of the sheet after the
//     change
//
// The history seq is the sheet revision. Every write replaces the whole
// sheet (last writer wins) and bumps the revision by one.
//
// Store implements reconcile.Remote, so an engine can run directly against
// a local database. Change notifications are fanned out in commit order by
// a Hub.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
