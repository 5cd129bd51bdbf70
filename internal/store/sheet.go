package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/docket/internal/reconcile"
	"github.com/roach88/docket/internal/stock"
)

var _ reconcile.Remote = (*Store)(nil)

// Sheet is the current shared sheet with its revision.
type Sheet struct {
	Revision int64          `json:"revision"`
	Digest   string         `json:"digest"`
	Counters stock.Counters `json:"counters"`
}

// ReadCounters returns the current sheet.
// Returns an empty map (not nil) when the sheet is empty.
func (s *Store) ReadCounters(ctx context.Context) (stock.Counters, error) {
	cs, err := readCounters(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("read counters: %w", err)
	}
	return cs, nil
}

// ReadSheet returns the current sheet together with its revision and digest.
func (s *Store) ReadSheet(ctx context.Context) (Sheet, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet: %w", err)
	}
	defer tx.Rollback()

	cs, err := readCounters(ctx, tx)
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet: %w", err)
	}
	rev, err := currentRevision(ctx, tx)
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet: %w", err)
	}
	digest, err := stock.Digest(cs)
	if err != nil {
		return Sheet{}, fmt.Errorf("read sheet: %w", err)
	}
	return Sheet{Revision: rev, Digest: digest, Counters: cs}, nil
}

// Revision returns the current sheet revision (0 for a fresh database).
func (s *Store) Revision(ctx context.Context) (int64, error) {
	rev, err := currentRevision(ctx, s.db)
	if err != nil {
		return 0, fmt.Errorf("read revision: %w", err)
	}
	return rev, nil
}

// WriteCounters replaces the whole sheet in one transaction and appends a
// history row. Negative counts are rejected with stock.ErrNegativeCount.
func (s *Store) WriteCounters(ctx context.Context, counters stock.Counters, actorID string) error {
	if err := counters.Validate(); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	if _, err := s.apply(ctx, OpWrite, counters.Clone(), actorID); err != nil {
		return fmt.Errorf("write counters: %w", err)
	}
	return nil
}

// ResetCounters empties the sheet and appends a history row.
func (s *Store) ResetCounters(ctx context.Context, actorID string) error {
	if _, err := s.apply(ctx, OpReset, stock.Counters{}, actorID); err != nil {
		return fmt.Errorf("reset counters: %w", err)
	}
	return nil
}

// Apply writes or resets the sheet and returns the committed change.
// Used by the HTTP server to answer with the new revision.
func (s *Store) Apply(ctx context.Context, op Op, counters stock.Counters, actorID string) (Change, error) {
	switch op {
	case OpWrite:
		if err := counters.Validate(); err != nil {
			return Change{}, fmt.Errorf("write counters: %w", err)
		}
		counters = counters.Clone()
	case OpReset:
		counters = stock.Counters{}
	default:
		return Change{}, fmt.Errorf("unknown op %q", op)
	}
	c, err := s.apply(ctx, op, counters, actorID)
	if err != nil {
		return Change{}, fmt.Errorf("%s counters: %w", op, err)
	}
	return c, nil
}

// Subscribe registers onChange for every committed change, including this
// process's own writes. ctx is only checked here; the subscription lasts
// until the returned func is called.
func (s *Store) Subscribe(ctx context.Context, onChange func(stock.Counters)) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.hub.Subscribe(func(c Change) { onChange(c.Counters) }), nil
}

// apply commits a sheet change and publishes it.
func (s *Store) apply(ctx context.Context, op Op, counters stock.Counters, actorID string) (Change, error) {
	if actorID == "" {
		return Change{}, fmt.Errorf("actor id required")
	}

	digest, err := stock.Digest(counters)
	if err != nil {
		return Change{}, err
	}
	snapshot, err := stock.EncodeSnapshot(counters)
	if err != nil {
		return Change{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Change{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	rev, err := currentRevision(ctx, tx)
	if err != nil {
		return Change{}, err
	}
	rev++

	if _, err := tx.ExecContext(ctx, `DELETE FROM stock_counters`); err != nil {
		return Change{}, fmt.Errorf("clear sheet: %w", err)
	}

	if len(counters) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO stock_counters (key, runnable, non_runnable, updated_seq)
			VALUES (?, ?, ?, ?)
		`)
		if err != nil {
			return Change{}, fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for _, k := range counters.Keys() {
			c := counters[k]
			if _, err := stmt.ExecContext(ctx, string(k), c.Runnable, c.NonRunnable, rev); err != nil {
				return Change{}, fmt.Errorf("insert line %s: %w", k, err)
			}
		}
	}

	createdAt := s.clock.Now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sheet_history (seq, actor_id, op, digest, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rev, actorID, string(op), digest, snapshot, createdAt); err != nil {
		return Change{}, fmt.Errorf("append history: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Change{}, fmt.Errorf("commit: %w", err)
	}

	c := Change{Revision: rev, Actor: actorID, Op: op, Digest: digest, Counters: counters}
	s.logger.Debug("sheet changed",
		"revision", rev,
		"actor_id", actorID,
		"op", string(op),
		"lines", len(counters),
	)
	s.hub.Publish(c)
	return c, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readCounters(ctx context.Context, q queryer) (stock.Counters, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT key, runnable, non_runnable
		FROM stock_counters
		ORDER BY key COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	cs := stock.Counters{}
	for rows.Next() {
		var (
			key string
			c   stock.Counter
		)
		if err := rows.Scan(&key, &c.Runnable, &c.NonRunnable); err != nil {
			return nil, fmt.Errorf("scan counter: %w", err)
		}
		cs[stock.Key(key)] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate counters: %w", err)
	}
	return cs, nil
}

func currentRevision(ctx context.Context, q queryer) (int64, error) {
	var rev int64
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM sheet_history`).Scan(&rev); err != nil {
		return 0, fmt.Errorf("query revision: %w", err)
	}
	return rev, nil
}
