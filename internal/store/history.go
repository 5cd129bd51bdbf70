package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/docket/internal/stock"
)

// DefaultHistoryLimit caps History when no positive limit is given.
const DefaultHistoryLimit = 50

// HistoryEntry is one row of the sheet history.
type HistoryEntry struct {
	Seq       int64          `json:"seq"`
	ActorID   string         `json:"actor_id"`
	Op        Op             `json:"op"`
	Digest    string         `json:"digest"`
	Counters  stock.Counters `json:"counters"`
	CreatedAt time.Time      `json:"created_at"`
}

// History returns the most recent changes, newest first.
// Returns an empty slice (not nil) when nothing has been written.
func (s *Store) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, actor_id, op, digest, snapshot, created_at
		FROM sheet_history
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []HistoryEntry{}
	for rows.Next() {
		var (
			e         HistoryEntry
			op        string
			snapshot  []byte
			createdAt string
		)
		if err := rows.Scan(&e.Seq, &e.ActorID, &op, &e.Digest, &snapshot, &createdAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		e.Op = Op(op)
		e.Counters, err = stock.DecodeSnapshot(snapshot)
		if err != nil {
			return nil, fmt.Errorf("history seq %d: %w", e.Seq, err)
		}
		e.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, fmt.Errorf("history seq %d: parse created_at: %w", e.Seq, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}

	return entries, nil
}

// VerifyHistory recomputes every stored digest from its snapshot and
// returns the first seq whose digest does not match, or 0.
func (s *Store) VerifyHistory(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, digest, snapshot FROM sheet_history ORDER BY seq ASC
	`)
	if err != nil {
		return 0, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq      int64
			digest   string
			snapshot []byte
		)
		if err := rows.Scan(&seq, &digest, &snapshot); err != nil {
			return 0, fmt.Errorf("scan history: %w", err)
		}
		cs, err := stock.DecodeSnapshot(snapshot)
		if err != nil {
			return seq, fmt.Errorf("history seq %d: %w", seq, err)
		}
		got, err := stock.Digest(cs)
		if err != nil {
			return seq, fmt.Errorf("history seq %d: %w", seq, err)
		}
		if got != digest {
			return seq, nil
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate history: %w", err)
	}
	return 0, nil
}
