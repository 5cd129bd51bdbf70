package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/roach88/docket/internal/stock"
	"github.com/roach88/docket/internal/store"
)

// digestPrefix is how much of a digest text output shows.
const digestPrefix = 12

func shortDigest(d string) string {
	if len(d) > digestPrefix {
		return d[:digestPrefix]
	}
	return d
}

// SheetView is the result of `docket show`.
type SheetView struct {
	Revision int64          `json:"revision"`
	Digest   string         `json:"digest"`
	Counters stock.Counters `json:"counters"`
	Total    stock.Counter  `json:"total"`
}

func newSheetView(s store.Sheet) SheetView {
	return SheetView{
		Revision: s.Revision,
		Digest:   s.Digest,
		Counters: s.Counters,
		Total:    s.Counters.Total(),
	}
}

// RenderText prints the sheet as an aligned table, lines sorted by key.
func (v SheetView) RenderText(w io.Writer) error {
	var b strings.Builder

	keys := v.Counters.Keys()
	if len(keys) == 0 {
		b.WriteString("(no stock lines)\n")
	} else {
		width := len("TOTAL")
		for _, k := range keys {
			width = max(width, len(k))
		}
		fmt.Fprintf(&b, "%-*s  %8s  %12s\n", width, "LINE", "RUNNABLE", "NON-RUNNABLE")
		for _, k := range keys {
			c := v.Counters[k]
			fmt.Fprintf(&b, "%-*s  %8d  %12d\n", width, k, c.Runnable, c.NonRunnable)
		}
		fmt.Fprintf(&b, "%-*s  %8d  %12d\n", width, "TOTAL", v.Total.Runnable, v.Total.NonRunnable)
	}
	fmt.Fprintf(&b, "\nrevision %d, digest %s\n", v.Revision, shortDigest(v.Digest))

	_, err := io.WriteString(w, b.String())
	return err
}

// EditResult is the result of `docket inc` and `docket dec`.
type EditResult struct {
	Key     stock.Key     `json:"key"`
	Counter stock.Counter `json:"counter"`
	ActorID string        `json:"actor_id"`
	Edits   int           `json:"edits"`
}

func (r EditResult) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%s: runnable %d, non-runnable %d (%d edits written as %s)\n",
		r.Key, r.Counter.Runnable, r.Counter.NonRunnable, r.Edits, r.ActorID)
	return err
}

// ChangeView is one line of `docket watch`.
type ChangeView store.Change

func (c ChangeView) RenderText(w io.Writer) error {
	total := c.Counters.Total()
	who := c.Actor
	if who == "" {
		who = "-"
	}
	_, err := fmt.Fprintf(w, "rev %d %s by %s: %d lines, runnable %d, non-runnable %d\n",
		c.Revision, c.Op, who, len(c.Counters), total.Runnable, total.NonRunnable)
	return err
}

// HistoryView is the result of `docket history`.
type HistoryView []store.HistoryEntry

func (h HistoryView) RenderText(w io.Writer) error {
	if len(h) == 0 {
		_, err := io.WriteString(w, "(no history)\n")
		return err
	}

	var b strings.Builder
	for _, e := range h {
		total := e.Counters.Total()
		fmt.Fprintf(&b, "%6d  %s  %-5s  %-24s  lines=%d runnable=%d non_runnable=%d  %s\n",
			e.Seq,
			e.CreatedAt.UTC().Format(time.RFC3339),
			e.Op,
			e.ActorID,
			len(e.Counters),
			total.Runnable,
			total.NonRunnable,
			shortDigest(e.Digest),
		)
	}
	_, err := io.WriteString(w, b.String())
	return err
}
