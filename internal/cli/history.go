package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docket/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	Verify   bool
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent changes to the shared sheet",
		Long: `List recent writes and resets, newest first.

With --db the SQLite database is read directly (the server may be
running); otherwise the server is asked. --verify recomputes every stored
digest and needs --db.

Example:
  docket history --limit 20
  docket history --db ./docket.db --verify`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "read this SQLite database instead of the server")
	cmd.Flags().IntVar(&opts.Limit, "limit", store.DefaultHistoryLimit, "maximum entries")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "check stored digests (requires --db)")

	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	out := opts.formatter(cmd)
	ctx := cmd.Context()

	if opts.Database == "" {
		if opts.Verify {
			return NewExitError(ExitCommandError, "--verify requires --db")
		}
		c, err := opts.newClient()
		if err != nil {
			return out.Fail(ExitCommandError, "invalid server URL", err)
		}
		entries, err := c.History(ctx, opts.Limit)
		if err != nil {
			return out.Fail(ExitFailure, "failed to read history", err)
		}
		return out.Success(HistoryView(entries))
	}

	st, err := store.Open(opts.Database, store.WithLogger(opts.Logger))
	if err != nil {
		return out.Fail(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.Verify {
		bad, err := st.VerifyHistory(ctx)
		if err != nil {
			return out.Fail(ExitFailure, "failed to verify history", err)
		}
		if bad != 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("history digest mismatch at seq %d", bad))
		}
		out.VerboseLog("all history digests match")
	}

	entries, err := st.History(ctx, opts.Limit)
	if err != nil {
		return out.Fail(ExitFailure, "failed to read history", err)
	}
	return out.Success(HistoryView(entries))
}
