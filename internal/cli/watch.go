package cli

import (
	"sync"

	"github.com/spf13/cobra"

	"github.com/roach88/docket/internal/store"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Count int
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print changes to the shared sheet as they happen",
		Long: `Follow the server's change feed. The first line is the current sheet;
every write or reset by any station follows. Runs until interrupted, or
until --count changes have been printed.

Example:
  docket watch
  docket watch --format json --count 5`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.Count, "count", "n", 0, "exit after this many changes (0 = forever)")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	out := opts.formatter(cmd)

	c, err := opts.newClient()
	if err != nil {
		return out.Fail(ExitCommandError, "invalid server URL", err)
	}

	ctx, cancel := signalContext(cmd, opts.Logger)
	defer cancel()

	var (
		mu   sync.Mutex
		seen int
	)
	unwatch, err := c.Watch(ctx, func(ch store.Change) {
		mu.Lock()
		defer mu.Unlock()
		if opts.Count > 0 && seen >= opts.Count {
			return
		}
		if err := out.Success(ChangeView(ch)); err != nil {
			opts.Logger.Warn("failed to print change", "error", err)
		}
		seen++
		if opts.Count > 0 && seen >= opts.Count {
			cancel()
		}
	})
	if err != nil {
		return out.Fail(ExitFailure, "failed to follow change feed", err)
	}
	defer unwatch()

	<-ctx.Done()
	return nil
}
