package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/docket/internal/reconcile"
	"github.com/roach88/docket/internal/stock"
)

// EditOptions holds flags for the inc and dec commands.
type EditOptions struct {
	*RootOptions
	Field string
	Count int
}

// NewEditCommand creates the inc or dec command.
func NewEditCommand(rootOpts *RootOptions, verb string) *cobra.Command {
	opts := &EditOptions{RootOptions: rootOpts}

	delta, action := 1, "Add"
	if verb == "dec" {
		delta, action = -1, "Remove"
	}

	cmd := &cobra.Command{
		Use:   verb + " <treatment> <size> <length>",
		Short: action + " packs on a stock line",
		Long: action + ` packs on one stock line of the shared sheet.

The edits are applied through a reconcile engine: they are batched into a
single write of the whole sheet, which is flushed before the command exits.
Counts never go below zero.

Example:
  docket ` + verb + ` treated 90x45mm 2.4m
  docket ` + verb + ` treated 90x45mm 2.4m --field nonRunnable --count 3`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd, opts, args, delta)
		},
	}

	cmd.Flags().StringVar(&opts.Field, "field", "runnable", "counter to change (runnable|nonRunnable)")
	cmd.Flags().IntVarP(&opts.Count, "count", "n", 1, "number of packs")

	return cmd
}

func runEdit(cmd *cobra.Command, opts *EditOptions, args []string, delta int) error {
	out := opts.formatter(cmd)

	key, err := stock.NewKey(args[0], args[1], args[2])
	if err != nil {
		return out.Fail(ExitCommandError, "invalid stock line", err)
	}
	field, err := stock.ParseField(opts.Field)
	if err != nil {
		return out.Fail(ExitCommandError, "invalid --field", err)
	}
	if opts.Count < 1 {
		return out.Fail(ExitCommandError, "invalid --count", fmt.Errorf("count must be at least 1, got %d", opts.Count))
	}

	var result EditResult
	err = withEngine(cmd, opts.RootOptions, func(ctx context.Context, e *reconcile.Engine) error {
		var (
			c   stock.Counter
			err error
		)
		for range opts.Count {
			if delta > 0 {
				c, err = e.Increment(ctx, key, field)
			} else {
				c, err = e.Decrement(ctx, key, field)
			}
			if err != nil {
				return err
			}
		}
		result = EditResult{Key: key, Counter: c, ActorID: e.ActorID(), Edits: opts.Count}
		return nil
	})
	if err != nil {
		return out.Fail(ExitFailure, "failed to update stock", err)
	}
	return out.Success(result)
}
