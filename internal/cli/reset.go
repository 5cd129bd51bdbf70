package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/docket/internal/reconcile"
)

// ResetOptions holds flags for the reset command.
type ResetOptions struct {
	*RootOptions
	Yes bool
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResetOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear every stock line on the shared sheet",
		Long: `Clear every stock line on the shared sheet, for every station.

The reset is written immediately. It needs --yes.

Example:
  docket reset --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := opts.formatter(cmd)
			if !opts.Yes {
				return out.Fail(ExitCommandError, "refusing to reset", errors.New("pass --yes to clear the shared sheet"))
			}

			var actor string
			err := withEngine(cmd, opts.RootOptions, func(ctx context.Context, e *reconcile.Engine) error {
				actor = e.ActorID()
				return e.Reset(ctx)
			})
			if err != nil {
				return out.Fail(ExitFailure, "failed to reset stock sheet", err)
			}
			return out.Success(map[string]string{"status": "reset", "actor_id": actor})
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "confirm the reset")

	return cmd
}
