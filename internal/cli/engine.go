package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/roach88/docket/internal/reconcile"
)

// withEngine runs fn against a reconcile engine connected to the server.
// The engine is closed afterwards, which flushes pending edits; a failed
// flush is returned.
func withEngine(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *reconcile.Engine) error) error {
	c, err := opts.newClient()
	if err != nil {
		return err
	}

	cfg := opts.Config
	e := reconcile.New(c,
		reconcile.WithDelay(cfg.Sync.Debounce),
		reconcile.WithPolicy(cfg.Policy()),
		reconcile.WithActorID(reconcile.NewActorID(cfg.Station)),
		reconcile.WithLogger(opts.Logger),
	)

	ctx, cancel := signalContext(cmd, opts.Logger)
	defer cancel()

	go func() {
		_ = e.Run(ctx)
	}()
	defer func() {
		cancel()
		<-e.Done()
	}()

	if err := e.Connect(ctx); err != nil {
		e.Stop()
		return err
	}

	fnErr := fn(ctx, e)
	closeErr := e.Close(ctx)
	return errors.Join(fnErr, closeErr)
}
