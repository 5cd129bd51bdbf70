package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/docket/internal/client"
	"github.com/roach88/docket/internal/config"
)

// EnvConfigPath names the config file when --config is not given.
const EnvConfigPath = "DOCKET_CONFIG"

// RootOptions holds global flags for all commands, and the config and
// logger resolved from them before any subcommand runs.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	RemoteURL  string

	Config config.Config
	Logger *slog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the docket CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "docket",
		Short: "docket - shared timber stock tally",
		Long: `Keep the yard's timber stock tally in sync across stations.

Every station edits a local copy of the tally. Bursts of edits are
debounced into a single write of the whole sheet, and changes made by
other stations are pushed back live.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd.ErrOrStderr())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $"+EnvConfigPath+")")
	cmd.PersistentFlags().StringVar(&opts.RemoteURL, "remote", "", "server URL (overrides remote.url)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewShowCommand(opts))
	cmd.AddCommand(NewEditCommand(opts, "inc"))
	cmd.AddCommand(NewEditCommand(opts, "dec"))
	cmd.AddCommand(NewResetCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

// resolve loads config and builds the logger.
func (o *RootOptions) resolve(errOut io.Writer) error {
	path := o.ConfigPath
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if o.RemoteURL != "" {
		cfg.Remote.URL = o.RemoteURL
		if err := cfg.Validate(); err != nil {
			return WrapExitError(ExitCommandError, "invalid --remote", err)
		}
	}

	o.Config = cfg
	o.Logger = newLogger(errOut, cfg, o.Verbose)
	return nil
}

// formatter returns an OutputFormatter bound to cmd's writers.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// newClient dials the configured server.
func (o *RootOptions) newClient() (*client.Client, error) {
	return client.New(o.Config.Remote.URL,
		client.WithTimeout(o.Config.Remote.Timeout),
		client.WithReconnectDelay(o.Config.Remote.ReconnectDelay),
		client.WithLogger(o.Logger),
	)
}

// newLogger builds the slog logger for the process. --verbose forces debug.
func newLogger(w io.Writer, cfg config.Config, verbose bool) *slog.Logger {
	level := cfg.SlogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	return slog.New(handler)
}

// signalContext returns a context cancelled on SIGINT/SIGTERM or when the
// command's own context ends.
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}
