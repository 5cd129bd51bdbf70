package cli

import (
	"github.com/spf13/cobra"
)

// NewShowCommand creates the show command.
func NewShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the shared stock sheet",
		Long: `Print the shared stock sheet from the server.

Example:
  docket show --remote http://yard-office:8080
  docket show --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)

			c, err := rootOpts.newClient()
			if err != nil {
				return out.Fail(ExitCommandError, "invalid server URL", err)
			}
			sheet, err := c.ReadSheet(cmd.Context())
			if err != nil {
				return out.Fail(ExitFailure, "failed to read stock sheet", err)
			}
			return out.Success(newSheetView(sheet))
		},
	}
}
