package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"lookingglass/internal/usecase"
)

// NewTableCommand prints the declarative transition table.
func NewTableCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "table",
		Short:         "Print the playback transition table",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rootOpts.Format != "json" {
				return usecase.WriteTransitionTable(cmd.OutOrStdout())
			}
			var b strings.Builder
			if err := usecase.WriteTransitionTable(&b); err != nil {
				return err
			}
			lines := strings.Split(strings.TrimRight(b.String(), "\n"), "\n")
			return writeJSON(cmd.OutOrStdout(), "ok", lines)
		},
	}
}
