package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// newDumpCmd creates the 'dump' subcommand.
func newDumpCmd() *cobra.Command {
	var preview bool
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Prints the composed payload as JSON",
		Long: `Builds the payload live and prints it to stdout. With --preview, drafts,
hidden articles and empty categories are included.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			payload, err := appInstance.Dump(cmd.Context(), preview)
			if err != nil {
				return fmt.Errorf("dump: %w", err)
			}
			return writeResult(cmd.OutOrStdout(), payload)
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "include unpublished and hidden content")
	return cmd
}

func writeResult(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}
