package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newSyncCmd creates the 'sync' subcommand.
func newSyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Refreshes the payload from Notion and stores it as the draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			draft, err := appInstance.Sync(cmd.Context())
			if err != nil {
				return fmt.Errorf("sync: %w", err)
			}
			groups, items := draft.Payload.Counts()
			appInstance.Logger().Info("draft synced", zap.Int("groups", groups), zap.Int("items", items))
			return writeResult(cmd.OutOrStdout(), map[string]any{
				"ok":            true,
				"draftSyncedAt": draft.SyncedAt,
				"groups":        groups,
				"items":         items,
			})
		},
	}
}
