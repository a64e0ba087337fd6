package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newPublishCmd creates the 'publish' subcommand.
func newPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish",
		Short: "Publishes the current draft",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			published, err := appInstance.Publish(cmd.Context())
			if err != nil {
				return fmt.Errorf("publish: %w", err)
			}
			groups, items := published.Payload.Counts()
			appInstance.Logger().Info("draft published", zap.Int("groups", groups), zap.Int("items", items))
			return writeResult(cmd.OutOrStdout(), map[string]any{
				"ok":            true,
				"publishedAt":   published.PublishedAt,
				"draftSyncedAt": published.SyncedAt,
				"groups":        groups,
				"items":         items,
			})
		},
	}
}
