package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCurateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "curate",
		Short: "Rebuild the curated snapshot from the existing raw snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			report, err := appInstance.Recurate(cmd.Context())
			if err != nil {
				return fmt.Errorf("curate: %w", err)
			}
			appInstance.Logger().Info("curated snapshot rebuilt",
				zap.String("path", report.CuratedPath),
				zap.Int("kept", report.Summary.Kept),
			)
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
}
