package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/pipeline"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Crawl the upstream directory and write the raw and curated snapshots",
		Long: `Walks the upstream listing from the configured seed cursor until the target
number of users is buffered, then writes the raw snapshot, curates it and
writes the curated snapshot. Configured sinks (blob mirror, Postgres,
Pub/Sub) are fed afterwards. An aborted crawl writes nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			report, err := appInstance.Run(ctx)
			if err != nil {
				appInstance.Logger().Error("run failed", zap.String("run_id", report.RunID), zap.Error(err))
				return fmt.Errorf("run: %w", err)
			}
			appInstance.Logger().Info("run finished",
				zap.String("run_id", report.RunID),
				zap.Int("kept", report.Summary.Kept),
			)
			return writeReport(cmd.OutOrStdout(), report)
		},
	}
}

func writeReport(w io.Writer, report pipeline.Report) error {
	return writeJSON(w, report)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
