// Package cmd defines the CLI commands for the userdir executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/userdir-pipeline/internal/app"
	"github.com/JakeFAU/userdir-pipeline/internal/catalog"
	"github.com/JakeFAU/userdir-pipeline/internal/config"
	"github.com/JakeFAU/userdir-pipeline/internal/logging"
	"github.com/JakeFAU/userdir-pipeline/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application container.
type App interface {
	Close()
	Logger() *zap.Logger
	Run(ctx context.Context) (pipeline.Report, error)
	Recurate(ctx context.Context) (pipeline.Report, error)
	Catalog() *catalog.Service
}

// newApp is the application factory. It is a variable so tests can replace it.
var newApp = func(ctx context.Context, cfgFile string) (App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "userdir",
		Short: "Acquire, curate and query a snapshot of an upstream user directory.",
		Long: `userdir crawls a paginated user-directory API, enriches every listing
entry with its detail record, writes a raw snapshot, and derives a curated
snapshot of users with a biography, an avatar and a recent creation date.`,
		SilenceUsage: true,

		// Builds the application once per invocation and hands it to the subcommand.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newCurateCmd())
	cmd.AddCommand(newLookupCmd())
	cmd.AddCommand(newSearchCmd())
	return cmd
}

// Execute is the main entry point.
func Execute() {
	root := newRootCmd()
	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
