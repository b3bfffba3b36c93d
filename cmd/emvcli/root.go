package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"emvcli/internal/config"
	"emvcli/internal/infrastructure"
)

// appContext bundles the pieces every subcommand needs.
type appContext struct {
	cfg    *config.Config
	paths  *config.Paths
	logger *slog.Logger
	closer io.Closer
}

func newRootCommand() *cobra.Command {
	var app appContext

	root := &cobra.Command{
		Use:           "emvcli",
		Short:         "Field client for license verification and baseline sealing/sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			paths, err := config.GetPaths()
			if err != nil {
				return err
			}
			logger, closer, err := infrastructure.NewLogger(cfg.Logging)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			app = appContext{cfg: cfg, paths: paths, logger: logger, closer: closer}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if app.closer != nil {
				app.closer.Close()
			}
		},
	}

	root.AddCommand(
		newPrintFingerprintCommand(&app),
		newVerifyLicenseCommand(&app),
		newInstallLicenseCommand(&app),
		newCreateDraftCommand(&app),
		newOutboxCommand(&app),
		newSyncCommand(&app),
		newSelftestCommand(&app),
	)
	return root
}

// printJSON writes the command result to stdout. Stdout carries only
// the JSON result; diagnostics go to the logger.
func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	_, err = fmt.Fprintln(os.Stdout, string(data))
	return err
}
