package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"emvcli/internal/outbox"
	"emvcli/internal/sync"
	transporthttp "emvcli/internal/transport/http"
)

func newSyncCommand(app *appContext) *cobra.Command {
	var (
		outboxDir   string
		baseURL     string
		apiKey      string
		maxAttempts int
		timeout     time.Duration
		concurrency int
		storeDir    string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload pending outbox bundles to the license service",
		Long: "Walks the outbox and uploads every pending bundle with " +
			"bounded retries. Already-synced bundles are skipped, so " +
			"repeat invocations are safe. Exits non-zero when any bundle " +
			"ends up failed.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if baseURL == "" {
				baseURL = app.cfg.Sync.BaseURL
			}
			if baseURL == "" {
				return fmt.Errorf("--base-url or EMV_SYNC_BASE_URL is required")
			}
			if apiKey == "" {
				apiKey = app.cfg.Sync.APIKey
			}
			if maxAttempts == 0 {
				maxAttempts = app.cfg.Sync.MaxAttempts
			}
			if timeout == 0 {
				timeout = app.cfg.Sync.Timeout
			}
			if concurrency == 0 {
				concurrency = app.cfg.Sync.Concurrency
			}

			if _, err := loadVerifiedLicense(app, storeDir); err != nil {
				return err
			}

			dir := outboxDir
			if dir == "" {
				dir = app.paths.OutboxDir
			}
			ob, err := outbox.New(dir)
			if err != nil {
				return err
			}

			client := transporthttp.NewClient(baseURL, apiKey,
				transporthttp.WithMaxAttempts(maxAttempts),
				transporthttp.WithTimeout(timeout),
				transporthttp.WithClientLogger(app.logger),
			)
			engine := sync.NewEngine(ob, client,
				sync.WithConcurrency(concurrency),
				sync.WithUploadRate(app.cfg.Sync.UploadsPerSecond),
				sync.WithLogger(app.logger),
			)

			result, err := engine.SyncOutbox(cmd.Context())
			if err != nil {
				return err
			}
			if err := printJSON(result); err != nil {
				return err
			}
			if result.Failed > 0 {
				return &exitCodeError{code: 1, err: errors.New("sync finished with failed bundles")}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outboxDir, "outbox-dir", "", "outbox directory (default ~/.synerex_emv/outbox)")
	cmd.Flags().StringVar(&baseURL, "base-url", "", "license service base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "service API key")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "upload attempts per bundle (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-attempt HTTP timeout (default from config)")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel bundle uploads (default from config)")
	cmd.Flags().StringVar(&storeDir, "store-dir", "", "license store directory (default "+defaultStoreDirHelp+")")
	return cmd
}
