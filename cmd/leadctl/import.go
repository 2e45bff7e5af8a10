package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/raaihank/lead-sentinel/internal/config"
	"github.com/raaihank/lead-sentinel/internal/etl"
	"github.com/raaihank/lead-sentinel/internal/privacy"
	"github.com/raaihank/lead-sentinel/internal/upstream"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newImportCmd(a *app) *cobra.Command {
	var (
		workers   int
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Sanitize a CSV, JSON lines or Parquet export and store it upstream",
		Long: `Reads message_id, lead_id and content columns, redacts every message,
resolves each lead to its anonymous token and stores the sanitized message.
Failed records are counted and reported; they do not stop the import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := a.cfg.ETL
			if workers > 0 {
				cfg.WorkerCount = workers
			}
			if batchSize > 0 {
				cfg.BatchSize = batchSize
			}

			// content goes upstream as sanitized, so every category is redacted
			// whatever the privacy section says
			detector, err := privacy.New(config.PrivacyConfig{
				Enabled:   true,
				Detectors: []string{"all"},
			}, a.log.WithComponent("privacy"))
			if err != nil {
				return err
			}
			client := upstream.NewClient(a.cfg.Upstream, a.log, nil)
			pipeline := etl.NewPipeline(detector, client, nil, cfg, a.log.WithComponent("etl").Logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.log.Info("Importing", zap.String("file", args[0]), zap.String("upstream", a.cfg.Upstream.BaseURL))
			result, err := pipeline.ProcessFile(ctx, args[0])
			if result != nil {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if encErr := enc.Encode(result); encErr != nil {
					return encErr
				}
			}
			if err != nil {
				return err
			}
			if result.Failed > 0 {
				return fmt.Errorf("%d of %d records failed", result.Failed, result.TotalRecords)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "worker goroutines (default etl.worker_count)")
	cmd.Flags().IntVarP(&batchSize, "batch-size", "b", 0, "per-worker queue size (default etl.batch_size)")
	return cmd
}
