package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/seantiz/servicedg/internal/config"
	"github.com/seantiz/servicedg/internal/metrics"
	"github.com/seantiz/servicedg/internal/store"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print the metrics rollup computed from the stored history",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			db, err := store.NewSQLiteStore(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()

			ctx := cmd.Context()
			history, err := db.ListHistory(ctx)
			if err != nil {
				return fmt.Errorf("list history: %w", err)
			}
			resets, err := db.ListResets(ctx)
			if err != nil {
				return fmt.Errorf("list resets: %w", err)
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(metrics.Compute(history, resets, time.Now()))
		},
	}
}
