// mocksmm serves a fake SMM reseller panel speaking the API v2 protocol, for
// local runs and end-to-end tests.
// Usage: go run ./cmd/mocksmm --addr :8090 --fail-every 5
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/seantiz/servicedg/internal/config"
)

func main() {
	var (
		addr      string
		failEvery int
		complete  time.Duration
		logLevel  string
	)
	rootCmd := &cobra.Command{
		Use:   "mocksmm",
		Short: "Fake SMM panel for local runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("parse log level: %w", err)
			}
			logger := config.NewLogger(os.Stdout, level)
			panel := newPanel(failEvery, complete, time.Now)

			r := chi.NewRouter()
			r.Use(middleware.Recoverer)
			r.Post("/api/v2", panel.ServeHTTP)

			logger.Info("mocksmm listening", "addr", addr, "fail_every", failEvery, "complete_after", complete)
			srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		},
	}
	rootCmd.Flags().StringVar(&addr, "addr", ":8090", "Listen address")
	rootCmd.Flags().IntVar(&failEvery, "fail-every", 0, "Reject every Nth order (0 never fails)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.Flags().DurationVar(&complete, "complete-after", 2*time.Minute, "Time after which an order reports Completed")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
