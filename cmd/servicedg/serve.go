package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/servicedg/internal/api"
	"github.com/seantiz/servicedg/internal/config"
	"github.com/seantiz/servicedg/internal/engine"
	"github.com/seantiz/servicedg/internal/history"
	"github.com/seantiz/servicedg/internal/metrics"
	"github.com/seantiz/servicedg/internal/notify"
	"github.com/seantiz/servicedg/internal/report"
	"github.com/seantiz/servicedg/internal/smm"
	"github.com/seantiz/servicedg/internal/store"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the block orchestrator",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("servicedg: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"blocks", cfg.Engine.BlockCount,
	)

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	axis, err := report.AxisFromConfig(cfg.Report)
	if err != nil {
		return fmt.Errorf("report axis: %w", err)
	}
	notifier, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	agg := metrics.NewAggregator(db, cfg.Engine.MetricsPollInterval(), logger)
	orch, err := engine.New(ctx, engine.Options{
		Store:           db,
		Provisioner:     smm.NewClient(cfg.Provider, logger),
		History:         history.NewClient(cfg.History, logger),
		Notifier:        notifier,
		Metrics:         agg,
		Logger:          logger,
		Blocks:          cfg.Blocks,
		BlockCount:      cfg.Engine.BlockCount,
		ProviderTimeout: cfg.Provider.Timeout(),
		StatusPoll:      cfg.Engine.StatusPollInterval(),
		SnapshotMaxAge:  cfg.Engine.SnapshotMaxAge(),
		Axis:            axis,
	})
	if err != nil {
		return fmt.Errorf("start orchestrator: %w", err)
	}
	agg.Start()

	srv := api.NewServer(cfg.ListenAddr, db, orch, agg, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(orch.Shutdown(shutdownCtx), agg.Stop(shutdownCtx))
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("servicedg: stopped")
	return nil
}

// buildNotifier fans completion notifications out to every configured
// channel.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if cfg.SlackWebhook != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(cfg.SlackWebhook))
	}
	if cfg.Email.Enabled {
		email, err := notify.NewEmailNotifier(cfg.Email)
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		notifiers = append(notifiers, email)
	}

	multi := notify.NewMultiNotifier(notifiers...)
	logger.Info("notifications configured", "channels", multi.Len())
	return multi, nil
}
