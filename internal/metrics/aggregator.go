package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/seantiz/servicedg/internal/model"
)

var (
	operationsGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "servicedg_operations",
			Help: "Operations in the global history by outcome.",
		},
		[]string{"outcome"},
	)

	costGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "servicedg_cost_total",
		Help: "Sum of the cost of successful operations.",
	})

	viewersGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "servicedg_viewers_total",
		Help: "Sum of viewers requested by successful operations.",
	})

	successRateGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "servicedg_success_rate_percent",
		Help: "Share of successful operations in the global history.",
	})

	resetsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "servicedg_resets",
		Help: "Number of block resets recorded.",
	})
)

func init() {
	prometheus.MustRegister(operationsGauge)
	prometheus.MustRegister(costGauge)
	prometheus.MustRegister(viewersGauge)
	prometheus.MustRegister(successRateGauge)
	prometheus.MustRegister(resetsGauge)
}

// Source reads the durable logs the aggregator scans.
type Source interface {
	ListHistory(ctx context.Context) ([]model.HistoryEntry, error)
	ListResets(ctx context.Context) ([]model.ResetRecord, error)
}

// Aggregator recomputes the snapshot on a fixed cadence and caches it
// between polls.
type Aggregator struct {
	src      Source
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	cached *Snapshot

	cron *cron.Cron
}

// NewAggregator creates an aggregator over src polling every interval.
func NewAggregator(src Source, interval time.Duration, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		src:      src,
		interval: interval,
		logger:   logger,
		now:      time.Now,
	}
}

// Start schedules the recompute job. Call Stop to end it.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cron != nil {
		return
	}
	a.cron = cron.New()
	a.cron.Schedule(cron.Every(a.interval), cron.FuncJob(func() {
		if _, err := a.Refresh(context.Background()); err != nil {
			a.logger.Error("recompute metrics", "error", err)
		}
	}))
	a.cron.Start()
}

// Stop halts polling and waits for a running recompute to finish.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	c := a.cron
	a.cron = nil
	a.mu.Unlock()
	if c == nil {
		return nil
	}
	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the cached snapshot, computing one when the cache is empty.
func (a *Aggregator) Snapshot(ctx context.Context) (Snapshot, error) {
	a.mu.Lock()
	cached := a.cached
	a.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}
	return a.Refresh(ctx)
}

// Refresh recomputes the snapshot from the logs and publishes the gauges.
func (a *Aggregator) Refresh(ctx context.Context) (Snapshot, error) {
	history, err := a.src.ListHistory(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list history: %w", err)
	}
	resets, err := a.src.ListResets(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("list resets: %w", err)
	}

	s := Compute(history, resets, a.now())

	a.mu.Lock()
	a.cached = &s
	a.mu.Unlock()

	publish(s)
	return s, nil
}

// Invalidate drops the cached snapshot so the next read recomputes.
func (a *Aggregator) Invalidate() {
	a.mu.Lock()
	a.cached = nil
	a.mu.Unlock()
}

func publish(s Snapshot) {
	operationsGauge.WithLabelValues(model.OutcomeSuccess).Set(float64(s.SuccessfulOperations))
	operationsGauge.WithLabelValues(model.OutcomeError).Set(float64(s.FailedOperations))
	costGauge.Set(s.TotalCost)
	viewersGauge.Set(float64(s.TotalViewers))
	successRateGauge.Set(s.SuccessRate)
	resetsGauge.Set(float64(s.Resets.Count))
}
