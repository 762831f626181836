package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/servicedg/internal/config"
	"github.com/seantiz/servicedg/internal/history"
	"github.com/seantiz/servicedg/internal/model"
	"github.com/seantiz/servicedg/internal/notify"
	"github.com/seantiz/servicedg/internal/report"
	"github.com/seantiz/servicedg/internal/smm"
	"github.com/seantiz/servicedg/internal/store"
)

// targetLinkKey persists the global target link.
const targetLinkKey = "settings:target_link"

// Defaults applied by New for zero Options fields.
const (
	DefaultBlockCount      = 10
	DefaultProviderTimeout = 30 * time.Second
	DefaultStatusPoll      = 60 * time.Second
	DefaultSnapshotMaxAge  = 7 * 24 * time.Hour
)

// Invalidator drops a cached computation.
type Invalidator interface {
	Invalidate()
}

// Options configures an Orchestrator. Store and Provisioner are required.
type Options struct {
	Store       store.Store
	Provisioner smm.Provisioner
	History     history.Recorder
	Notifier    notify.Notifier
	Metrics     Invalidator
	Logger      *slog.Logger

	// Blocks sets the title and config of the first blocks. Remaining
	// blocks get a default title and config.
	Blocks     []config.BlockConfig
	BlockCount int

	// Unit is the length of one interval minute. Tests shorten it.
	Unit            time.Duration
	ProviderTimeout time.Duration
	StatusPoll      time.Duration
	SnapshotMaxAge  time.Duration
	Axis            report.Axis
	Now             func() time.Time
}

// Orchestrator owns a fixed set of blocks and the state shared between them.
type Orchestrator struct {
	rt      *runtime
	store   store.Store
	metrics Invalidator
	logger  *slog.Logger
	broker  *Broker

	blocks []*Block
	byID   map[string]*Block

	mu         sync.RWMutex
	targetLink string

	totalViewers atomic.Int64
	wg           sync.WaitGroup
	closed       atomic.Bool
}

// New creates the orchestrator, restores every block snapshot and arms the
// scheduled auto-starts.
func New(ctx context.Context, opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Provisioner == nil {
		return nil, errors.New("provisioner is required")
	}
	applyOptionDefaults(&opts)

	o := &Orchestrator{
		store:   opts.Store,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		broker:  NewBroker(),
		byID:    make(map[string]*Block, opts.BlockCount),
	}

	var link string
	if _, err := opts.Store.Load(ctx, targetLinkKey, &link); err != nil && !errors.Is(err, store.ErrNotFound) {
		o.logger.Warn("load target link", "error", err)
	}
	o.targetLink = link

	o.rt = &runtime{
		store:           opts.Store,
		prov:            opts.Provisioner,
		history:         opts.History,
		notifier:        opts.Notifier,
		poller:          newStatusPoller(opts.Provisioner, opts.StatusPoll, opts.ProviderTimeout, opts.Logger),
		logger:          opts.Logger,
		unit:            opts.Unit,
		providerTimeout: opts.ProviderTimeout,
		now:             opts.Now,
		axis:            opts.Axis,
		targetLink:      o.TargetLink,
		changed:         o.blockChanged,
		closed:          o.closed.Load,
		wg:              &o.wg,
	}

	for i := range opts.BlockCount {
		id := fmt.Sprintf("block-%d", i+1)
		title := fmt.Sprintf("Block %d", i+1)
		cfg := model.DefaultBlockConfig()
		if i < len(opts.Blocks) {
			if opts.Blocks[i].Title != "" {
				title = opts.Blocks[i].Title
			}
			if opts.Blocks[i].Config != (model.BlockConfig{}) {
				cfg = opts.Blocks[i].Config
			}
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}

		b := newBlock(id, title, cfg, o.rt)
		b.load(ctx, opts.SnapshotMaxAge)
		o.blocks = append(o.blocks, b)
		o.byID[id] = b
	}

	for _, b := range o.blocks {
		b.mu.Lock()
		b.armAutoStartLocked()
		b.mu.Unlock()
	}
	o.recomputeTotal()

	o.logger.Info("orchestrator ready", "blocks", len(o.blocks), "target_link_set", link != "")
	return o, nil
}

func applyOptionDefaults(opts *Options) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.History == nil {
		opts.History = history.Nop{}
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.NoopNotifier{}
	}
	if opts.BlockCount <= 0 {
		opts.BlockCount = DefaultBlockCount
	}
	if opts.Unit <= 0 {
		opts.Unit = time.Minute
	}
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = DefaultProviderTimeout
	}
	if opts.StatusPoll <= 0 {
		opts.StatusPoll = DefaultStatusPoll
	}
	if opts.SnapshotMaxAge <= 0 {
		opts.SnapshotMaxAge = DefaultSnapshotMaxAge
	}
	if opts.Axis.Bucket <= 0 {
		opts.Axis = report.DefaultAxis()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
}

// Handle returns the block with the given id.
func (o *Orchestrator) Handle(blockID string) (*Block, error) {
	b, ok := o.byID[blockID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, blockID)
	}
	return b, nil
}

// Blocks returns every block handle in id order.
func (o *Orchestrator) Blocks() []*Block {
	return append([]*Block(nil), o.blocks...)
}

// Snapshots returns a copy of every block's state.
func (o *Orchestrator) Snapshots() []model.Block {
	out := make([]model.Block, 0, len(o.blocks))
	for _, b := range o.blocks {
		out = append(out, b.Snapshot())
	}
	return out
}

// Broker returns the event broker for streaming subscriptions.
func (o *Orchestrator) Broker() *Broker {
	return o.broker
}

// TotalViewers returns the sum of every block's accumulated viewers.
func (o *Orchestrator) TotalViewers() int {
	return int(o.totalViewers.Load())
}

// TargetLink returns the stream link every block orders viewers for.
func (o *Orchestrator) TargetLink() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.targetLink
}

// SetTargetLink stores the stream link. Blocks waiting on an empty link pick
// it up on their next tick.
func (o *Orchestrator) SetTargetLink(ctx context.Context, link string) error {
	if err := o.store.Save(ctx, targetLinkKey, link); err != nil {
		return fmt.Errorf("save target link: %w", err)
	}
	o.mu.Lock()
	o.targetLink = link
	o.mu.Unlock()
	o.logger.Info("target link updated", "target_link_set", link != "")
	return nil
}

// Report returns the last report generated for blockID.
func (o *Orchestrator) Report(ctx context.Context, blockID string) (*report.Report, error) {
	if _, err := o.Handle(blockID); err != nil {
		return nil, err
	}
	return LoadReport(ctx, o.store, blockID)
}

// LoadReport reads the last report stored for blockID. It needs no running
// orchestrator, so offline tools can export reports.
func LoadReport(ctx context.Context, s store.Store, blockID string) (*report.Report, error) {
	var r report.Report
	if _, err := s.Load(ctx, reportKey(blockID), &r); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNoReport, blockID)
		}
		return nil, fmt.Errorf("load report: %w", err)
	}
	return &r, nil
}

// ResetAll resets every block, purges the global history log and drops
// cached metrics. Reset records are kept as the audit trail.
func (o *Orchestrator) ResetAll(ctx context.Context) error {
	var errs []error
	for _, b := range o.blocks {
		if err := b.Reset(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b.ID(), err))
		}
	}
	if err := o.store.PurgeHistory(ctx); err != nil {
		errs = append(errs, fmt.Errorf("purge history: %w", err))
	}
	if o.metrics != nil {
		o.metrics.Invalidate()
	}

	o.logger.Info("all blocks reset", "blocks", len(o.blocks))
	o.broker.Publish(AllBlocks, Event{Type: EventResetAll, TotalViewers: o.TotalViewers(), At: o.rt.now().UTC()})
	return errors.Join(errs...)
}

// blockChanged re-aggregates the viewer total and publishes the block's new
// state. Each block is locked on its own, never two at once.
func (o *Orchestrator) blockChanged(blockID string) {
	total := o.recomputeTotal()
	if o.closed.Load() {
		return
	}
	b := o.byID[blockID]
	snap := b.Snapshot()
	now := o.rt.now().UTC()
	o.broker.Publish(blockID, Event{Type: EventBlock, BlockID: blockID, Block: &snap, TotalViewers: total, At: now})
	o.broker.Publish(AllBlocks, Event{Type: EventTotalViewers, TotalViewers: total, At: now})
}

func (o *Orchestrator) recomputeTotal() int {
	total := 0
	for _, b := range o.blocks {
		total += b.TotalViewers()
	}
	o.totalViewers.Store(int64(total))
	return total
}

// Closed reports whether Shutdown has been called.
func (o *Orchestrator) Closed() bool {
	return o.closed.Load()
}

// Shutdown stops every run loop, auto-start timer and status poll, then
// waits for in-flight operations to settle or ctx to expire. Persisted
// snapshots are left as they are.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	if !o.closed.CompareAndSwap(false, true) {
		return nil
	}
	for _, b := range o.blocks {
		b.shutdown()
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if perr := o.rt.poller.Stop(ctx); perr != nil && err == nil {
		err = perr
	}

	topics := make([]string, 0, len(o.blocks)+1)
	for _, b := range o.blocks {
		topics = append(topics, b.ID())
	}
	o.broker.CloseAll(append(topics, AllBlocks)...)

	o.logger.Info("orchestrator stopped")
	return err
}
