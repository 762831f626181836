package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/servicedg/internal/history"
	"github.com/seantiz/servicedg/internal/model"
	"github.com/seantiz/servicedg/internal/notify"
	"github.com/seantiz/servicedg/internal/report"
	"github.com/seantiz/servicedg/internal/smm"
	"github.com/seantiz/servicedg/internal/store"
)

var (
	// ErrUnknownBlock is returned for a block id the orchestrator does not own.
	ErrUnknownBlock = errors.New("unknown block")

	// ErrBlockRunning is returned when a config edit targets a running block.
	ErrBlockRunning = errors.New("block is running")

	// ErrNoReport is returned when a block has not produced a report yet.
	ErrNoReport = errors.New("no report for block")

	// ErrShutdown is returned when a block is started after shutdown.
	ErrShutdown = errors.New("orchestrator is shut down")
)

func blockKey(id string) string  { return "block:" + id }
func reportKey(id string) string { return "report:" + id }

// runtime is the collaborator set shared by every block of an orchestrator.
type runtime struct {
	store           store.Store
	prov            smm.Provisioner
	history         history.Recorder
	notifier        notify.Notifier
	poller          *statusPoller
	logger          *slog.Logger
	unit            time.Duration
	providerTimeout time.Duration
	now             func() time.Time
	axis            report.Axis

	targetLink func() string
	changed    func(blockID string)
	closed     func() bool

	// wg tracks run loops and best-effort background sends.
	wg *sync.WaitGroup
}

// Block is the handle of one independently scheduled operation sequence.
// All methods are safe for concurrent use.
type Block struct {
	id string
	rt *runtime

	mu    sync.Mutex
	state model.Block

	// gen identifies the current run loop. Arming a loop or stopping it bumps
	// gen so that a loop from an earlier Start exits at its next tick.
	gen    uint64
	cancel context.CancelFunc

	// epoch identifies the current run data. Reset bumps it so provider
	// results that arrive afterwards never touch the cleared block.
	epoch uint64

	// inflight is set while a provider call is outstanding. Ticks are
	// skipped until it clears.
	inflight bool

	autoTimer *time.Timer
	autoGen   uint64
}

func newBlock(id, title string, cfg model.BlockConfig, rt *runtime) *Block {
	return &Block{
		id: id,
		rt: rt,
		state: model.Block{
			ID:               id,
			Title:            title,
			Config:           cfg,
			LastEditedConfig: cfg,
			RunState:         model.StateIdle,
		},
	}
}

// ID returns the block id.
func (b *Block) ID() string {
	return b.id
}

// Snapshot returns a copy of the block state.
func (b *Block) Snapshot() model.Block {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Block) snapshotLocked() model.Block {
	s := b.state
	s.OperationLog = append([]model.OperationResult(nil), b.state.OperationLog...)
	if b.state.StartedAt != nil {
		t := *b.state.StartedAt
		s.StartedAt = &t
	}
	if b.state.CompletedAt != nil {
		t := *b.state.CompletedAt
		s.CompletedAt = &t
	}
	return s
}

// TotalViewers returns the block's accumulated successful viewers.
func (b *Block) TotalViewers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.TotalViewersAccumulated
}

// Start moves the block to Running, fires one tick immediately and then
// ticks every interval.
func (b *Block) Start(ctx context.Context) error {
	return b.run(ctx, "start")
}

// Resume restarts a paused block. It ticks immediately rather than waiting
// for the next interval boundary.
func (b *Block) Resume(ctx context.Context) error {
	b.mu.Lock()
	state := b.state.RunState
	b.mu.Unlock()
	if state != model.StatePaused {
		return fmt.Errorf("%w: resume from %s", model.ErrInvalidTransition, state)
	}
	return b.run(ctx, "resume")
}

func (b *Block) run(ctx context.Context, action string) error {
	if b.rt.closed() {
		return ErrShutdown
	}
	b.mu.Lock()
	from := b.state.RunState
	if !model.ValidTransition(from, model.StateRunning) {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s from %s", model.ErrInvalidTransition, action, from)
	}

	b.disarmAutoStartLocked()
	b.state.RunState = model.StateRunning
	if b.state.StartedAt == nil {
		now := b.rt.now().UTC()
		b.state.StartedAt = &now
	}
	b.persistLocked(ctx)
	b.armLocked()
	b.mu.Unlock()

	b.rt.logger.Info("block "+action, "block_id", b.id, "from", from)
	b.rt.changed(b.id)
	return nil
}

// Pause stops the run loop of a running block.
func (b *Block) Pause(ctx context.Context) error {
	b.mu.Lock()
	if b.state.RunState != model.StateRunning {
		state := b.state.RunState
		b.mu.Unlock()
		return fmt.Errorf("%w: pause from %s", model.ErrInvalidTransition, state)
	}
	b.stopLoopLocked()
	b.state.RunState = model.StatePaused
	b.persistLocked(ctx)
	b.mu.Unlock()

	b.rt.logger.Info("block paused", "block_id", b.id)
	b.rt.changed(b.id)
	return nil
}

// Finalize forces the block to Completed and generates its report. It is a
// no-op on a completed block. On an idle block it only disarms auto-start.
func (b *Block) Finalize(ctx context.Context) error {
	b.mu.Lock()
	b.disarmAutoStartLocked()
	switch b.state.RunState {
	case model.StateCompleted, model.StateIdle:
		b.mu.Unlock()
		return nil
	}
	b.stopLoopLocked()
	n := b.completeLocked(ctx)
	b.mu.Unlock()

	b.rt.logger.Info("block finalized", "block_id", b.id)
	b.sendNotification(n)
	b.rt.changed(b.id)
	return nil
}

// Reset writes a reset record for the discarded work, stops every timer and
// poll of the block and returns it to Idle with its last edited config.
// Reset applies from any state.
func (b *Block) Reset(ctx context.Context) error {
	b.mu.Lock()
	b.disarmAutoStartLocked()
	b.stopLoopLocked()
	b.epoch++
	// A result still in flight belongs to the old epoch and is dropped by record.
	b.inflight = false

	var resetErr error
	if b.state.RunState != model.StateIdle || len(b.state.OperationLog) > 0 || b.state.CurrentOperationIndex > 0 {
		ops, viewers := b.state.SuccessTotals()
		resetAt := b.rt.now().UTC()
		rec := model.ResetRecord{
			ID:                     model.NewIDAt(resetAt),
			BlockID:                b.id,
			BlockTitle:             b.state.Title,
			ResetAt:                resetAt,
			OperationsLost:         ops,
			ViewersLost:            viewers,
			TotalOperationsAtReset: b.state.CurrentOperationIndex,
		}
		if err := b.rt.store.AppendReset(ctx, rec); err != nil {
			resetErr = fmt.Errorf("append reset record: %w", err)
		}
	}

	b.state = model.Block{
		ID:               b.id,
		Title:            b.state.Title,
		Config:           b.state.LastEditedConfig,
		LastEditedConfig: b.state.LastEditedConfig,
		RunState:         model.StateIdle,
	}
	if err := b.rt.store.Delete(ctx, blockKey(b.id)); err != nil {
		b.rt.logger.Error("delete block snapshot", "block_id", b.id, "error", err)
	}
	b.mu.Unlock()

	b.rt.poller.Forget(b.id)
	b.rt.logger.Info("block reset", "block_id", b.id)
	b.rt.changed(b.id)
	return resetErr
}

// Edit replaces the block config. Running blocks must be paused first, and a
// paused block cannot shrink its run to the operations already placed. On a
// completed block the edit only becomes the config that Reset restores.
// Otherwise accepted configs update both the live and the last edited config.
func (b *Block) Edit(ctx context.Context, cfg model.BlockConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	switch b.state.RunState {
	case model.StateRunning:
		b.mu.Unlock()
		return ErrBlockRunning
	case model.StatePaused:
		if done := b.state.CurrentOperationIndex; done > 0 && cfg.TotalOperations <= done {
			b.mu.Unlock()
			return &model.ValidationError{
				Field:  "total_operations",
				Reason: fmt.Sprintf("must be greater than the %d operations already placed", done),
			}
		}
	}
	if b.state.RunState != model.StateCompleted {
		b.state.Config = cfg
	}
	b.state.LastEditedConfig = cfg
	b.persistLocked(ctx)
	b.armAutoStartLocked()
	b.mu.Unlock()

	b.rt.logger.Info("block config edited", "block_id", b.id)
	b.rt.changed(b.id)
	return nil
}

// Rename changes the display title.
func (b *Block) Rename(ctx context.Context, title string) error {
	if title == "" {
		return &model.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	b.mu.Lock()
	b.state.Title = title
	b.persistLocked(ctx)
	b.mu.Unlock()

	b.rt.changed(b.id)
	return nil
}

// armLocked replaces any previous run loop with a fresh one.
func (b *Block) armLocked() {
	b.stopLoopLocked()

	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	gen := b.gen
	interval := b.state.Config.Interval(b.rt.unit)

	b.rt.wg.Go(func() {
		b.loop(ctx, gen, interval)
	})
}

// stopLoopLocked cancels the current run loop, if any.
func (b *Block) stopLoopLocked() {
	b.gen++
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *Block) loop(ctx context.Context, gen uint64, interval time.Duration) {
	if !b.tick(ctx, gen) {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !b.tick(ctx, gen) {
				return
			}
			// A tick that fell due while this one was in flight is skipped.
			select {
			case <-ticker.C:
			default:
			}
		}
	}
}

// tick performs one operation. It returns false once the loop should exit.
func (b *Block) tick(ctx context.Context, gen uint64) bool {
	b.mu.Lock()
	if b.gen != gen || ctx.Err() != nil || b.state.RunState != model.StateRunning {
		b.mu.Unlock()
		return false
	}
	if b.inflight {
		b.mu.Unlock()
		b.rt.logger.Warn("previous operation still in flight, skipping tick", "block_id", b.id)
		return true
	}
	link := b.rt.targetLink()
	if link == "" {
		b.mu.Unlock()
		b.rt.logger.Debug("no target link configured, waiting", "block_id", b.id)
		return true
	}

	cfg := b.state.Config
	index := b.state.CurrentOperationIndex
	epoch := b.epoch
	b.inflight = true
	b.mu.Unlock()

	count := cfg.RequestedCount(index)
	startedAt := b.rt.now().UTC()

	// Pausing must not abandon an order that is already being placed.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.rt.providerTimeout)
	order, err := b.rt.prov.PlaceOrder(callCtx, cfg.ServiceDurationID, count, link)
	cancel()

	result := model.OperationResult{
		Index:             index,
		RequestedCount:    count,
		ServiceDurationID: cfg.ServiceDurationID,
		StartedAt:         startedAt,
	}
	if err != nil {
		result.Outcome = model.OutcomeError
		result.Error = err.Error()
	} else {
		minutes, _ := model.DurationMinutes(cfg.ServiceDurationID)
		end := startedAt.Add(time.Duration(minutes) * time.Minute)
		result.Outcome = model.OutcomeSuccess
		result.OrderID = order.OrderID
		result.OrderStatus = order.Status
		result.Cost = order.Cost
		result.ServiceDurationMinutes = minutes
		result.EstimatedEndAt = &end
	}

	return b.record(result, epoch)
}

// record applies a provider result to the block and the global history log.
func (b *Block) record(result model.OperationResult, epoch uint64) bool {
	ctx := context.Background()

	b.mu.Lock()
	if b.epoch == epoch {
		b.inflight = false
	}

	entry := model.HistoryEntry{
		ID:              model.NewIDAt(result.StartedAt),
		BlockID:         b.id,
		BlockTitle:      b.state.Title,
		SavedAt:         b.rt.now().UTC(),
		OperationResult: result,
	}
	if err := b.rt.store.AppendHistory(ctx, entry); err != nil {
		b.rt.logger.Error("append history entry", "block_id", b.id, "error", err)
	}
	b.sendHistory(entry)

	if b.epoch != epoch || b.state.RunState == model.StateCompleted {
		// The block was reset or finalized while the order was being placed.
		// The order is real, so it stays in the global history only.
		b.mu.Unlock()
		b.rt.logger.Warn("operation result arrived after reset or finalize",
			"block_id", b.id,
			"operation_index", result.Index,
			"order_id", result.OrderID,
		)
		return false
	}

	b.state.OperationLog = append(b.state.OperationLog, result)
	b.state.CurrentOperationIndex++
	if result.Succeeded() {
		b.state.TotalViewersAccumulated += result.RequestedCount
	}

	var n *notify.Notification
	done := b.state.CurrentOperationIndex >= b.state.Config.TotalOperations
	if done {
		b.stopLoopLocked()
		n = b.completeLocked(ctx)
	} else {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	if result.Succeeded() {
		b.rt.logger.Info("operation succeeded",
			"block_id", b.id,
			"operation_index", result.Index,
			"order_id", result.OrderID,
			"requested_count", result.RequestedCount,
		)
		b.watchOrder(result.OrderID, epoch)
	} else {
		b.rt.logger.Warn("operation failed",
			"block_id", b.id,
			"operation_index", result.Index,
			"error", result.Error,
		)
	}

	b.sendNotification(n)
	b.rt.changed(b.id)
	return !done
}

// completeLocked moves the block to Completed, persists it and stores the
// run's report. It returns the completion notification to send.
func (b *Block) completeLocked(ctx context.Context) *notify.Notification {
	now := b.rt.now().UTC()
	b.state.RunState = model.StateCompleted
	b.state.CompletedAt = &now
	b.persistLocked(ctx)

	snap := b.snapshotLocked()
	r := report.Build(&snap, b.rt.axis, now)
	if err := b.rt.store.Save(ctx, reportKey(b.id), r); err != nil {
		b.rt.logger.Error("save report", "block_id", b.id, "error", err)
	}

	b.rt.logger.Info("block completed",
		"block_id", b.id,
		"operations", r.Totals.Operations,
		"successful", r.Totals.Successful,
		"viewers", r.Totals.Viewers,
	)

	level := notify.LevelSuccess
	if r.Totals.Failed > 0 {
		level = notify.LevelWarning
	}
	return &notify.Notification{
		Title: fmt.Sprintf("%s completed", b.state.Title),
		Message: fmt.Sprintf("%d of %d operations succeeded, %d viewers, cost %.2f",
			r.Totals.Successful, r.Totals.Operations, r.Totals.Viewers, r.Totals.Cost),
		Level:   level,
		BlockID: b.id,
	}
}

func (b *Block) persistLocked(ctx context.Context) {
	b.state.SavedAt = b.rt.now().UTC()
	if err := b.rt.store.Save(ctx, blockKey(b.id), b.state); err != nil {
		b.rt.logger.Error("persist block snapshot", "block_id", b.id, "error", err)
	}
}

func (b *Block) watchOrder(orderID string, epoch uint64) {
	if orderID == "" {
		return
	}
	b.rt.poller.Watch(b.id, orderID, func(status string) bool {
		return b.applyOrderStatus(epoch, orderID, status)
	})
}

// applyOrderStatus back-fills status on the logged result for orderID. It
// returns false once the block was reset and polling should stop.
func (b *Block) applyOrderStatus(epoch uint64, orderID, status string) bool {
	ctx := context.Background()

	b.mu.Lock()
	if b.epoch != epoch {
		b.mu.Unlock()
		return false
	}
	changed := false
	for i := range b.state.OperationLog {
		op := &b.state.OperationLog[i]
		if op.OrderID == orderID && op.OrderStatus != status {
			op.OrderStatus = status
			changed = true
		}
	}
	if changed {
		b.persistLocked(ctx)
	}
	b.mu.Unlock()

	if !changed {
		return true
	}
	if err := b.rt.store.UpdateHistoryOrderStatus(ctx, orderID, status); err != nil && !errors.Is(err, store.ErrNotFound) {
		b.rt.logger.Error("update history order status", "order_id", orderID, "error", err)
	}
	b.rt.logger.Debug("order status updated", "block_id", b.id, "order_id", orderID, "status", status)
	b.rt.changed(b.id)
	return true
}

func (b *Block) sendHistory(entry model.HistoryEntry) {
	b.rt.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.rt.providerTimeout)
		defer cancel()
		b.rt.history.Record(ctx, entry)
	})
}

func (b *Block) sendNotification(n *notify.Notification) {
	if n == nil {
		return
	}
	b.rt.wg.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), b.rt.providerTimeout)
		defer cancel()
		if err := b.rt.notifier.Send(ctx, *n); err != nil {
			b.rt.logger.Warn("send completion notification", "block_id", b.id, "error", err)
		}
	})
}

// armAutoStartLocked schedules a one-shot start at today's scheduled clock
// time. A time that has already passed today is not rolled over.
func (b *Block) armAutoStartLocked() {
	b.disarmAutoStartLocked()

	cfg := b.state.Config
	if !cfg.AutoStart || cfg.ScheduledStartTime == "" || b.state.RunState != model.StateIdle {
		return
	}
	clock, err := model.ParseClock(cfg.ScheduledStartTime)
	if err != nil {
		b.rt.logger.Warn("invalid scheduled start time", "block_id", b.id, "error", err)
		return
	}

	now := b.rt.now()
	at := clock.On(now)
	if !at.After(now) {
		b.rt.logger.Warn("scheduled start time already passed today, auto-start not armed",
			"block_id", b.id,
			"scheduled_start_time", cfg.ScheduledStartTime,
		)
		return
	}

	gen := b.autoGen
	b.autoTimer = time.AfterFunc(at.Sub(now), func() {
		b.fireAutoStart(gen)
	})
	b.rt.logger.Info("auto-start armed", "block_id", b.id, "at", at)
}

func (b *Block) disarmAutoStartLocked() {
	b.autoGen++
	if b.autoTimer != nil {
		b.autoTimer.Stop()
		b.autoTimer = nil
	}
}

// AutoStartArmed reports whether a scheduled start is pending.
func (b *Block) AutoStartArmed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoTimer != nil
}

func (b *Block) fireAutoStart(gen uint64) {
	b.mu.Lock()
	if b.autoGen != gen || b.state.RunState != model.StateIdle {
		b.mu.Unlock()
		return
	}
	b.autoTimer = nil
	b.mu.Unlock()

	if err := b.Start(context.Background()); err != nil {
		b.rt.logger.Warn("auto-start", "block_id", b.id, "error", err)
	}
}

// load restores the persisted snapshot. Missing, corrupt and stale
// snapshots leave the block Idle. A snapshot saved while Running comes back
// Paused with no loop armed.
func (b *Block) load(ctx context.Context, maxAge time.Duration) {
	var snap model.Block
	savedAt, err := b.rt.store.Load(ctx, blockKey(b.id), &snap)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case errors.Is(err, store.ErrCorrupt):
		b.rt.logger.Warn("discarding corrupt block snapshot", "block_id", b.id, "error", err)
		b.discardSnapshot(ctx)
		return
	case err != nil:
		b.rt.logger.Error("load block snapshot", "block_id", b.id, "error", err)
		return
	}

	// SavedAt is stamped with the engine clock; the store's time is a fallback
	// for snapshots written without it.
	if !snap.SavedAt.IsZero() {
		savedAt = snap.SavedAt
	}
	if maxAge > 0 && b.rt.now().Sub(savedAt) > maxAge {
		b.rt.logger.Info("discarding stale block snapshot", "block_id", b.id, "saved_at", savedAt)
		b.discardSnapshot(ctx)
		return
	}

	b.mu.Lock()
	snap.ID = b.id
	if snap.Title == "" {
		snap.Title = b.state.Title
	}
	if snap.LastEditedConfig == (model.BlockConfig{}) {
		snap.LastEditedConfig = snap.Config
	}
	if snap.Config.Validate() != nil {
		b.mu.Unlock()
		b.rt.logger.Warn("discarding block snapshot with invalid config", "block_id", b.id)
		b.discardSnapshot(ctx)
		return
	}
	b.state = snap

	if b.state.RunState == model.StateRunning {
		b.state.RunState = model.StatePaused
		b.rt.logger.Info("block was running at shutdown, restored as paused", "block_id", b.id)
		b.persistLocked(ctx)
	}

	var open []string
	for _, op := range b.state.OperationLog {
		if op.Succeeded() && !smm.IsTerminalStatus(op.OrderStatus) {
			open = append(open, op.OrderID)
		}
	}
	epoch := b.epoch
	b.mu.Unlock()

	// Orders placed before the restart keep being polled until the block is reset.
	for _, orderID := range open {
		b.watchOrder(orderID, epoch)
	}
}

func (b *Block) discardSnapshot(ctx context.Context) {
	if err := b.rt.store.Delete(ctx, blockKey(b.id)); err != nil {
		b.rt.logger.Error("delete block snapshot", "block_id", b.id, "error", err)
	}
}

// shutdown stops the run loop and the auto-start timer without touching
// the persisted state.
func (b *Block) shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disarmAutoStartLocked()
	b.stopLoopLocked()
}
