package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/seantiz/servicedg/internal/smm"
)

// statusApplier records a polled order status and reports whether polling
// should continue.
type statusApplier func(status string) bool

// statusPoller checks the status of placed orders on a fixed cadence, one
// cron entry per order.
type statusPoller struct {
	prov     smm.Provisioner
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	cron *cron.Cron

	mu   sync.Mutex
	jobs map[string]*statusJob // by order id
}

type statusJob struct {
	entry   cron.EntryID
	blockID string
	apply   statusApplier
}

func newStatusPoller(prov smm.Provisioner, interval, timeout time.Duration, logger *slog.Logger) *statusPoller {
	p := &statusPoller{
		prov:     prov,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		jobs:     make(map[string]*statusJob),
	}
	p.cron.Start()
	return p
}

// Watch starts polling orderID on behalf of blockID.
func (p *statusPoller) Watch(blockID, orderID string, apply statusApplier) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.jobs[orderID]; ok {
		return
	}
	job := &statusJob{blockID: blockID, apply: apply}
	job.entry = p.cron.Schedule(cron.Every(p.interval), cron.FuncJob(func() {
		p.poll(orderID)
	}))
	p.jobs[orderID] = job
}

// Forget stops every poll owned by blockID.
func (p *statusPoller) Forget(blockID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for orderID, job := range p.jobs {
		if job.blockID == blockID {
			p.cron.Remove(job.entry)
			delete(p.jobs, orderID)
		}
	}
}

// Pending returns the number of orders still being polled.
func (p *statusPoller) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// poll checks one order and stops its job once the status is terminal or
// the owning block no longer wants updates.
func (p *statusPoller) poll(orderID string) {
	p.mu.Lock()
	job, ok := p.jobs[orderID]
	p.mu.Unlock()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	status, err := p.prov.CheckOrderStatus(ctx, orderID)
	if err != nil {
		p.logger.Debug("check order status", "order_id", orderID, "block_id", job.blockID, "error", err)
		return
	}

	keep := job.apply(status)
	if keep && !smm.IsTerminalStatus(status) {
		return
	}

	p.mu.Lock()
	if cur, ok := p.jobs[orderID]; ok && cur == job {
		p.cron.Remove(job.entry)
		delete(p.jobs, orderID)
	}
	p.mu.Unlock()
}

// Stop halts every poll and waits for running checks to return.
func (p *statusPoller) Stop(ctx context.Context) error {
	select {
	case <-p.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
