/*
scheduler.go - Automatic monthly batch scheduler

PURPOSE:
  Periodically checks whether the previous calendar month has been invoiced
  and runs the monthly batch for it when it has not. Every outcome is
  recorded as an invoice run, so the scheduler is idempotent: a month that
  already has a non-failed run is skipped, and re-running a month cannot
  double-bill because generation rejects duplicate periods per enrollment.

DESIGN:
  - Background goroutine on a configurable ticker
  - Only the previous month is considered; older gaps are an operator task
  - Corrections (open ledger entries) are applied during scheduled runs

USAGE:
  scheduler := NewBatchScheduler(handler.Runner)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: the manual POST /api/runs endpoint
  - cmd/server/main.go: startup wiring
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/cadenza/billing-engine/billing"
)

// BatchScheduler runs the monthly invoice batch for months that have no run yet.
type BatchScheduler struct {
	Runner        *billing.Runner
	CheckInterval time.Duration
	InitiatedBy   string

	// Now is the clock used to find the previous month; overridable in tests.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBatchScheduler creates a scheduler with a 6 hour check interval.
func NewBatchScheduler(runner *billing.Runner) *BatchScheduler {
	return &BatchScheduler{
		Runner:        runner,
		CheckInterval: 6 * time.Hour,
		InitiatedBy:   "scheduler",
		Now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start begins the background check loop.
func (bs *BatchScheduler) Start() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	bs.ticker = time.NewTicker(bs.CheckInterval)
	bs.wg.Add(1)
	go bs.run()

	log.Printf("[Scheduler] Started with check interval: %v", bs.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight check to finish.
func (bs *BatchScheduler) Stop() {
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if bs.ticker != nil {
		bs.ticker.Stop()
		close(bs.stop)
		bs.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (bs *BatchScheduler) run() {
	defer bs.wg.Done()

	// Run immediately on start
	bs.CheckAndRun(context.Background())

	for {
		select {
		case <-bs.ticker.C:
			bs.CheckAndRun(context.Background())
		case <-bs.stop:
			return
		}
	}
}

// CheckAndRun invoices the previous month unless a run for it already exists.
// Exported so tests and admin tooling can trigger a check directly.
func (bs *BatchScheduler) CheckAndRun(ctx context.Context) {
	now := bs.Now().UTC()
	previous := billing.MonthPeriod(now.Year(), now.Month()).Start.AddDate(0, -1, 0)
	period := billing.MonthPeriod(previous.Year(), previous.Month())

	done, err := bs.hasRunFor(ctx, period)
	if err != nil {
		log.Printf("[Scheduler] Error checking run history: %v", err)
		return
	}
	if done {
		return
	}

	run, err := bs.Runner.RunBatch(ctx, period, billing.PeriodMonthly, true, bs.InitiatedBy)
	if err != nil {
		log.Printf("[Scheduler] Error persisting run record: %v", err)
		return
	}

	BatchRuns.WithLabelValues(string(run.Status)).Inc()
	InvoicesGenerated.WithLabelValues("invoice").Add(float64(run.InvoicesGenerated))
	log.Printf("[Scheduler] %s run for %s: %d invoices, %d skipped, %d failed",
		run.Status, billing.PeriodLabel(billing.PeriodMonthly, period),
		run.InvoicesGenerated, run.Skipped, run.Failed)
}

// hasRunFor reports whether a non-failed run already covers the period.
// Runs come back newest first, so the recent pages are enough: the scheduler
// only ever asks about the previous month.
func (bs *BatchScheduler) hasRunFor(ctx context.Context, period billing.Period) (bool, error) {
	page, err := bs.Runner.History(ctx, 1, 50)
	if err != nil {
		return false, err
	}
	for _, run := range page.Runs {
		if run.Status == billing.RunFailed {
			continue
		}
		if run.PeriodStart.Equal(period.Start) && run.PeriodEnd.Equal(period.End) {
			return true, nil
		}
	}
	return false, nil
}
