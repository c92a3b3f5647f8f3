/*
run.go - Batch run orchestration

PURPOSE:
  Wraps batch invoice generation in an auditable run record. Every
  invocation, success or failure, persists exactly one InvoiceRun row with
  the outcome classification; nothing propagates past this boundary, so
  scheduled jobs always terminate with a result instead of a crash.

CLASSIFICATION:
  Failed          the batch call itself died before producing a result
  PartialSuccess  at least one enrollment matched but fewer invoices than
                  enrollments came out (skips and failures both count)
  Success         everything that matched produced an invoice (or nothing
                  matched at all)
*/
package billing

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
)

// Runner orchestrates batch generation and records run outcomes.
type Runner struct {
	Store     TxStore
	Generator *Generator

	Now func() time.Time
}

func NewRunner(store TxStore, generator *Generator) *Runner {
	return &Runner{Store: store, Generator: generator, Now: time.Now}
}

// RunBatch executes batch generation for the period and persists the run
// record. It never returns a generation error: failures are folded into the
// returned run's status and error message.
func (r *Runner) RunBatch(ctx context.Context, period Period, periodType PeriodType, applyCorrections bool, initiatedBy string) (*InvoiceRun, error) {
	start := r.Now()

	run := &InvoiceRun{
		ID:          RunID(uuid.NewString()),
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		PeriodType:  periodType,
		TotalAmount: Zero,
		InitiatedBy: initiatedBy,
	}

	result, genErr := r.generate(ctx, period, periodType, applyCorrections)

	run.DurationMs = r.Now().Sub(start).Milliseconds()

	if genErr != nil {
		run.Status = RunFailed
		run.ErrorMessage = genErr.Error()
	} else {
		run.EnrollmentsProcessed = result.Processed
		run.InvoicesGenerated = len(result.Invoices)
		run.Skipped = result.Skipped
		run.Failed = result.Failed
		run.TotalAmount = result.TotalAmount()

		switch {
		case result.Processed > 0 && len(result.Invoices) < result.Processed:
			run.Status = RunPartialSuccess
		default:
			run.Status = RunSuccess
		}
		if result.Failed > 0 {
			run.ErrorMessage = firstError(result)
		}
	}

	if err := r.Store.InsertInvoiceRun(ctx, run); err != nil {
		// The run record is the caller's only window into the outcome; a
		// persistence failure here is the one error worth surfacing.
		return run, err
	}
	return run, nil
}

// generate invokes batch generation, converting panics into errors so the
// run record always captures the outcome.
func (r *Runner) generate(ctx context.Context, period Period, periodType PeriodType, applyCorrections bool) (result *BatchResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("billing: batch run panic: %v", rec)
			result, err = nil, fmt.Errorf("batch generation panicked: %v", rec)
		}
	}()
	return r.Generator.GenerateBatch(ctx, period, periodType, applyCorrections)
}

func firstError(result *BatchResult) string {
	for id, err := range result.Errors {
		return fmt.Sprintf("enrollment %s: %v", id, err)
	}
	return ""
}

// =============================================================================
// RUN HISTORY
// =============================================================================

// RunPage is one page of run history, newest first.
type RunPage struct {
	Runs     []InvoiceRun
	Page     int
	PageSize int
	Total    int
}

const (
	defaultRunPageSize = 5
	maxRunPageSize     = 50
)

// History returns paginated run records. Page is clamped to >= 1 and
// pageSize to [1, 50] with a default of 5.
func (r *Runner) History(ctx context.Context, page, pageSize int) (*RunPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultRunPageSize
	}
	if pageSize > maxRunPageSize {
		pageSize = maxRunPageSize
	}

	runs, total, err := r.Store.ListInvoiceRuns(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, err
	}
	return &RunPage{Runs: runs, Page: page, PageSize: pageSize, Total: total}, nil
}
