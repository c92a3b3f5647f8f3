/*
generate.go - Invoice generation (single enrollment and batch)

PURPOSE:
  Turns the invoiceable lessons of an enrollment/period into a priced
  invoice. Generation for one enrollment is a single unit of work: the
  duplicate-period check, line building, lesson flagging, optional ledger
  application, invoice-number allocation and the insert all commit or roll
  back together. No lesson can be billed twice: the is_invoiced flag is set
  in the same transaction that writes the line billing it, and the storage
  layer's period uniqueness constraint backs the pre-check under concurrency.

BATCH:
  Batch generation opens one unit of work per enrollment, not one for the
  whole batch. Enrollments with nothing to bill are counted as skips; any
  other per-enrollment failure is recorded and does not abort the siblings.

SEE ALSO:
  - lines.go:  lesson selection and pricing
  - ledger.go: applyOpenEntries
  - run.go:    the orchestrator wrapping GenerateBatch in an audit record
*/
package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Generator produces invoices from enrollments and lessons.
type Generator struct {
	Store TxStore

	// Now is the clock used for issue dates; overridable in tests.
	Now func() time.Time
}

func NewGenerator(store TxStore) *Generator {
	return &Generator{Store: store, Now: time.Now}
}

// =============================================================================
// SINGLE ENROLLMENT
// =============================================================================

// Generate creates the invoice for one enrollment and period.
// When applyCorrections is true the student's open ledger entries are applied
// (oldest first) up to the invoice total before the status is decided.
func (g *Generator) Generate(ctx context.Context, enrollmentID EnrollmentID, period Period, periodType PeriodType, applyCorrections bool) (*Invoice, error) {
	var invoice *Invoice
	err := g.Store.WithTx(ctx, func(s Store) error {
		var err error
		invoice, err = g.generateTx(ctx, s, enrollmentID, period, periodType, applyCorrections)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (g *Generator) generateTx(ctx context.Context, s Store, enrollmentID EnrollmentID, period Period, periodType PeriodType, applyCorrections bool) (*Invoice, error) {
	settings, err := LoadSettings(ctx, s)
	if err != nil {
		return nil, err
	}

	enrollment, err := s.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, notFound("enrollment", string(enrollmentID))
	}

	// Duplicate-period guard. The storage layer's unique constraint is the
	// authoritative check; this pre-check produces the better error.
	exists, err := s.HasInvoiceForPeriod(ctx, enrollment.StudentID, enrollmentID, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &DuplicatePeriodError{
			StudentID:    enrollment.StudentID,
			EnrollmentID: enrollmentID,
			PeriodStart:  period.Start,
			PeriodEnd:    period.End,
		}
	}

	batch, err := BuildLines(ctx, s, enrollmentID, period, settings)
	if err != nil {
		return nil, err
	}

	vatAmount := RoundMoney(batch.Subtotal.Mul(settings.VATRate).Div(oneHundred))
	total := batch.Subtotal.Add(vatAmount).Sub(batch.DiscountAmount)

	issueDate := g.Now().UTC().Truncate(24 * time.Hour)
	dueDate := issueDate.AddDate(0, 0, settings.PaymentDueDays)

	invoice := &Invoice{
		ID:             InvoiceID(uuid.NewString()),
		StudentID:      enrollment.StudentID,
		EnrollmentID:   enrollmentID,
		IssueDate:      &issueDate,
		DueDate:        &dueDate,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		Description:    PeriodLabel(periodType, period),
		Subtotal:       batch.Subtotal,
		VATAmount:      vatAmount,
		DiscountAmount: batch.DiscountAmount,
		Total:          total,
		AmountPaid:     Zero,
		CreditsApplied: Zero,
		DebitsApplied:  Zero,
		Status:         InvoiceDraft,
	}
	invoice.RecomputeBalance()

	if applyCorrections {
		if err := applyOpenEntries(ctx, s, invoice); err != nil {
			return nil, err
		}
	}
	markPaidIfSettled(invoice)

	for i := range batch.Lines {
		batch.Lines[i].InvoiceID = invoice.ID
	}

	// Billed lessons are flagged atomically with the invoice insert; the
	// number is allocated inside the same transaction at commit time.
	if err := s.SetLessonsInvoiced(ctx, batch.LessonIDs, true); err != nil {
		return nil, err
	}
	if err := s.InsertInvoice(ctx, invoice, batch.Lines); err != nil {
		return nil, err
	}

	return invoice, nil
}

// =============================================================================
// BATCH
// =============================================================================

// BatchResult reports per-enrollment outcomes of one batch generation.
type BatchResult struct {
	Invoices  []*Invoice
	Processed int
	Skipped   int
	Failed    int
	Errors    map[EnrollmentID]error
}

// TotalAmount sums the generated invoice totals.
func (r *BatchResult) TotalAmount() Money {
	total := Zero
	for _, inv := range r.Invoices {
		total = total.Add(inv.Total)
	}
	return total
}

// GenerateBatch generates invoices for all active enrollments whose
// invoicing preference matches periodType. Failures are isolated per
// enrollment; ErrNoInvoiceableLessons counts as a skip.
func (g *Generator) GenerateBatch(ctx context.Context, period Period, periodType PeriodType, applyCorrections bool) (*BatchResult, error) {
	enrollments, err := g.Store.ListActiveEnrollments(ctx, periodType)
	if err != nil {
		return nil, err
	}

	result := &BatchResult{
		Processed: len(enrollments),
		Errors:    make(map[EnrollmentID]error),
	}

	for _, enrollment := range enrollments {
		invoice, err := g.Generate(ctx, enrollment.ID, period, periodType, applyCorrections)
		switch {
		case err == nil:
			result.Invoices = append(result.Invoices, invoice)
		case isSkip(err):
			result.Skipped++
		default:
			result.Failed++
			result.Errors[enrollment.ID] = err
		}
	}

	return result, nil
}

func isSkip(err error) bool {
	return errors.Is(err, ErrNoInvoiceableLessons)
}
