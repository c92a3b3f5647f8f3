/*
recalc.go - Invoice recalculation and cancellation

PURPOSE:
  Re-derives a Draft/Sent invoice's lines from the current facts for the same
  period. Existing lines are removed, their lessons un-flagged, and line
  building runs again - all inside one unit of work, so a failure leaves the
  invoice untouched. Recalculation is a correction, not a new document: the
  invoice keeps its id and number.

CANCELLATION:
  If the rebuild yields zero lines (all lessons removed or cancelled since),
  the invoice transitions to Cancelled with totals reset to zero rather than
  surviving as an empty invoice.
*/
package billing

import (
	"context"
	"errors"
)

// Recalculator rebuilds invoices from current facts.
type Recalculator struct {
	Store TxStore
}

func NewRecalculator(store TxStore) *Recalculator { return &Recalculator{Store: store} }

// Recalculate rebuilds the invoice's lines and totals for its own period.
// Fails with ErrInvoiceNotEditable for Paid or Cancelled invoices.
func (r *Recalculator) Recalculate(ctx context.Context, invoiceID InvoiceID) (*Invoice, error) {
	var invoice *Invoice
	err := r.Store.WithTx(ctx, func(s Store) error {
		var err error
		invoice, err = r.recalculateTx(ctx, s, invoiceID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

func (r *Recalculator) recalculateTx(ctx context.Context, s Store, invoiceID InvoiceID) (*Invoice, error) {
	invoice, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, notFound("invoice", string(invoiceID))
	}
	if !invoice.Editable() {
		return nil, ErrInvoiceNotEditable
	}
	if invoice.IsCredit {
		return nil, validation("credit invoice %s cannot be recalculated", invoice.Number)
	}

	settings, err := LoadSettings(ctx, s)
	if err != nil {
		return nil, err
	}

	// Release the currently billed lessons so line building can see them.
	lines, err := s.GetInvoiceLines(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	var lessonIDs []LessonID
	for _, line := range lines {
		if line.LessonID != "" {
			lessonIDs = append(lessonIDs, line.LessonID)
		}
	}
	if err := s.SetLessonsInvoiced(ctx, lessonIDs, false); err != nil {
		return nil, err
	}

	period := Period{Start: invoice.PeriodStart, End: invoice.PeriodEnd}
	batch, err := BuildLines(ctx, s, invoice.EnrollmentID, period, settings)

	switch {
	case errors.Is(err, ErrNoInvoiceableLessons):
		// Nothing remains to bill: cancel rather than keep an empty invoice.
		if err := s.ReplaceInvoiceLines(ctx, invoiceID, nil); err != nil {
			return nil, err
		}
		invoice.Subtotal = Zero
		invoice.VATAmount = Zero
		invoice.DiscountAmount = Zero
		invoice.Total = Zero
		invoice.Status = InvoiceCancelled
		invoice.RecomputeBalance()

	case err != nil:
		return nil, err

	default:
		for i := range batch.Lines {
			batch.Lines[i].InvoiceID = invoice.ID
		}
		if err := s.SetLessonsInvoiced(ctx, batch.LessonIDs, true); err != nil {
			return nil, err
		}
		if err := s.ReplaceInvoiceLines(ctx, invoiceID, batch.Lines); err != nil {
			return nil, err
		}

		invoice.Subtotal = batch.Subtotal
		invoice.VATAmount = RoundMoney(batch.Subtotal.Mul(settings.VATRate).Div(oneHundred))
		invoice.DiscountAmount = batch.DiscountAmount
		invoice.Total = invoice.Subtotal.Add(invoice.VATAmount).Sub(invoice.DiscountAmount)
		invoice.RecomputeBalance()
		if invoice.Balance.LessThanOrEqual(Zero) {
			invoice.Status = InvoicePaid
		}
	}

	if err := s.UpdateInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}
