package billing

import (
	"context"
	"time"
)

// =============================================================================
// INVOICE SERVICE - Status transitions and detail fetches
// =============================================================================

// Invoices handles the document-level operations that are not generation,
// recalculation or crediting: sending, payment recording, and detail fetch.
type Invoices struct {
	Store TxStore

	Now func() time.Time
}

func NewInvoices(store TxStore) *Invoices {
	return &Invoices{Store: store, Now: time.Now}
}

// InvoiceDetail is an invoice with its lines and the school billing identity.
type InvoiceDetail struct {
	Invoice *Invoice
	Lines   []InvoiceLine
	School  *SchoolProfile
}

// Get returns the invoice with lines and billing contact.
func (i *Invoices) Get(ctx context.Context, id InvoiceID) (*InvoiceDetail, error) {
	invoice, err := i.Store.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, notFound("invoice", string(id))
	}

	lines, err := i.Store.GetInvoiceLines(ctx, id)
	if err != nil {
		return nil, err
	}

	school, err := i.Store.GetSchoolProfile(ctx)
	if err != nil {
		return nil, err
	}

	return &InvoiceDetail{Invoice: invoice, Lines: lines, School: school}, nil
}

// Send transitions a Draft invoice to Sent, stamping issue and due dates
// from the payment-due-days setting. Lines become immutable from here on.
func (i *Invoices) Send(ctx context.Context, id InvoiceID) (*Invoice, error) {
	var invoice *Invoice
	err := i.Store.WithTx(ctx, func(s Store) error {
		var err error
		invoice, err = s.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return notFound("invoice", string(id))
		}
		if invoice.Status != InvoiceDraft {
			return ErrInvoiceNotEditable
		}

		settings, err := LoadSettings(ctx, s)
		if err != nil {
			return err
		}

		issueDate := i.Now().UTC().Truncate(24 * time.Hour)
		dueDate := issueDate.AddDate(0, 0, settings.PaymentDueDays)
		invoice.IssueDate = &issueDate
		invoice.DueDate = &dueDate
		invoice.Status = InvoiceSent
		return s.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}

// RecordPayment raises amountPaid by the given amount and flips the invoice
// to Paid when the balance reaches zero. Only sent (or already paid, for
// late overpayments) invoices take payments; drafts must be sent first.
func (i *Invoices) RecordPayment(ctx context.Context, id InvoiceID, amount Money) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, validation("payment amount must be positive")
	}

	var invoice *Invoice
	err := i.Store.WithTx(ctx, func(s Store) error {
		var err error
		invoice, err = s.GetInvoice(ctx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return notFound("invoice", string(id))
		}
		if invoice.Status != InvoiceSent && invoice.Status != InvoicePaid {
			return ErrInvoiceNotEditable
		}

		invoice.AmountPaid = invoice.AmountPaid.Add(amount)
		invoice.RecomputeBalance()
		if invoice.Balance.LessThanOrEqual(Zero) {
			invoice.Status = InvoicePaid
		}
		return s.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}
	return invoice, nil
}
