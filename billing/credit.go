/*
credit.go - Credit invoices and credit-balance application

PURPOSE:
  A credit invoice reverses some or all lines of a previously sent invoice.
  Its lines are the exact negation of the selected originals (unit price and
  line total negated, VAT rate kept positive) and it carries back-references
  to the original document. Confirmation books the reversal as an open
  ledger Credit for the absolute total, tied to both invoices for audit.

CREDIT BALANCE:
  A student whose signed ledger balance is negative is in credit. That
  credit can pay down a different open, non-credit invoice: the application
  books a fully-applied Debit (consuming the credit) and raises the target
  invoice's amountPaid, flipping it to Paid when its balance reaches zero.

UNSUPPORTED:
  A credit invoice cannot itself be credited (no credit-of-a-credit).
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// CreditEngine creates and confirms credit invoices and applies credit balances.
type CreditEngine struct {
	Store TxStore

	Now func() time.Time
}

func NewCreditEngine(store TxStore) *CreditEngine {
	return &CreditEngine{Store: store, Now: time.Now}
}

// =============================================================================
// CREATE
// =============================================================================

// CreateCreditInvoice builds a Draft credit invoice reversing the selected
// lines of a Sent/Paid invoice.
func (c *CreditEngine) CreateCreditInvoice(ctx context.Context, originalID InvoiceID, selectedLineIDs []LineID) (*Invoice, error) {
	if len(selectedLineIDs) == 0 {
		return nil, validation("no invoice lines selected")
	}

	var credit *Invoice
	err := c.Store.WithTx(ctx, func(s Store) error {
		original, err := s.GetInvoice(ctx, originalID)
		if err != nil {
			return err
		}
		if original == nil {
			return notFound("invoice", string(originalID))
		}
		if original.IsCredit {
			return ErrInvalidCreditTarget
		}
		if original.Status != InvoiceSent && original.Status != InvoicePaid {
			return ErrInvalidCreditTarget
		}

		lines, err := s.GetInvoiceLines(ctx, originalID)
		if err != nil {
			return err
		}
		byID := make(map[LineID]InvoiceLine, len(lines))
		for _, line := range lines {
			byID[line.ID] = line
		}

		subtotal, vatAmount, discount := Zero, Zero, Zero
		var creditLines []InvoiceLine
		seen := make(map[LineID]bool, len(selectedLineIDs))
		for _, id := range selectedLineIDs {
			if seen[id] {
				return validation("invoice line %s selected twice", id)
			}
			seen[id] = true

			line, ok := byID[id]
			if !ok {
				return notFound("invoice line", string(id))
			}

			lineVAT := RoundMoney(line.LineTotal.Mul(line.VATRate).Div(oneHundred))
			subtotal = subtotal.Sub(line.LineTotal)
			vatAmount = vatAmount.Sub(lineVAT)
			discount = discount.Sub(line.DiscountAmount)

			creditLines = append(creditLines, InvoiceLine{
				ID:             LineID(uuid.NewString()),
				LessonID:       line.LessonID,
				Description:    line.Description,
				Quantity:       line.Quantity,
				UnitPrice:      line.UnitPrice.Neg(),
				VATRate:        line.VATRate, // kept positive
				DiscountAmount: line.DiscountAmount.Neg(),
				LineTotal:      line.LineTotal.Neg(),
			})
		}

		credit = &Invoice{
			ID:                    InvoiceID(uuid.NewString()),
			StudentID:             original.StudentID,
			EnrollmentID:          original.EnrollmentID,
			PeriodStart:           original.PeriodStart,
			PeriodEnd:             original.PeriodEnd,
			Description:           "credit " + original.Number,
			Subtotal:              subtotal,
			VATAmount:             vatAmount,
			DiscountAmount:        discount,
			Total:                 subtotal.Add(vatAmount).Sub(discount),
			AmountPaid:            Zero,
			CreditsApplied:        Zero,
			DebitsApplied:         Zero,
			Status:                InvoiceDraft,
			IsCredit:              true,
			OriginalInvoiceID:     original.ID,
			OriginalInvoiceNumber: original.Number,
		}
		credit.RecomputeBalance()

		for i := range creditLines {
			creditLines[i].InvoiceID = credit.ID
		}
		return s.InsertInvoice(ctx, credit, creditLines)
	})
	if err != nil {
		return nil, err
	}
	return credit, nil
}

// =============================================================================
// CONFIRM
// =============================================================================

// ConfirmCreditInvoice transitions a Draft credit invoice to Sent and books
// an open ledger Credit for the absolute value of its total.
func (c *CreditEngine) ConfirmCreditInvoice(ctx context.Context, creditID InvoiceID) (*Invoice, *LedgerEntry, error) {
	var (
		credit *Invoice
		entry  *LedgerEntry
	)

	err := c.Store.WithTx(ctx, func(s Store) error {
		var err error
		credit, err = s.GetInvoice(ctx, creditID)
		if err != nil {
			return err
		}
		if credit == nil {
			return notFound("invoice", string(creditID))
		}
		if !credit.IsCredit {
			return validation("invoice %s is not a credit invoice", credit.Number)
		}
		if credit.Status != InvoiceDraft {
			return ErrInvoiceNotEditable
		}

		issueDate := c.Now().UTC().Truncate(24 * time.Hour)
		credit.IssueDate = &issueDate
		credit.Status = InvoiceSent
		if err := s.UpdateInvoice(ctx, credit); err != nil {
			return err
		}

		entry = &LedgerEntry{
			ID:            EntryID(uuid.NewString()),
			StudentID:     credit.StudentID,
			Type:          EntryCredit,
			Amount:        credit.Total.Abs(),
			AppliedAmount: Zero,
			Status:        EntryOpen,
			Reason:        fmt.Sprintf("credit invoice %s for %s", credit.Number, credit.OriginalInvoiceNumber),
			InvoiceID:     credit.ID,
			SourceType:    SourceCreditInvoice,
		}
		return s.InsertLedgerEntry(ctx, entry)
	})
	if err != nil {
		return nil, nil, err
	}
	return credit, entry, nil
}

// =============================================================================
// CREDIT BALANCE APPLICATION
// =============================================================================

// ApplyCreditBalance pays down an open invoice from the student's existing
// credit balance. Fails if the student holds no credit, if amount exceeds
// the available credit, or if amount exceeds the invoice's remaining balance.
func (c *CreditEngine) ApplyCreditBalance(ctx context.Context, invoiceID InvoiceID, amount Money) (*Invoice, error) {
	if !amount.IsPositive() {
		return nil, validation("amount must be positive")
	}

	var invoice *Invoice
	err := c.Store.WithTx(ctx, func(s Store) error {
		var err error
		invoice, err = s.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return notFound("invoice", string(invoiceID))
		}
		if invoice.IsCredit {
			return ErrInvalidCreditTarget
		}
		if invoice.Status == InvoiceCancelled || invoice.Status == InvoicePaid {
			return ErrInvoiceNotEditable
		}

		balance, err := studentBalance(ctx, s, invoice.StudentID)
		if err != nil {
			return err
		}
		if balance.GreaterThanOrEqual(Zero) {
			return validation("student %s has no credit balance", invoice.StudentID)
		}
		if available := balance.Neg(); amount.GreaterThan(available) {
			return &CorrectionError{Requested: amount, Limit: available, Kind: ErrCorrectionExceedsAvailable}
		}
		if amount.GreaterThan(invoice.Balance) {
			return &CorrectionError{Requested: amount, Limit: invoice.Balance, Kind: ErrCorrectionExceedsBalance}
		}

		// A debit consumes the credit; the invoice itself is paid down via
		// amountPaid so the ledger stays the source of truth for the net
		// position.
		entry := &LedgerEntry{
			ID:            EntryID(uuid.NewString()),
			StudentID:     invoice.StudentID,
			Type:          EntryDebit,
			Amount:        amount,
			AppliedAmount: amount,
			Status:        EntryFullyApplied,
			Reason:        fmt.Sprintf("credit balance applied to %s", invoice.Number),
			InvoiceID:     invoice.ID,
			SourceType:    SourceCreditApplication,
		}
		if err := s.InsertLedgerEntry(ctx, entry); err != nil {
			return err
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
