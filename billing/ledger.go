/*
ledger.go - Student ledger lifecycle and the application algorithm

PURPOSE:
  The ledger is the auditable money trail per student. Entries are credits or
  debits with a positive amount; the student's running balance is derived by
  summing signed entries, never stored as a mutable counter. Entries are
  created by manual correction, credit-invoice confirmation, credit-balance
  application, or reversal - and mutated only by the application algorithm,
  which moves AppliedAmount and Status forward.

APPLICATION ALGORITHM (applyEntry):
  Preconditions: the invoice is editable, the entry belongs to the invoice's
  student, the requested amount fits both the entry's available amount and
  (for credits) the invoice's remaining balance. Effect: the entry's applied
  amount grows by the requested amount; credits reduce the invoice balance,
  debits increase it. Status is decided by the caller once all applications
  are through: a debit behind a fully covering credit must still apply, so
  the Paid flip cannot happen mid-sequence.

CORRECTIONS:
  Mistakes are never edited. A reversal appends an offsetting entry of the
  opposite type referencing the original; both remain in the ledger.

SEE ALSO:
  - generate.go: applies open entries during generation
  - credit.go:   books credit-invoice and credit-application entries
*/
package billing

import (
	"context"

	"github.com/google/uuid"
)

// Ledger owns the ledger-entry lifecycle.
type Ledger struct {
	Store TxStore
}

func NewLedger(store TxStore) *Ledger { return &Ledger{Store: store} }

// =============================================================================
// BALANCE
// =============================================================================

// StudentBalance returns the signed net position: sum(debits) - sum(credits).
// Negative means the student is in credit.
func (l *Ledger) StudentBalance(ctx context.Context, studentID StudentID) (Money, error) {
	return studentBalance(ctx, l.Store, studentID)
}

func studentBalance(ctx context.Context, s Store, studentID StudentID) (Money, error) {
	entries, err := s.ListLedgerEntries(ctx, studentID)
	if err != nil {
		return Zero, err
	}
	balance := Zero
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	return balance, nil
}

// =============================================================================
// MANUAL CORRECTIONS
// =============================================================================

// CreateCorrection records a manual credit or debit with a mandatory reason.
// When invoiceID is non-empty the correction is applied to that invoice in
// the same unit of work.
func (l *Ledger) CreateCorrection(ctx context.Context, studentID StudentID, entryType EntryType, amount Money, reason string, invoiceID InvoiceID) (*LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, validation("correction amount must be positive")
	}
	if reason == "" {
		return nil, validation("correction reason is required")
	}
	if entryType != EntryCredit && entryType != EntryDebit {
		return nil, validation("unknown entry type %q", entryType)
	}

	entry := &LedgerEntry{
		ID:            EntryID(uuid.NewString()),
		StudentID:     studentID,
		Type:          entryType,
		Amount:        amount,
		AppliedAmount: Zero,
		Status:        EntryOpen,
		Reason:        reason,
		SourceType:    SourceManualCorrection,
	}

	err := l.Store.WithTx(ctx, func(s Store) error {
		student, err := s.GetStudent(ctx, studentID)
		if err != nil {
			return err
		}
		if student == nil {
			return notFound("student", string(studentID))
		}

		if err := s.InsertLedgerEntry(ctx, entry); err != nil {
			return err
		}

		if invoiceID == "" {
			return nil
		}

		invoice, err := s.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return notFound("invoice", string(invoiceID))
		}

		requested := amount
		if entryType == EntryCredit && invoice.Balance.LessThan(requested) {
			requested = invoice.Balance
		}
		if !requested.IsPositive() {
			return nil
		}
		if err := applyEntry(ctx, s, entry, invoice, requested); err != nil {
			return err
		}
		markPaidIfSettled(invoice)
		return s.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// =============================================================================
// APPLICATION
// =============================================================================

// ApplyEntry applies part or all of a ledger entry to an invoice.
func (l *Ledger) ApplyEntry(ctx context.Context, entryID EntryID, invoiceID InvoiceID, amount Money) (*LedgerEntry, *Invoice, error) {
	var (
		entry   *LedgerEntry
		invoice *Invoice
	)

	err := l.Store.WithTx(ctx, func(s Store) error {
		var err error
		entry, err = s.GetLedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if entry == nil {
			return notFound("ledger entry", string(entryID))
		}

		invoice, err = s.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return notFound("invoice", string(invoiceID))
		}

		if err := applyEntry(ctx, s, entry, invoice, amount); err != nil {
			return err
		}
		markPaidIfSettled(invoice)
		return s.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return nil, nil, err
	}
	return entry, invoice, nil
}

// applyEntry is the shared core used by generation, manual application and
// credit-balance application. It mutates entry and invoice in place and
// persists the entry's application state; the caller persists the invoice.
func applyEntry(ctx context.Context, s Store, entry *LedgerEntry, invoice *Invoice, requested Money) error {
	if !requested.IsPositive() {
		return validation("application amount must be positive")
	}
	if !invoice.Editable() {
		return ErrInvoiceNotEditable
	}
	if entry.StudentID != invoice.StudentID {
		return ErrCrossStudentEntry
	}
	if available := entry.Available(); requested.GreaterThan(available) {
		return &CorrectionError{EntryID: entry.ID, Requested: requested, Limit: available, Kind: ErrCorrectionExceedsAvailable}
	}
	if entry.Type == EntryCredit && requested.GreaterThan(invoice.Balance) {
		return &CorrectionError{EntryID: entry.ID, Requested: requested, Limit: invoice.Balance, Kind: ErrCorrectionExceedsBalance}
	}

	entry.AppliedAmount = entry.AppliedAmount.Add(requested)
	if entry.AppliedAmount.Equal(entry.Amount) {
		entry.Status = EntryFullyApplied
	} else {
		entry.Status = EntryPartiallyApplied
	}

	if entry.Type == EntryCredit {
		invoice.CreditsApplied = invoice.CreditsApplied.Add(requested)
	} else {
		invoice.DebitsApplied = invoice.DebitsApplied.Add(requested)
	}
	invoice.RecomputeBalance()

	return s.UpdateLedgerEntryApplication(ctx, entry.ID, entry.AppliedAmount, entry.Status)
}

// markPaidIfSettled flips the invoice to Paid once its balance reaches zero.
// Called after the last application in a unit of work, never between two.
func markPaidIfSettled(invoice *Invoice) {
	if invoice.Balance.LessThanOrEqual(Zero) {
		invoice.Status = InvoicePaid
	}
}

// applyOpenEntries pulls the student's open entries oldest-first and applies
// them to the invoice. Credits are capped at the remaining balance; debits
// apply in full. Used by invoice generation.
func applyOpenEntries(ctx context.Context, s Store, invoice *Invoice) error {
	entries, err := s.ListOpenLedgerEntries(ctx, invoice.StudentID)
	if err != nil {
		return err
	}

	for i := range entries {
		entry := &entries[i]
		requested := entry.Available()
		if entry.Type == EntryCredit {
			if invoice.Balance.LessThanOrEqual(Zero) {
				continue
			}
			if requested.GreaterThan(invoice.Balance) {
				requested = invoice.Balance
			}
		}
		if !requested.IsPositive() {
			continue
		}
		if err := applyEntry(ctx, s, entry, invoice, requested); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// REVERSAL
// =============================================================================

// Reverse appends an offsetting entry of the opposite type for the same
// amount. The original entry is never mutated; reversing twice is rejected.
func (l *Ledger) Reverse(ctx context.Context, entryID EntryID, reason string) (*LedgerEntry, error) {
	if reason == "" {
		return nil, validation("reversal reason is required")
	}

	var reversal *LedgerEntry
	err := l.Store.WithTx(ctx, func(s Store) error {
		original, err := s.GetLedgerEntry(ctx, entryID)
		if err != nil {
			return err
		}
		if original == nil {
			return notFound("ledger entry", string(entryID))
		}

		reversed, err := s.HasReversal(ctx, entryID)
		if err != nil {
			return err
		}
		if reversed {
			return validation("ledger entry %s is already reversed", entryID)
		}

		opposite := EntryCredit
		if original.Type == EntryCredit {
			opposite = EntryDebit
		}

		reversal = &LedgerEntry{
			ID:            EntryID(uuid.NewString()),
			StudentID:     original.StudentID,
			Type:          opposite,
			Amount:        original.Amount,
			AppliedAmount: Zero,
			Status:        EntryOpen,
			Reason:        reason,
			InvoiceID:     original.InvoiceID,
			SourceType:    SourceReversal,
			ReferenceID:   original.ID,
		}
		return s.InsertLedgerEntry(ctx, reversal)
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// StudentLedger returns the student's entries (newest first) with the
// running signed balance.
func (l *Ledger) StudentLedger(ctx context.Context, studentID StudentID) ([]LedgerEntry, Money, error) {
	student, err := l.Store.GetStudent(ctx, studentID)
	if err != nil {
		return nil, Zero, err
	}
	if student == nil {
		return nil, Zero, notFound("student", string(studentID))
	}

	entries, err := l.Store.ListLedgerEntries(ctx, studentID)
	if err != nil {
		return nil, Zero, err
	}

	balance := Zero
	for _, e := range entries {
		balance = balance.Add(e.Signed())
	}
	return entries, balance, nil
}
