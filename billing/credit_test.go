package billing_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza/billing-engine/billing"
)

// sentJanInvoice generates the standard 4-lesson invoice and marks it Sent so
// it becomes a valid credit target.
func sentJanInvoice(t *testing.T, f *school) *billing.Invoice {
	t.Helper()
	f.addLessons(t, 4)
	inv := f.generateJanInvoice(t, false)
	inv.Status = billing.InvoiceSent
	require.NoError(t, f.store.UpdateInvoice(context.Background(), inv))
	return inv
}

// =============================================================================
// CREATE
// =============================================================================

func TestCreateCreditInvoice_NegatesSelectedLines(t *testing.T) {
	// GIVEN: a sent invoice with four 25.00 lines
	store := newTestStore(t)
	f := seedSchool(t, store)
	inv := sentJanInvoice(t, f)
	ctx := context.Background()

	lines, err := store.GetInvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	require.Len(t, lines, 4)

	// WHEN: crediting two of them
	engine := billing.NewCreditEngine(store)
	credit, err := engine.CreateCreditInvoice(ctx, inv.ID, []billing.LineID{lines[0].ID, lines[1].ID})
	require.NoError(t, err)

	// THEN: totals are the exact negation of the selected lines
	assert.True(t, credit.IsCredit)
	assert.Equal(t, billing.InvoiceDraft, credit.Status)
	assertMoney(t, "-50.00", credit.Subtotal)
	assertMoney(t, "-10.50", credit.VATAmount)
	assertMoney(t, "-60.50", credit.Total)
	assert.Equal(t, inv.ID, credit.OriginalInvoiceID)
	assert.Equal(t, inv.Number, credit.OriginalInvoiceNumber)

	creditLines, err := store.GetInvoiceLines(ctx, credit.ID)
	require.NoError(t, err)
	require.Len(t, creditLines, 2)
	assertMoney(t, "-25.00", creditLines[0].UnitPrice)
	assertMoney(t, "-25.00", creditLines[0].LineTotal)
	assert.True(t, creditLines[0].VATRate.IsPositive(), "VAT rate stays positive")
}

func TestCreateCreditInvoice_InvalidTargets(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 4)
	draft := f.generateJanInvoice(t, false)
	ctx := context.Background()

	lines, err := store.GetInvoiceLines(ctx, draft.ID)
	require.NoError(t, err)

	engine := billing.NewCreditEngine(store)

	// A draft invoice cannot be credited.
	_, err = engine.CreateCreditInvoice(ctx, draft.ID, []billing.LineID{lines[0].ID})
	assert.ErrorIs(t, err, billing.ErrInvalidCreditTarget)

	// Neither can a credit invoice itself.
	draft.Status = billing.InvoiceSent
	require.NoError(t, store.UpdateInvoice(ctx, draft))
	credit, err := engine.CreateCreditInvoice(ctx, draft.ID, []billing.LineID{lines[0].ID})
	require.NoError(t, err)
	creditLines, err := store.GetInvoiceLines(ctx, credit.ID)
	require.NoError(t, err)
	_, err = engine.CreateCreditInvoice(ctx, credit.ID, []billing.LineID{creditLines[0].ID})
	assert.ErrorIs(t, err, billing.ErrInvalidCreditTarget)
}

func TestCreateCreditInvoice_LineSelection(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	inv := sentJanInvoice(t, f)
	ctx := context.Background()

	lines, err := store.GetInvoiceLines(ctx, inv.ID)
	require.NoError(t, err)

	engine := billing.NewCreditEngine(store)

	_, err = engine.CreateCreditInvoice(ctx, inv.ID, nil)
	assert.True(t, billing.IsClientError(err), "empty selection: %v", err)

	_, err = engine.CreateCreditInvoice(ctx, inv.ID, []billing.LineID{lines[0].ID, lines[0].ID})
	assert.True(t, billing.IsClientError(err), "duplicate selection: %v", err)

	_, err = engine.CreateCreditInvoice(ctx, inv.ID, []billing.LineID{"line-ghost"})
	assert.True(t, billing.IsNotFound(err), "unknown line: %v", err)
}

// =============================================================================
// CONFIRM
// =============================================================================

func TestConfirmCreditInvoice_BooksOpenCredit(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	inv := sentJanInvoice(t, f)
	ctx := context.Background()

	lines, err := store.GetInvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	engine := billing.NewCreditEngine(store)
	credit, err := engine.CreateCreditInvoice(ctx, inv.ID, []billing.LineID{lines[0].ID})
	require.NoError(t, err)

	confirmed, entry, err := engine.ConfirmCreditInvoice(ctx, credit.ID)
	require.NoError(t, err)

	assert.Equal(t, billing.InvoiceSent, confirmed.Status)
	require.NotNil(t, confirmed.IssueDate)

	// One line of 25.00 plus 5.25 VAT: the ledger credit is 30.25.
	assert.Equal(t, billing.EntryCredit, entry.Type)
	assert.Equal(t, billing.EntryOpen, entry.Status)
	assertMoney(t, "30.25", entry.Amount)
	assert.Equal(t, billing.SourceCreditInvoice, entry.SourceType)
	assert.Equal(t, credit.ID, entry.InvoiceID)

	// Confirming twice is rejected.
	_, _, err = engine.ConfirmCreditInvoice(ctx, credit.ID)
	assert.ErrorIs(t, err, billing.ErrInvoiceNotEditable)
}

func TestConfirmCreditInvoice_RejectsRegularInvoice(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	inv := sentJanInvoice(t, f)

	engine := billing.NewCreditEngine(store)
	_, _, err := engine.ConfirmCreditInvoice(context.Background(), inv.ID)
	assert.True(t, billing.IsClientError(err))
}

// =============================================================================
// CREDIT BALANCE APPLICATION
// =============================================================================

func TestApplyCreditBalance_PaysDownInvoice(t *testing.T) {
	// GIVEN: a student in credit for 60.50 after a confirmed credit invoice
	store := newTestStore(t)
	f := seedSchool(t, store)
	inv := sentJanInvoice(t, f)
	ctx := context.Background()

	lines, err := store.GetInvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	engine := billing.NewCreditEngine(store)
	credit, err := engine.CreateCreditInvoice(ctx, inv.ID, []billing.LineID{lines[0].ID, lines[1].ID})
	require.NoError(t, err)
	_, _, err = engine.ConfirmCreditInvoice(ctx, credit.ID)
	require.NoError(t, err)

	// WHEN: applying 60.50 of that credit to the original invoice
	updated, err := engine.ApplyCreditBalance(ctx, inv.ID, money("60.50"))
	require.NoError(t, err)

	// THEN: the invoice is paid down and the ledger nets to zero
	assertMoney(t, "60.50", updated.AmountPaid)
	assertMoney(t, "60.50", updated.Balance)
	assert.Equal(t, billing.InvoiceSent, updated.Status)

	ledger := billing.NewLedger(store)
	balance, err := ledger.StudentBalance(ctx, f.studentID)
	require.NoError(t, err)
	assertMoney(t, "0.00", balance)
}

func TestApplyCreditBalance_Guards(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	inv := sentJanInvoice(t, f)
	ctx := context.Background()
	engine := billing.NewCreditEngine(store)

	// No credit balance at all.
	_, err := engine.ApplyCreditBalance(ctx, inv.ID, money("10.00"))
	assert.True(t, billing.IsClientError(err), "no credit: %v", err)

	// Book a 30.25 credit via confirmation, then over-apply.
	lines, err := store.GetInvoiceLines(ctx, inv.ID)
	require.NoError(t, err)
	credit, err := engine.CreateCreditInvoice(ctx, inv.ID, []billing.LineID{lines[0].ID})
	require.NoError(t, err)
	_, _, err = engine.ConfirmCreditInvoice(ctx, credit.ID)
	require.NoError(t, err)

	_, err = engine.ApplyCreditBalance(ctx, inv.ID, money("50.00"))
	assert.ErrorIs(t, err, billing.ErrCorrectionExceedsAvailable)

	_, err = engine.ApplyCreditBalance(ctx, inv.ID, money("0.00"))
	assert.True(t, billing.IsClientError(err), "zero amount: %v", err)

	_, err = engine.ApplyCreditBalance(ctx, credit.ID, money("10.00"))
	assert.ErrorIs(t, err, billing.ErrInvalidCreditTarget)
}
