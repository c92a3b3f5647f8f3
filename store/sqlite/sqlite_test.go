package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza/billing-engine/billing"
	"github.com/cadenza/billing-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// seedEnrollment creates the referential chain an invoice needs.
func seedEnrollment(t *testing.T, store *sqlite.Store) billing.Enrollment {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, store.SaveStudent(ctx, billing.Student{
		ID: "stu-1", Name: "Daan de Vries",
		BirthDate: billing.Date(1990, time.May, 2),
	}))
	require.NoError(t, store.SaveCourseType(ctx, billing.CourseType{
		ID: "ct-piano", Name: "Piano", Individual: true,
	}))
	require.NoError(t, store.SaveCourse(ctx, billing.Course{
		ID: "course-1", CourseTypeID: "ct-piano", Name: "Piano - Daan",
	}))
	enrollment := billing.Enrollment{
		ID: "enr-1", StudentID: "stu-1", CourseID: "course-1",
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}
	require.NoError(t, store.SaveEnrollment(ctx, enrollment))
	return enrollment
}

func draftInvoice(enrollment billing.Enrollment, period billing.Period, issueYear int) *billing.Invoice {
	issue := billing.Date(issueYear, time.February, 1)
	inv := &billing.Invoice{
		ID:             billing.InvoiceID(uuid.NewString()),
		StudentID:      enrollment.StudentID,
		EnrollmentID:   enrollment.ID,
		IssueDate:      &issue,
		PeriodStart:    period.Start,
		PeriodEnd:      period.End,
		Subtotal:       billing.Zero,
		VATAmount:      billing.Zero,
		DiscountAmount: billing.Zero,
		Total:          billing.Zero,
		AmountPaid:     billing.Zero,
		CreditsApplied: billing.Zero,
		DebitsApplied:  billing.Zero,
		Balance:        billing.Zero,
		Status:         billing.InvoiceDraft,
	}
	return inv
}

// =============================================================================
// INVOICE NUMBERING
// =============================================================================

func TestInvoiceNumbers_SequentialPerYear(t *testing.T) {
	store := newStore(t)
	enrollment := seedEnrollment(t, store)
	ctx := context.Background()

	first := draftInvoice(enrollment, billing.MonthPeriod(2026, time.January), 2026)
	require.NoError(t, store.InsertInvoice(ctx, first, nil))
	assert.Equal(t, "INV-2026-0001", first.Number)

	second := draftInvoice(enrollment, billing.MonthPeriod(2026, time.February), 2026)
	require.NoError(t, store.InsertInvoice(ctx, second, nil))
	assert.Equal(t, "INV-2026-0002", second.Number)

	// A new issue year restarts the sequence.
	other := draftInvoice(enrollment, billing.MonthPeriod(2027, time.January), 2027)
	require.NoError(t, store.InsertInvoice(ctx, other, nil))
	assert.Equal(t, "INV-2027-0001", other.Number)
}

// =============================================================================
// PERIOD UNIQUENESS
// =============================================================================

func TestInsertInvoice_PeriodConstraint(t *testing.T) {
	store := newStore(t)
	enrollment := seedEnrollment(t, store)
	ctx := context.Background()
	jan := billing.MonthPeriod(2026, time.January)

	require.NoError(t, store.InsertInvoice(ctx, draftInvoice(enrollment, jan, 2026), nil))

	// A second non-credit invoice for the same enrollment and period fails
	// with the typed error even without the service-level pre-check.
	err := store.InsertInvoice(ctx, draftInvoice(enrollment, jan, 2026), nil)
	require.Error(t, err)
	var dup *billing.DuplicatePeriodError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, enrollment.ID, dup.EnrollmentID)
	assert.True(t, errors.Is(err, billing.ErrDuplicatePeriod))

	// Credit invoices for the same period are exempt.
	credit := draftInvoice(enrollment, jan, 2026)
	credit.IsCredit = true
	assert.NoError(t, store.InsertInvoice(ctx, credit, nil))

	// Cancelled invoices do not block regeneration.
	cancelled := draftInvoice(enrollment, billing.MonthPeriod(2026, time.March), 2026)
	require.NoError(t, store.InsertInvoice(ctx, cancelled, nil))
	cancelled.Status = billing.InvoiceCancelled
	require.NoError(t, store.UpdateInvoice(ctx, cancelled))
	assert.NoError(t, store.InsertInvoice(ctx,
		draftInvoice(enrollment, billing.MonthPeriod(2026, time.March), 2026), nil))
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestWithTx_RollsBackOnError(t *testing.T) {
	store := newStore(t)
	seedEnrollment(t, store)
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.WithTx(ctx, func(s billing.Store) error {
		if err := s.InsertLedgerEntry(ctx, &billing.LedgerEntry{
			ID: "entry-1", StudentID: "stu-1", Type: billing.EntryCredit,
			Amount: billing.Zero, AppliedAmount: billing.Zero,
			Status: billing.EntryOpen, Reason: "doomed",
			SourceType: billing.SourceManualCorrection,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	entry, err := store.GetLedgerEntry(ctx, "entry-1")
	require.NoError(t, err)
	assert.Nil(t, entry, "rolled-back entry must not persist")
}

func TestWithTx_CommitsOnNil(t *testing.T) {
	store := newStore(t)
	seedEnrollment(t, store)
	ctx := context.Background()

	err := store.WithTx(ctx, func(s billing.Store) error {
		return s.InsertLedgerEntry(ctx, &billing.LedgerEntry{
			ID: "entry-kept", StudentID: "stu-1", Type: billing.EntryCredit,
			Amount: billing.MustMoney("10.00"), AppliedAmount: billing.Zero,
			Status: billing.EntryOpen, Reason: "kept",
			SourceType: billing.SourceManualCorrection,
		})
	})
	require.NoError(t, err)

	entry, err := store.GetLedgerEntry(ctx, "entry-kept")
	require.NoError(t, err)
	require.NotNil(t, entry, "committed entry must persist")
	assert.Equal(t, "kept", entry.Reason)
}

// =============================================================================
// LEDGER QUERIES
// =============================================================================

func TestListOpenLedgerEntries_IncludesPartiallyApplied(t *testing.T) {
	store := newStore(t)
	seedEnrollment(t, store)
	ctx := context.Background()

	mustInsert := func(id billing.EntryID, amount string) {
		require.NoError(t, store.InsertLedgerEntry(ctx, &billing.LedgerEntry{
			ID: id, StudentID: "stu-1", Type: billing.EntryCredit,
			Amount:        billing.MustMoney(amount),
			AppliedAmount: billing.Zero,
			Status:        billing.EntryOpen, Reason: "seed",
			SourceType: billing.SourceManualCorrection,
		}))
	}
	mustInsert("entry-a", "100.00")
	mustInsert("entry-b", "50.00")
	mustInsert("entry-c", "25.00")

	require.NoError(t, store.UpdateLedgerEntryApplication(ctx, "entry-a",
		billing.MustMoney("60.00"), billing.EntryPartiallyApplied))
	require.NoError(t, store.UpdateLedgerEntryApplication(ctx, "entry-b",
		billing.MustMoney("50.00"), billing.EntryFullyApplied))

	open, err := store.ListOpenLedgerEntries(ctx, "stu-1")
	require.NoError(t, err)

	// Fully applied entries drop out; the rest come back oldest first.
	require.Len(t, open, 2)
	assert.Equal(t, billing.EntryID("entry-a"), open[0].ID)
	assert.Equal(t, billing.EntryID("entry-c"), open[1].ID)
}

func TestGetSetting_MissingKeyIsEmpty(t *testing.T) {
	store := newStore(t)

	value, err := store.GetSetting(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, "", value)
}
