package billing_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza/billing-engine/billing"
)

// =============================================================================
// SINGLE GENERATION
// =============================================================================

func TestGenerate_FourLessonInvoice(t *testing.T) {
	// GIVEN: four completed lessons at 25.00 with 21% VAT
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 4)

	// WHEN: generating the January invoice
	inv := f.generateJanInvoice(t, false)

	// THEN: subtotal 100.00, VAT 21.00, total and balance 121.00
	assertMoney(t, "100.00", inv.Subtotal)
	assertMoney(t, "21.00", inv.VATAmount)
	assertMoney(t, "0.00", inv.DiscountAmount)
	assertMoney(t, "121.00", inv.Total)
	assertMoney(t, "121.00", inv.Balance)
	assert.Equal(t, billing.InvoiceDraft, inv.Status)
	assert.Equal(t, "jan26", inv.Description)

	// AND: the number follows the yearly sequence
	assert.True(t, strings.HasPrefix(inv.Number, "INV-"), "number %q", inv.Number)
	assert.True(t, strings.HasSuffix(inv.Number, "-0001"), "number %q", inv.Number)

	// AND: the billed lessons are flagged
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		lesson, err := store.GetLesson(ctx, billing.LessonID(lessonID(i)))
		require.NoError(t, err)
		assert.True(t, lesson.IsInvoiced, "lesson %s", lesson.ID)
	}

	// AND: the due date follows the payment term
	require.NotNil(t, inv.IssueDate)
	require.NotNil(t, inv.DueDate)
	assert.Equal(t, inv.IssueDate.AddDate(0, 0, 14), *inv.DueDate)
}

func TestGenerate_SequentialNumbers(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 1)

	first := f.generateJanInvoice(t, false)

	// A second invoice (different month) gets the next sequence number.
	ctx := context.Background()
	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-feb", CourseID: f.courseID, StudentID: f.studentID,
		ScheduledDate: billing.Date(2026, time.February, 2),
		Status:        billing.LessonCompleted,
	}))
	gen := billing.NewGenerator(store)
	second, err := gen.Generate(ctx, f.enrollmentID,
		billing.MonthPeriod(2026, time.February), billing.PeriodMonthly, false)
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(first.Number, "-0001"))
	assert.True(t, strings.HasSuffix(second.Number, "-0002"))
}

func TestGenerate_DuplicatePeriodRejected(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 2)
	f.generateJanInvoice(t, false)

	// A second generation for the same enrollment and period fails even
	// though the first one flagged every lesson: the period guard fires
	// before lesson selection.
	gen := billing.NewGenerator(store)
	_, err := gen.Generate(context.Background(), f.enrollmentID, jan2026(), billing.PeriodMonthly, false)
	assert.ErrorIs(t, err, billing.ErrDuplicatePeriod)
}

func TestGenerate_NoLessonsIsSkip(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)

	gen := billing.NewGenerator(store)
	_, err := gen.Generate(context.Background(), f.enrollmentID, jan2026(), billing.PeriodMonthly, false)
	assert.ErrorIs(t, err, billing.ErrNoInvoiceableLessons)
}

func TestGenerate_AppliesOpenCredit(t *testing.T) {
	// GIVEN: an open 150.00 credit on the student's ledger
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 4)
	ctx := context.Background()

	ledger := billing.NewLedger(store)
	entry, err := ledger.CreateCorrection(ctx, f.studentID, billing.EntryCredit,
		money("150.00"), "goodwill", "")
	require.NoError(t, err)

	// WHEN: generating with corrections enabled
	inv := f.generateJanInvoice(t, true)

	// THEN: 121.00 of the credit is consumed, the invoice is paid, and
	// 29.00 remains available on the partially applied entry
	assertMoney(t, "121.00", inv.CreditsApplied)
	assertMoney(t, "0.00", inv.Balance)
	assert.Equal(t, billing.InvoicePaid, inv.Status)

	stored, err := store.GetLedgerEntry(ctx, entry.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.EntryPartiallyApplied, stored.Status)
	assertMoney(t, "121.00", stored.AppliedAmount)
	assertMoney(t, "29.00", stored.Available())
}

func TestGenerate_AppliesCreditThenDebit(t *testing.T) {
	// GIVEN: an open 150.00 credit followed by an open 10.00 debit; the
	// credit alone covers the whole invoice
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 4)
	ctx := context.Background()

	ledger := billing.NewLedger(store)
	credit, err := ledger.CreateCorrection(ctx, f.studentID, billing.EntryCredit,
		money("150.00"), "goodwill", "")
	require.NoError(t, err)
	debit, err := ledger.CreateCorrection(ctx, f.studentID, billing.EntryDebit,
		money("10.00"), "damaged rental", "")
	require.NoError(t, err)

	// WHEN: generating with corrections enabled
	inv := f.generateJanInvoice(t, true)

	// THEN: the debit still applies after the credit zeroes the balance,
	// so the invoice stays open at 10.00
	assertMoney(t, "121.00", inv.CreditsApplied)
	assertMoney(t, "10.00", inv.DebitsApplied)
	assertMoney(t, "10.00", inv.Balance)
	assert.Equal(t, billing.InvoiceDraft, inv.Status)

	storedCredit, err := store.GetLedgerEntry(ctx, credit.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.EntryPartiallyApplied, storedCredit.Status)
	assertMoney(t, "29.00", storedCredit.Available())

	storedDebit, err := store.GetLedgerEntry(ctx, debit.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.EntryFullyApplied, storedDebit.Status)
}

func TestGenerate_IgnoresLedgerWhenCorrectionsDisabled(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 4)
	ctx := context.Background()

	ledger := billing.NewLedger(store)
	_, err := ledger.CreateCorrection(ctx, f.studentID, billing.EntryCredit,
		money("50.00"), "goodwill", "")
	require.NoError(t, err)

	inv := f.generateJanInvoice(t, false)
	assertMoney(t, "0.00", inv.CreditsApplied)
	assertMoney(t, "121.00", inv.Balance)
}

// =============================================================================
// BATCH GENERATION
// =============================================================================

func TestGenerateBatch_CountsSkips(t *testing.T) {
	// GIVEN: the fixture enrollment with lessons, plus one enrollment
	// whose course has no lessons this period
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 2)
	ctx := context.Background()

	require.NoError(t, store.SaveStudent(ctx, billing.Student{
		ID: "stu-2", Name: "Emma Visser",
		BirthDate: billing.Date(1985, time.March, 3),
	}))
	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: "enr-idle", StudentID: "stu-2", CourseID: f.courseID,
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}))

	gen := billing.NewGenerator(store)
	result, err := gen.GenerateBatch(ctx, jan2026(), billing.PeriodMonthly, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 0, result.Failed)
	require.Len(t, result.Invoices, 1)
	assertMoney(t, "50.00", result.Invoices[0].Subtotal)
}

func TestGenerateBatch_FiltersByPreference(t *testing.T) {
	// Quarterly enrollments are out of scope for a monthly batch.
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 2)
	ctx := context.Background()

	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: f.enrollmentID, StudentID: f.studentID, CourseID: f.courseID,
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodQuarterly,
		Status:              billing.EnrollmentActive,
	}))

	gen := billing.NewGenerator(store)
	result, err := gen.GenerateBatch(ctx, jan2026(), billing.PeriodMonthly, false)
	require.NoError(t, err)
	assert.Equal(t, 0, result.Processed)
	assert.Empty(t, result.Invoices)
}

func TestGenerateBatch_RecordsPerEnrollmentFailures(t *testing.T) {
	// GIVEN: one healthy enrollment and one whose course type has no
	// pricing at all
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 1)
	ctx := context.Background()

	require.NoError(t, store.SaveCourseType(ctx, billing.CourseType{
		ID: "ct-unpriced", Name: "Unpriced", Individual: true,
	}))
	require.NoError(t, store.SaveCourse(ctx, billing.Course{
		ID: "course-u", CourseTypeID: "ct-unpriced", Name: "Unpriced course",
	}))
	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: "enr-broken", StudentID: f.studentID, CourseID: "course-u",
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}))
	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-u", CourseID: "course-u", StudentID: f.studentID,
		ScheduledDate: billing.Date(2026, time.January, 6),
		Status:        billing.LessonCompleted,
	}))

	gen := billing.NewGenerator(store)
	result, err := gen.GenerateBatch(ctx, jan2026(), billing.PeriodMonthly, false)
	require.NoError(t, err)

	// THEN: the healthy enrollment still generates; the broken one is
	// recorded as a failure, not a batch abort
	assert.Equal(t, 2, result.Processed)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Invoices, 1)
	require.Contains(t, result.Errors, billing.EnrollmentID("enr-broken"))
	assert.ErrorIs(t, result.Errors["enr-broken"], billing.ErrPricingNotFound)
}
