package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza/billing-engine/billing"
)

func defaultSettings() billing.Settings {
	return billing.Settings{
		VATRate:           decimal.NewFromInt(21),
		PaymentDueDays:    14,
		AdultAgeThreshold: 18,
	}
}

func TestBuildLines_PricesEachLesson(t *testing.T) {
	// GIVEN: four completed lessons at the 25.00 adult rate
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 4)

	// WHEN: building lines for January
	batch, err := billing.BuildLines(context.Background(), store, f.enrollmentID, jan2026(), defaultSettings())
	require.NoError(t, err)

	// THEN: one line per lesson, subtotal 100.00
	require.Len(t, batch.Lines, 4)
	assertMoney(t, "100.00", batch.Subtotal)
	assertMoney(t, "0.00", batch.DiscountAmount)
	for _, line := range batch.Lines {
		assertMoney(t, "25.00", line.UnitPrice)
		assertMoney(t, "25.00", line.LineTotal)
		assert.Equal(t, 1, line.Quantity)
		assert.True(t, decimal.NewFromInt(21).Equal(line.VATRate))
	}
}

func TestBuildLines_SkipsCancelledAndInvoiced(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 3)
	ctx := context.Background()

	// One lesson cancelled, one already billed.
	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-a", CourseID: f.courseID, StudentID: f.studentID,
		ScheduledDate: billing.Date(2026, time.January, 5),
		Status:        billing.LessonCancelled,
	}))
	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-b", CourseID: f.courseID, StudentID: f.studentID,
		ScheduledDate: billing.Date(2026, time.January, 12),
		Status:        billing.LessonCompleted,
		IsInvoiced:    true,
	}))

	batch, err := billing.BuildLines(ctx, store, f.enrollmentID, jan2026(), defaultSettings())
	require.NoError(t, err)
	require.Len(t, batch.Lines, 1)
	assert.Equal(t, billing.LessonID("les-c"), batch.Lines[0].LessonID)
}

func TestBuildLines_IndividualLessonsRequireMatchingStudent(t *testing.T) {
	// GIVEN: an individual course with a lesson belonging to another student
	store := newTestStore(t)
	f := seedSchool(t, store)
	ctx := context.Background()

	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-other", CourseID: f.courseID, StudentID: "stu-other",
		ScheduledDate: billing.Date(2026, time.January, 5),
		Status:        billing.LessonCompleted,
	}))

	// THEN: nothing is invoiceable for our enrollment
	_, err := billing.BuildLines(ctx, store, f.enrollmentID, jan2026(), defaultSettings())
	assert.ErrorIs(t, err, billing.ErrNoInvoiceableLessons)
}

func TestBuildLines_GroupLessonsBillOncePerEnrollment(t *testing.T) {
	// GIVEN: a group course whose lessons carry no student
	store := newTestStore(t)
	f := seedSchool(t, store)
	ctx := context.Background()

	require.NoError(t, store.SaveCourseType(ctx, billing.CourseType{
		ID: "ct-guitar", Name: "Guitar group", Individual: false,
	}))
	require.NoError(t, store.SaveCourse(ctx, billing.Course{
		ID: "course-g", CourseTypeID: "ct-guitar", Name: "Guitar ensemble",
	}))
	require.NoError(t, store.InsertPricingVersion(ctx, &billing.PricingVersion{
		ID: "price-guitar", CourseTypeID: "ct-guitar",
		AdultPrice: money("17.50"), ChildPrice: money("15.00"),
		ValidFrom: billing.Date(2026, time.January, 1), IsCurrent: true,
	}))
	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: "enr-g", StudentID: f.studentID, CourseID: "course-g",
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}))
	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-g1", CourseID: "course-g",
		ScheduledDate: billing.Date(2026, time.January, 7),
		Status:        billing.LessonScheduled,
	}))

	batch, err := billing.BuildLines(ctx, store, "enr-g", jan2026(), defaultSettings())
	require.NoError(t, err)
	require.Len(t, batch.Lines, 1)
	assertMoney(t, "17.50", batch.Lines[0].UnitPrice)
}

func TestBuildLines_ChildRateUntilAdultThreshold(t *testing.T) {
	// GIVEN: a student who turns 18 on July 14, 2026
	store := newTestStore(t)
	f := seedSchool(t, store)
	ctx := context.Background()

	require.NoError(t, store.SaveStudent(ctx, billing.Student{
		ID: "stu-minor", Name: "Sophie Bakker",
		BirthDate: billing.Date(2008, time.July, 14),
	}))
	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: "enr-minor", StudentID: "stu-minor", CourseID: f.courseID,
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}))
	require.NoError(t, store.SaveLesson(ctx, billing.Lesson{
		ID: "les-minor", CourseID: f.courseID, StudentID: "stu-minor",
		ScheduledDate: billing.Date(2026, time.January, 5),
		Status:        billing.LessonCompleted,
	}))

	// THEN: January lessons bill at the child rate
	batch, err := billing.BuildLines(ctx, store, "enr-minor", jan2026(), defaultSettings())
	require.NoError(t, err)
	require.Len(t, batch.Lines, 1)
	assertMoney(t, "21.00", batch.Lines[0].UnitPrice)
}

func TestBuildLines_DiscountRoundedPerLine(t *testing.T) {
	// GIVEN: a 10% enrollment discount over three 25.00 lessons
	store := newTestStore(t)
	f := seedSchool(t, store)
	f.addLessons(t, 3)
	ctx := context.Background()

	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: f.enrollmentID, StudentID: f.studentID, CourseID: f.courseID,
		DiscountPercent:     decimal.NewFromInt(10),
		DiscountType:        billing.DiscountPercent,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}))

	batch, err := billing.BuildLines(ctx, store, f.enrollmentID, jan2026(), defaultSettings())
	require.NoError(t, err)

	// THEN: 2.50 per line, 7.50 in aggregate; the subtotal stays gross
	for _, line := range batch.Lines {
		assertMoney(t, "2.50", line.DiscountAmount)
	}
	assertMoney(t, "75.00", batch.Subtotal)
	assertMoney(t, "7.50", batch.DiscountAmount)
}

func TestBuildLines_UnknownEnrollment(t *testing.T) {
	store := newTestStore(t)
	seedSchool(t, store)

	_, err := billing.BuildLines(context.Background(), store, "enr-missing", jan2026(), defaultSettings())
	assert.True(t, billing.IsNotFound(err))
}
