package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cadenza/billing-engine/billing"
	"github.com/cadenza/billing-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

// school is the shared fixture: an individual piano course priced at
// 25.00 adult / 21.00 child from January 2026, with an adult student
// enrolled monthly.
type school struct {
	store *sqlite.Store

	studentID    billing.StudentID
	courseID     billing.CourseID
	courseTypeID billing.CourseTypeID
	enrollmentID billing.EnrollmentID
}

func seedSchool(t *testing.T, store *sqlite.Store) *school {
	t.Helper()
	ctx := context.Background()

	f := &school{
		store:        store,
		studentID:    "stu-1",
		courseID:     "course-1",
		courseTypeID: "ct-piano",
		enrollmentID: "enr-1",
	}

	require.NoError(t, store.SaveCourseType(ctx, billing.CourseType{
		ID: f.courseTypeID, Name: "Piano individual", Individual: true,
	}))
	require.NoError(t, store.SaveCourse(ctx, billing.Course{
		ID: f.courseID, CourseTypeID: f.courseTypeID, Name: "Piano A",
	}))
	require.NoError(t, store.SaveStudent(ctx, billing.Student{
		ID: f.studentID, Name: "Daan de Vries", Email: "daan@example.com",
		BirthDate: billing.Date(1990, time.May, 2),
	}))
	require.NoError(t, store.SaveEnrollment(ctx, billing.Enrollment{
		ID: f.enrollmentID, StudentID: f.studentID, CourseID: f.courseID,
		DiscountPercent:     decimal.Zero,
		DiscountType:        billing.DiscountNone,
		InvoicingPreference: billing.PeriodMonthly,
		Status:              billing.EnrollmentActive,
	}))
	require.NoError(t, store.InsertPricingVersion(ctx, &billing.PricingVersion{
		ID:           "price-2026",
		CourseTypeID: f.courseTypeID,
		AdultPrice:   billing.MustMoney("25.00"),
		ChildPrice:   billing.MustMoney("21.00"),
		ValidFrom:    billing.Date(2026, time.January, 1),
		IsCurrent:    true,
	}))

	return f
}

// addLessons schedules n weekly completed lessons for the fixture student
// starting January 5, 2026.
func (f *school) addLessons(t *testing.T, n int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		require.NoError(t, f.store.SaveLesson(ctx, billing.Lesson{
			ID:            billing.LessonID(lessonID(i)),
			CourseID:      f.courseID,
			StudentID:     f.studentID,
			ScheduledDate: billing.Date(2026, time.January, 5+7*i),
			Status:        billing.LessonCompleted,
		}))
	}
}

func lessonID(i int) string {
	return "les-" + string(rune('a'+i))
}

func jan2026() billing.Period {
	return billing.MonthPeriod(2026, time.January)
}

// generateJanInvoice runs single generation for the fixture's enrollment.
func (f *school) generateJanInvoice(t *testing.T, applyCorrections bool) *billing.Invoice {
	t.Helper()
	gen := billing.NewGenerator(f.store)
	inv, err := gen.Generate(context.Background(), f.enrollmentID, jan2026(), billing.PeriodMonthly, applyCorrections)
	require.NoError(t, err)
	return inv
}

func money(s string) billing.Money { return billing.MustMoney(s) }

func assertMoney(t *testing.T, want string, got billing.Money) {
	t.Helper()
	require.True(t, money(want).Equal(got), "want %s, got %s", want, got.StringFixed(2))
}
