/*
demo.go - Demo dataset seeding for testing and demonstrations

PURPOSE:

	Populates the database with a realistic music-school dataset for demos
	and manual testing: course types with effective-dated prices, adult and
	child students, monthly and quarterly enrollments, and a month of
	lessons ready to invoice.

WHAT GETS SEEDED:

	school profile:  billing identity printed on invoices
	settings:        vat_rate 21, payment_due_days 14, adult_age_threshold 18
	course types:    piano individual, guitar group
	pricing:         a superseded version plus the current one for piano
	students:        one adult, one minor
	enrollments:     monthly (with 10% discount) and quarterly
	lessons:         January 2026 schedule, none invoiced yet

USAGE VIA API:

	POST /api/demo/seed

NOTE:

	Seeding resets the database. Only use in development/demo environments.

SEE ALSO:
  - server.go: route registration
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cadenza/billing-engine/billing"
)

// SeedDemo resets the database and loads the demo dataset.
func (h *Handler) SeedDemo(w http.ResponseWriter, r *http.Request) {
	if err := h.loadDemoData(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to seed demo data", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "seeded"})
}

func (h *Handler) loadDemoData(ctx context.Context) error {
	if err := h.Store.Reset(ctx); err != nil {
		return err
	}

	if err := h.Store.SaveSchoolProfile(ctx, billing.SchoolProfile{
		Name:       "Cadenza Music School",
		Address:    "Herengracht 12",
		PostalCode: "1015 BK",
		City:       "Amsterdam",
		Phone:      "+31 20 123 4567",
		Email:      "administratie@cadenza.example",
		KvKNumber:  "12345678",
		IBAN:       "NL02ABNA0123456789",
	}); err != nil {
		return err
	}

	settings := map[string]string{
		billing.SettingVATRate:           "21",
		billing.SettingPaymentDueDays:    "14",
		billing.SettingAdultAgeThreshold: "18",
	}
	for key, value := range settings {
		if err := h.Store.SetSetting(ctx, key, value); err != nil {
			return err
		}
	}

	// Course types and courses
	courseTypes := []billing.CourseType{
		{ID: "ct-piano", Name: "Piano individual", Individual: true},
		{ID: "ct-guitar", Name: "Guitar group", Individual: false},
	}
	for _, ct := range courseTypes {
		if err := h.Store.SaveCourseType(ctx, ct); err != nil {
			return err
		}
	}
	courses := []billing.Course{
		{ID: "course-piano-a", CourseTypeID: "ct-piano", Name: "Piano A"},
		{ID: "course-guitar-1", CourseTypeID: "ct-guitar", Name: "Guitar ensemble"},
	}
	for _, c := range courses {
		if err := h.Store.SaveCourse(ctx, c); err != nil {
			return err
		}
	}

	// Piano has a superseded 2025 price and a current one; guitar only
	// ever had one price.
	jan2026 := billing.Date(2026, time.January, 1)
	if err := h.Store.InsertPricingVersion(ctx, &billing.PricingVersion{
		ID:           "price-piano-2025",
		CourseTypeID: "ct-piano",
		AdultPrice:   billing.MustMoney("23.50"),
		ChildPrice:   billing.MustMoney("19.50"),
		ValidFrom:    billing.Date(2025, time.January, 1),
		ValidUntil:   &jan2026,
		IsCurrent:    false,
	}); err != nil {
		return err
	}
	currentPrices := []billing.PricingVersion{
		{
			ID:           "price-piano-2026",
			CourseTypeID: "ct-piano",
			AdultPrice:   billing.MustMoney("25.00"),
			ChildPrice:   billing.MustMoney("21.00"),
			ValidFrom:    jan2026,
			IsCurrent:    true,
		},
		{
			ID:           "price-guitar-2025",
			CourseTypeID: "ct-guitar",
			AdultPrice:   billing.MustMoney("17.50"),
			ChildPrice:   billing.MustMoney("15.00"),
			ValidFrom:    billing.Date(2025, time.September, 1),
			IsCurrent:    true,
		},
	}
	for i := range currentPrices {
		if err := h.Store.InsertPricingVersion(ctx, &currentPrices[i]); err != nil {
			return err
		}
	}

	// Students: Daan is an adult, Sophie turns 18 mid-2026 so January
	// lessons still bill at the child rate.
	students := []billing.Student{
		{ID: "stu-daan", Name: "Daan de Vries", Email: "daan@example.com",
			BirthDate: billing.Date(1990, time.May, 2)},
		{ID: "stu-sophie", Name: "Sophie Bakker", Email: "sophie@example.com",
			BirthDate: billing.Date(2008, time.July, 14)},
	}
	for _, st := range students {
		if err := h.Store.SaveStudent(ctx, st); err != nil {
			return err
		}
	}

	enrollments := []billing.Enrollment{
		{
			ID:                  "enr-daan-piano",
			StudentID:           "stu-daan",
			CourseID:            "course-piano-a",
			DiscountPercent:     decimal.NewFromInt(10),
			DiscountType:        billing.DiscountPercent,
			InvoicingPreference: billing.PeriodMonthly,
			Status:              billing.EnrollmentActive,
		},
		{
			ID:                  "enr-sophie-guitar",
			StudentID:           "stu-sophie",
			CourseID:            "course-guitar-1",
			DiscountPercent:     decimal.Zero,
			DiscountType:        billing.DiscountNone,
			InvoicingPreference: billing.PeriodQuarterly,
			Status:              billing.EnrollmentActive,
		},
	}
	for _, e := range enrollments {
		if err := h.Store.SaveEnrollment(ctx, e); err != nil {
			return err
		}
	}

	// Four piano lessons for Daan in January, weekly guitar group lessons
	// through the first quarter. One piano lesson is cancelled and must
	// not be billed.
	for week := 0; week < 4; week++ {
		lesson := billing.Lesson{
			ID:            billing.LessonID(fmt.Sprintf("les-piano-%02d", week+1)),
			CourseID:      "course-piano-a",
			StudentID:     "stu-daan",
			ScheduledDate: billing.Date(2026, time.January, 5+7*week),
			Status:        billing.LessonCompleted,
		}
		if week == 3 {
			lesson.Status = billing.LessonCancelled
		}
		if err := h.Store.SaveLesson(ctx, lesson); err != nil {
			return err
		}
	}
	for week := 0; week < 12; week++ {
		lesson := billing.Lesson{
			ID:            billing.LessonID(fmt.Sprintf("les-guitar-%02d", week+1)),
			CourseID:      "course-guitar-1",
			ScheduledDate: billing.Date(2026, time.January, 7).AddDate(0, 0, 7*week),
			Status:        billing.LessonScheduled,
		}
		if err := h.Store.SaveLesson(ctx, lesson); err != nil {
			return err
		}
	}

	return nil
}
