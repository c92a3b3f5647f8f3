/*
lines.go - Invoice line building

PURPOSE:
  Selects the invoiceable lessons for an enrollment and period and prices
  them into invoice lines. An invoiceable lesson is scheduled or completed
  (not cancelled), not yet flagged invoiced, within the period, and - for
  individual course types - belongs to the enrollment's student. Group
  lessons carry no student and are billed once per enrollment.

PRICING PER LINE:
  Each lesson resolves its price at its own scheduled date, so a price
  change mid-period bills each lesson at the rate in force when it happened.
  The adult/child tier is chosen by the student's age at the lesson date.
  The enrollment discount is computed and rounded per line (bankers
  rounding), never in aggregate, so line sums reconcile exactly.

EMPTY RESULT:
  Zero matching lessons is ErrNoInvoiceableLessons, a recoverable outcome
  the batch generator counts as a skip.
*/
package billing

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var oneHundred = decimal.NewFromInt(100)

// LineBatch is the priced output of line building for one enrollment/period.
type LineBatch struct {
	Enrollment *Enrollment
	Student    *Student
	Course     *Course
	CourseType *CourseType

	Lines     []InvoiceLine
	LessonIDs []LessonID

	Subtotal       Money // sum of gross line totals
	DiscountAmount Money // sum of per-line discounts
}

// BuildLines selects and prices the invoiceable lessons for an enrollment.
// It runs against whatever Store it is handed, so generation can call it
// inside its unit of work.
func BuildLines(ctx context.Context, s Store, enrollmentID EnrollmentID, period Period, settings Settings) (*LineBatch, error) {
	if !period.Valid() {
		return nil, validation("period end %s before start %s",
			period.End.Format("2006-01-02"), period.Start.Format("2006-01-02"))
	}

	enrollment, err := s.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, err
	}
	if enrollment == nil {
		return nil, notFound("enrollment", string(enrollmentID))
	}

	student, err := s.GetStudent(ctx, enrollment.StudentID)
	if err != nil {
		return nil, err
	}
	if student == nil {
		return nil, notFound("student", string(enrollment.StudentID))
	}

	course, err := s.GetCourse(ctx, enrollment.CourseID)
	if err != nil {
		return nil, err
	}
	if course == nil {
		return nil, notFound("course", string(enrollment.CourseID))
	}

	courseType, err := s.GetCourseType(ctx, course.CourseTypeID)
	if err != nil {
		return nil, err
	}
	if courseType == nil {
		return nil, notFound("course type", string(course.CourseTypeID))
	}

	lessons, err := s.ListLessons(ctx, course.ID, period.Start, period.End)
	if err != nil {
		return nil, err
	}

	versions, err := s.ListPricingVersions(ctx, courseType.ID)
	if err != nil {
		return nil, err
	}

	batch := &LineBatch{
		Enrollment:     enrollment,
		Student:        student,
		Course:         course,
		CourseType:     courseType,
		Subtotal:       Zero,
		DiscountAmount: Zero,
	}

	for _, lesson := range lessons {
		if !invoiceable(lesson, enrollment, courseType) {
			continue
		}

		version, err := ResolvePrice(versions, courseType.ID, lesson.ScheduledDate)
		if err != nil {
			return nil, err
		}

		unitPrice := version.ChildPrice
		if student.AgeAt(lesson.ScheduledDate) >= settings.AdultAgeThreshold {
			unitPrice = version.AdultPrice
		}

		lineTotal := RoundMoney(unitPrice)
		discount := Zero
		if enrollment.DiscountType == DiscountPercent && enrollment.DiscountPercent.IsPositive() {
			discount = RoundMoney(lineTotal.Mul(enrollment.DiscountPercent).Div(oneHundred))
		}

		batch.Lines = append(batch.Lines, InvoiceLine{
			ID:             LineID(uuid.NewString()),
			LessonID:       lesson.ID,
			Description:    fmt.Sprintf("%s - %s", course.Name, lesson.ScheduledDate.Format("2006-01-02")),
			Quantity:       1,
			UnitPrice:      unitPrice,
			VATRate:        settings.VATRate,
			DiscountAmount: discount,
			LineTotal:      lineTotal,
		})
		batch.LessonIDs = append(batch.LessonIDs, lesson.ID)
		batch.Subtotal = batch.Subtotal.Add(lineTotal)
		batch.DiscountAmount = batch.DiscountAmount.Add(discount)
	}

	if len(batch.Lines) == 0 {
		return nil, ErrNoInvoiceableLessons
	}

	return batch, nil
}

// invoiceable applies the lesson selection rules for an enrollment.
func invoiceable(lesson Lesson, enrollment *Enrollment, courseType *CourseType) bool {
	if lesson.IsInvoiced || lesson.Status == LessonCancelled {
		return false
	}
	if courseType.Individual {
		return lesson.StudentID == enrollment.StudentID
	}
	// Group lessons carry no student and bill once per enrollment.
	return lesson.StudentID == ""
}
