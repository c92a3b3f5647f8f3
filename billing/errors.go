/*
errors.go - Centralized error types for the billing engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error here is a caller-recoverable business error carrying a
  human-readable message; none represent programmer bugs.

ERROR CATEGORIES:
  1. Lookup errors   - referenced records missing
  2. Guard errors    - duplicate period, pricing gaps, empty line selection
  3. Ledger errors   - over-application, cross-student entries
  4. State errors    - operations against frozen or wrong-kind invoices

USAGE:
  Callers match with errors.Is():

    if errors.Is(err, billing.ErrDuplicatePeriod) { ... }

  The api package maps IsClientError/IsNotFound onto HTTP statuses.
*/
package billing

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a referenced record does not exist.
	// Wrapped with the entity kind and id by NotFoundError.
	ErrNotFound = errors.New("not found")

	// ErrDuplicatePeriod is returned when an invoice already exists for the
	// same (student, enrollment, period start, period end).
	ErrDuplicatePeriod = errors.New("invoice already exists for this period")

	// ErrNoInvoiceableLessons is returned when line building finds nothing to
	// bill. Batch generation classifies this as a skip, not a failure.
	ErrNoInvoiceableLessons = errors.New("no invoiceable lessons in period")

	// ErrPricingNotFound is returned when a course type has no pricing version
	// at all. Fatal for invoice generation: nothing can be priced.
	ErrPricingNotFound = errors.New("no pricing version for course type")

	// ErrInvoiceNotEditable is returned when mutating a Paid or Cancelled invoice.
	ErrInvoiceNotEditable = errors.New("invoice is not editable")

	// ErrInvalidCreditTarget is returned when crediting an invoice that is not
	// Sent/Paid, or is itself a credit invoice.
	ErrInvalidCreditTarget = errors.New("invoice cannot be credited")

	// ErrCorrectionExceedsAvailable is returned when applying more of a ledger
	// entry than remains unapplied.
	ErrCorrectionExceedsAvailable = errors.New("correction exceeds entry's available amount")

	// ErrCorrectionExceedsBalance is returned when applying more than the
	// target invoice's remaining balance.
	ErrCorrectionExceedsBalance = errors.New("correction exceeds invoice balance")

	// ErrCrossStudentEntry is returned when a ledger entry does not belong to
	// the invoice's student.
	ErrCrossStudentEntry = errors.New("ledger entry belongs to a different student")

	// ErrValidation is returned for invalid input: non-positive amounts,
	// empty line selections, missing reasons.
	ErrValidation = errors.New("validation failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError identifies which record was missing.
type NotFoundError struct {
	Kind string // "enrollment", "invoice", "ledger entry", ...
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %s not found", e.Kind, e.ID) }
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

func notFound(kind, id string) error { return &NotFoundError{Kind: kind, ID: id} }

// PricingNotFoundError names the unpriceable course type and date.
type PricingNotFoundError struct {
	CourseTypeID CourseTypeID
	Date         time.Time
}

func (e *PricingNotFoundError) Error() string {
	return fmt.Sprintf("no pricing version for course type %s at %s",
		e.CourseTypeID, e.Date.Format("2006-01-02"))
}

func (e *PricingNotFoundError) Unwrap() error { return ErrPricingNotFound }

// DuplicatePeriodError names the conflicting invoice period.
type DuplicatePeriodError struct {
	StudentID    StudentID
	EnrollmentID EnrollmentID
	PeriodStart  time.Time
	PeriodEnd    time.Time
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("invoice for enrollment %s already exists for %s..%s",
		e.EnrollmentID, e.PeriodStart.Format("2006-01-02"), e.PeriodEnd.Format("2006-01-02"))
}

func (e *DuplicatePeriodError) Unwrap() error { return ErrDuplicatePeriod }

// CorrectionError details an over-application of a ledger entry.
type CorrectionError struct {
	EntryID   EntryID
	Requested Money
	Limit     Money
	Kind      error // ErrCorrectionExceedsAvailable or ErrCorrectionExceedsBalance
}

func (e *CorrectionError) Error() string {
	return fmt.Sprintf("%v: requested %s, limit %s (entry %s)",
		e.Kind, e.Requested.StringFixed(2), e.Limit.StringFixed(2), e.EntryID)
}

func (e *CorrectionError) Unwrap() error { return e.Kind }

// ValidationError carries a human-readable reason for rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrValidation }

func validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input or a
// recoverable business rule violation.
func IsClientError(err error) bool {
	return errors.Is(err, ErrDuplicatePeriod) ||
		errors.Is(err, ErrNoInvoiceableLessons) ||
		errors.Is(err, ErrPricingNotFound) ||
		errors.Is(err, ErrInvoiceNotEditable) ||
		errors.Is(err, ErrInvalidCreditTarget) ||
		errors.Is(err, ErrCorrectionExceedsAvailable) ||
		errors.Is(err, ErrCorrectionExceedsBalance) ||
		errors.Is(err, ErrCrossStudentEntry) ||
		errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
