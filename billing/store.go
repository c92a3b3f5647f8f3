/*
store.go - Persistence interface for the billing engine

PURPOSE:
  Defines the interface between the billing logic and the database. Every
  mutating operation in this package runs inside a single unit of work
  obtained from TxStore.WithTx: lesson flags, invoice, lines, ledger updates
  and invoice-number allocation commit atomically or not at all.

GUARANTEES REQUIRED OF IMPLEMENTATIONS:
  - InsertInvoice allocates the next invoice number for the year inside the
    surrounding transaction; a rollback never burns a number.
  - InsertInvoice enforces the (student, enrollment, period) uniqueness
    constraint and returns ErrDuplicatePeriod on conflict. The constraint is
    the authoritative guard against concurrent generation for the same
    enrollment/period; the service-level pre-check only improves error
    messages.
  - Ledger entries are append-only: no delete operation exists, and the only
    update is UpdateLedgerEntryApplication moving AppliedAmount/Status forward.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store (used with ":memory:" in tests)

SEE ALSO:
  - generate.go, ledger.go, credit.go, recalc.go, run.go: consumers
  - store/sqlite/sqlite.go: concrete implementation
*/
package billing

import (
	"context"
	"time"
)

// Store is the persistence surface consumed by the billing services.
type Store interface {
	// Students, courses, enrollments
	GetStudent(ctx context.Context, id StudentID) (*Student, error)
	GetEnrollment(ctx context.Context, id EnrollmentID) (*Enrollment, error)
	ListActiveEnrollments(ctx context.Context, preference PeriodType) ([]Enrollment, error)
	GetCourse(ctx context.Context, id CourseID) (*Course, error)
	GetCourseType(ctx context.Context, id CourseTypeID) (*CourseType, error)

	// Pricing versions, sorted by ValidFrom ascending.
	ListPricingVersions(ctx context.Context, courseTypeID CourseTypeID) ([]PricingVersion, error)
	InsertPricingVersion(ctx context.Context, v *PricingVersion) error
	ClosePricingVersion(ctx context.Context, id string, validUntil time.Time) error

	// Lessons for a course within [from, to], any status.
	ListLessons(ctx context.Context, courseID CourseID, from, to time.Time) ([]Lesson, error)
	SetLessonsInvoiced(ctx context.Context, ids []LessonID, invoiced bool) error

	// Invoices
	InsertInvoice(ctx context.Context, inv *Invoice, lines []InvoiceLine) error
	GetInvoice(ctx context.Context, id InvoiceID) (*Invoice, error)
	GetInvoiceLines(ctx context.Context, id InvoiceID) ([]InvoiceLine, error)
	UpdateInvoice(ctx context.Context, inv *Invoice) error
	ReplaceInvoiceLines(ctx context.Context, id InvoiceID, lines []InvoiceLine) error
	HasInvoiceForPeriod(ctx context.Context, studentID StudentID, enrollmentID EnrollmentID, start, end time.Time) (bool, error)

	// Ledger (append-only; only application state may move forward)
	InsertLedgerEntry(ctx context.Context, e *LedgerEntry) error
	GetLedgerEntry(ctx context.Context, id EntryID) (*LedgerEntry, error)
	ListOpenLedgerEntries(ctx context.Context, studentID StudentID) ([]LedgerEntry, error) // oldest first
	ListLedgerEntries(ctx context.Context, studentID StudentID) ([]LedgerEntry, error)     // newest first
	UpdateLedgerEntryApplication(ctx context.Context, id EntryID, applied Money, status EntryStatus) error
	HasReversal(ctx context.Context, id EntryID) (bool, error)

	// Batch runs (write-once)
	InsertInvoiceRun(ctx context.Context, run *InvoiceRun) error
	ListInvoiceRuns(ctx context.Context, offset, limit int) ([]InvoiceRun, int, error)

	// Settings and school identity
	GetSetting(ctx context.Context, key string) (string, error) // "" when absent
	GetSchoolProfile(ctx context.Context) (*SchoolProfile, error)
}

// TxStore wraps Store with transaction support. WithTx executes fn within a
// unit of work; if fn returns an error the transaction is rolled back.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}
