/*
Package billing contains the invoicing and ledger engine for the school.

PURPOSE:
  This package holds the domain model and the core algorithms: effective-dated
  pricing, invoice line building, invoice generation, the student ledger, credit
  invoices, recalculation, and batch runs. Persistence is behind the Store
  interface (store.go); HTTP is in the api package.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: currency amounts as decimal.Decimal, rounded with bankers rounding
  - Invoice / InvoiceLine: the priced document and its per-lesson lines
  - LedgerEntry: an append-only credit or debit against a student's account
  - InvoiceRun: the audit record of one batch generation
  - PricingVersion: one effective-dated price for a course type

DESIGN PRINCIPLES:
  1. Decimal money: no float64 anywhere near a currency amount
  2. Append-only ledger: entries are never deleted, only status-transitioned
  3. Type-safe IDs: StudentID and InvoiceID cannot be mixed up
  4. Derived balances: invoice balance and student balance are computed from
     recorded movements, never kept as free-standing mutable counters

SEE ALSO:
  - ledger.go:   ledger entry lifecycle and the application algorithm
  - generate.go: invoice generation (single and batch)
  - store.go:    persistence interfaces
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amounts with bankers rounding
// =============================================================================

// Money is a currency amount. Single currency, two decimal places.
type Money = decimal.Decimal

// MoneyFromFloat builds a Money from a float literal (test and seed helper).
func MoneyFromFloat(v float64) Money { return decimal.NewFromFloat(v) }

// MustMoney parses a decimal string, returning zero on malformed input.
func MustMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// RoundMoney rounds to currency precision using bankers rounding.
// Applied per line, never in aggregate, so line sums reconcile exactly.
func RoundMoney(d Money) Money { return d.RoundBank(2) }

// Zero is the zero currency amount.
var Zero = decimal.Zero

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	StudentID    string
	CourseID     string
	CourseTypeID string
	EnrollmentID string
	LessonID     string
	InvoiceID    string
	LineID       string
	EntryID      string
	RunID        string
)

// =============================================================================
// STUDENTS, COURSES, ENROLLMENTS
// =============================================================================

// Student is the billed party. BirthDate drives adult/child price selection.
type Student struct {
	ID        StudentID
	Name      string
	Email     string
	BirthDate time.Time
	CreatedAt time.Time
}

// AgeAt returns the student's age in whole years at the given date.
func (s Student) AgeAt(at time.Time) int {
	age := at.Year() - s.BirthDate.Year()
	anniversary := time.Date(at.Year(), s.BirthDate.Month(), s.BirthDate.Day(), 0, 0, 0, 0, time.UTC)
	if at.Before(anniversary) {
		age--
	}
	return age
}

// CourseType groups courses that share pricing (e.g. "piano individual").
type CourseType struct {
	ID         CourseTypeID
	Name       string
	Individual bool // individual lessons carry a student; group lessons do not
}

// Course is a concrete scheduled course of a course type.
type Course struct {
	ID           CourseID
	CourseTypeID CourseTypeID
	Name         string
}

type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

type DiscountType string

const (
	DiscountNone    DiscountType = "none"
	DiscountPercent DiscountType = "percent"
)

// Enrollment links a student to a course and drives billing cadence.
type Enrollment struct {
	ID                  EnrollmentID
	StudentID           StudentID
	CourseID            CourseID
	DiscountPercent     decimal.Decimal
	DiscountType        DiscountType
	InvoicingPreference PeriodType // monthly or quarterly
	Status              EnrollmentStatus
	CreatedAt           time.Time
}

// =============================================================================
// LESSONS - Upstream facts, mutable only by the is_invoiced flag
// =============================================================================

type LessonStatus string

const (
	LessonScheduled LessonStatus = "scheduled"
	LessonCompleted LessonStatus = "completed"
	LessonCancelled LessonStatus = "cancelled"
)

// Lesson is a scheduled (or past) lesson. StudentID is empty for group
// lessons; those are billed once per enrollment, not once per attendee.
type Lesson struct {
	ID            LessonID
	CourseID      CourseID
	StudentID     StudentID // empty for group lessons
	ScheduledDate time.Time
	Status        LessonStatus
	IsInvoiced    bool
}

// =============================================================================
// PRICING - Effective-dated price versions
// =============================================================================

// PricingVersion is one price for a course type over a validity interval
// [ValidFrom, ValidUntil). Exactly one version per course type is current
// (IsCurrent = true, ValidUntil = nil) at any time.
type PricingVersion struct {
	ID           string
	CourseTypeID CourseTypeID
	AdultPrice   Money
	ChildPrice   Money
	ValidFrom    time.Time
	ValidUntil   *time.Time
	IsCurrent    bool
	CreatedAt    time.Time
}

// Covers reports whether the version's validity interval contains the date.
func (v PricingVersion) Covers(date time.Time) bool {
	if date.Before(v.ValidFrom) {
		return false
	}
	return v.ValidUntil == nil || date.Before(*v.ValidUntil)
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

// Invoice is the priced billing document for one enrollment and period.
//
// INVARIANTS:
//   - Total = Subtotal + VATAmount - DiscountAmount
//   - Balance = Total - AmountPaid - CreditsApplied + DebitsApplied
//   - A credit invoice carries the same invariants with all monetary
//     fields negative or zero.
type Invoice struct {
	ID           InvoiceID
	Number       string // INV-<year>-<seq>, allocated at commit
	StudentID    StudentID
	EnrollmentID EnrollmentID // empty for credit invoices of wound-down enrollments
	IssueDate    *time.Time
	DueDate      *time.Time
	PeriodStart  time.Time
	PeriodEnd    time.Time
	Description  string

	Subtotal       Money
	VATAmount      Money
	DiscountAmount Money
	Total          Money
	AmountPaid     Money
	CreditsApplied Money // ledger credits applied to this invoice
	DebitsApplied  Money // ledger debits applied to this invoice
	Balance        Money

	Status                InvoiceStatus
	IsCredit              bool
	OriginalInvoiceID     InvoiceID // set on credit invoices
	OriginalInvoiceNumber string
	CreatedAt             time.Time
}

// RecomputeBalance re-derives Balance from the recorded movements.
func (inv *Invoice) RecomputeBalance() {
	inv.Balance = inv.Total.Sub(inv.AmountPaid).Sub(inv.CreditsApplied).Add(inv.DebitsApplied)
}

// Editable reports whether the invoice may still be recalculated or have
// ledger entries applied. Paid and Cancelled invoices are frozen.
func (inv *Invoice) Editable() bool {
	return inv.Status != InvoicePaid && inv.Status != InvoiceCancelled
}

// InvoiceLine bills a single lesson (or a synthetic fee). Immutable once the
// parent invoice leaves Draft.
type InvoiceLine struct {
	ID             LineID
	InvoiceID      InvoiceID
	LessonID       LessonID // empty for synthetic lines
	Description    string
	Quantity       int
	UnitPrice      Money
	VATRate        decimal.Decimal // percentage, always positive
	DiscountAmount Money
	LineTotal      Money // Quantity x UnitPrice, before discount
}

// =============================================================================
// LEDGER ENTRIES - Append-only credits and debits per student
// =============================================================================

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

type EntryStatus string

const (
	EntryOpen             EntryStatus = "open"
	EntryPartiallyApplied EntryStatus = "partially_applied"
	EntryFullyApplied     EntryStatus = "fully_applied"
)

// Source types record which event produced a ledger entry.
const (
	SourceManualCorrection  = "manual_correction"
	SourceCreditInvoice     = "credit_invoice"
	SourceCreditApplication = "credit_application"
	SourceReversal          = "reversal"
)

// LedgerEntry is one credit or debit against a student's account. Amount is
// always positive; the sign is encoded by Type. Entries are never deleted and
// never edited except through the application algorithm, which only moves
// AppliedAmount and Status forward.
type LedgerEntry struct {
	ID            EntryID
	StudentID     StudentID
	Type          EntryType
	Amount        Money
	AppliedAmount Money
	Status        EntryStatus
	Reason        string
	InvoiceID     InvoiceID // set when the entry arose from an invoice event
	SourceType    string
	ReferenceID   EntryID // set on reversals: the entry being reversed
	CreatedAt     time.Time
}

// Available returns the amount not yet applied to any invoice.
func (e LedgerEntry) Available() Money { return e.Amount.Sub(e.AppliedAmount) }

// Signed returns the entry's contribution to the student balance:
// positive for debits, negative for credits.
func (e LedgerEntry) Signed() Money {
	if e.Type == EntryDebit {
		return e.Amount
	}
	return e.Amount.Neg()
}

// =============================================================================
// INVOICE RUNS - Write-once audit records of batch generation
// =============================================================================

type RunStatus string

const (
	RunSuccess        RunStatus = "success"
	RunPartialSuccess RunStatus = "partial_success"
	RunFailed         RunStatus = "failed"
)

// InvoiceRun records the outcome of one batch invocation, success or failure.
type InvoiceRun struct {
	ID                   RunID
	PeriodStart          time.Time
	PeriodEnd            time.Time
	PeriodType           PeriodType
	EnrollmentsProcessed int
	InvoicesGenerated    int
	Skipped              int
	Failed               int
	TotalAmount          Money
	DurationMs           int64
	Status               RunStatus
	InitiatedBy          string
	ErrorMessage         string
	CreatedAt            time.Time
}

// =============================================================================
// SCHOOL PROFILE & SETTINGS
// =============================================================================

// SchoolProfile is the read-only billing identity printed on invoices.
type SchoolProfile struct {
	Name       string
	Address    string
	PostalCode string
	City       string
	Phone      string
	Email      string
	KvKNumber  string
	IBAN       string
}

// Setting keys consumed from the key-value settings lookup.
const (
	SettingVATRate           = "vat_rate"            // percentage, default 21
	SettingPaymentDueDays    = "payment_due_days"    // default 14
	SettingAdultAgeThreshold = "adult_age_threshold" // default 18
)
