/*
Package sqlite provides the SQLite-backed implementation of billing.Store.

PURPOSE:
  Implements persistence for the billing engine using SQLite. In production
  the same patterns apply to PostgreSQL - only minor SQL dialect differences.

APPEND-ONLY ENFORCEMENT:
  ledger_entries has no delete path and exactly one update path
  (UpdateLedgerEntryApplication). Corrections happen via reversal entries.

AUTHORITATIVE GUARDS:
  Business invariants that must hold under concurrency are enforced by the
  schema, not just by service pre-checks:
  - ux_invoices_period: one non-credit, non-cancelled invoice per
    (student, enrollment, period) - the duplicate-period guard
  - ux_pricing_current: one current price version per course type
  - invoice numbers: allocated from invoice_counters inside the same
    transaction that inserts the invoice, so rollback never burns a number

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/billing.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  gen := billing.Generator{Store: store}

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - billing/store.go: Interface definitions and contracts
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/cadenza/billing-engine/billing"
)

const (
	dateFormat = "2006-01-02"
	timeFormat = time.RFC3339Nano
)

// dbtx is the subset of *sql.DB and *sql.Tx the queries need. Inside WithTx
// the conn field points at the transaction, so every Store method is
// transaction-aware without duplicated code.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements billing.TxStore using SQLite.
type Store struct {
	db   *sql.DB
	conn dbtx
}

// New opens (or creates) the database and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db, conn: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS students (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		birth_date TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS course_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		individual BOOLEAN NOT NULL DEFAULT FALSE
	);

	CREATE TABLE IF NOT EXISTS courses (
		id TEXT PRIMARY KEY,
		course_type_id TEXT NOT NULL,
		name TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS enrollments (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		course_id TEXT NOT NULL,
		discount_percent TEXT NOT NULL DEFAULT '0',
		discount_type TEXT NOT NULL DEFAULT 'none',
		invoicing_preference TEXT NOT NULL,
		status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_enrollments_status
		ON enrollments(status, invoicing_preference);

	CREATE TABLE IF NOT EXISTS lessons (
		id TEXT PRIMARY KEY,
		course_id TEXT NOT NULL,
		student_id TEXT,
		scheduled_date TEXT NOT NULL,
		status TEXT NOT NULL,
		is_invoiced BOOLEAN NOT NULL DEFAULT FALSE
	);

	-- Hot path for line building
	CREATE INDEX IF NOT EXISTS idx_lessons_course_date
		ON lessons(course_id, scheduled_date);

	CREATE TABLE IF NOT EXISTS pricing_versions (
		id TEXT PRIMARY KEY,
		course_type_id TEXT NOT NULL,
		adult_price TEXT NOT NULL,
		child_price TEXT NOT NULL,
		valid_from TEXT NOT NULL,
		valid_until TEXT,
		is_current BOOLEAN NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_pricing_course_type
		ON pricing_versions(course_type_id, valid_from);

	-- CRITICAL: exactly one open-ended current version per course type
	CREATE UNIQUE INDEX IF NOT EXISTS ux_pricing_current
		ON pricing_versions(course_type_id) WHERE is_current = TRUE;

	CREATE TABLE IF NOT EXISTS invoices (
		id TEXT PRIMARY KEY,
		number TEXT NOT NULL UNIQUE,
		student_id TEXT NOT NULL,
		enrollment_id TEXT,
		issue_date TEXT,
		due_date TEXT,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		description TEXT,
		subtotal TEXT NOT NULL,
		vat_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		total TEXT NOT NULL,
		amount_paid TEXT NOT NULL,
		credits_applied TEXT NOT NULL,
		debits_applied TEXT NOT NULL,
		balance TEXT NOT NULL,
		status TEXT NOT NULL,
		is_credit BOOLEAN NOT NULL DEFAULT FALSE,
		original_invoice_id TEXT,
		original_invoice_number TEXT,
		created_at TEXT NOT NULL
	);

	-- CRITICAL: duplicate-period guard. One live non-credit invoice per
	-- (student, enrollment, period); the authoritative check under
	-- concurrent generation for the same enrollment and period.
	CREATE UNIQUE INDEX IF NOT EXISTS ux_invoices_period
		ON invoices(student_id, enrollment_id, period_start, period_end)
		WHERE is_credit = FALSE AND status != 'cancelled';

	CREATE INDEX IF NOT EXISTS idx_invoices_student
		ON invoices(student_id);

	CREATE TABLE IF NOT EXISTS invoice_lines (
		id TEXT PRIMARY KEY,
		invoice_id TEXT NOT NULL,
		lesson_id TEXT,
		description TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		unit_price TEXT NOT NULL,
		vat_rate TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		line_total TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice
		ON invoice_lines(invoice_id);

	-- Append-only student ledger
	CREATE TABLE IF NOT EXISTS ledger_entries (
		id TEXT PRIMARY KEY,
		student_id TEXT NOT NULL,
		entry_type TEXT NOT NULL,
		amount TEXT NOT NULL,
		applied_amount TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT,
		invoice_id TEXT,
		source_type TEXT NOT NULL,
		reference_id TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ledger_student
		ON ledger_entries(student_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_ledger_status
		ON ledger_entries(student_id, status);
	CREATE INDEX IF NOT EXISTS idx_ledger_reference
		ON ledger_entries(reference_id) WHERE reference_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS invoice_runs (
		id TEXT PRIMARY KEY,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		period_type TEXT NOT NULL,
		enrollments_processed INTEGER NOT NULL,
		invoices_generated INTEGER NOT NULL,
		skipped INTEGER NOT NULL,
		failed INTEGER NOT NULL,
		total_amount TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		status TEXT NOT NULL,
		initiated_by TEXT,
		error_message TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_invoice_runs_created
		ON invoice_runs(created_at DESC);

	-- Per-year sequential invoice numbers, allocated at insert time
	CREATE TABLE IF NOT EXISTS invoice_counters (
		year INTEGER PRIMARY KEY,
		next_seq INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS school_profile (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		name TEXT NOT NULL,
		address TEXT,
		postal_code TEXT,
		city TEXT,
		phone TEXT,
		email TEXT,
		kvk_number TEXT,
		iban TEXT
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS (billing.TxStore)
// =============================================================================

// WithTx executes fn within a database transaction. The Store handed to fn
// routes every query through the transaction.
func (s *Store) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, conn: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

// =============================================================================
// STUDENTS, COURSES, ENROLLMENTS
// =============================================================================

// SaveStudent inserts or updates a student.
func (s *Store) SaveStudent(ctx context.Context, st billing.Student) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO students (id, name, email, birth_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			birth_date = excluded.birth_date`,
		st.ID, st.Name, st.Email,
		st.BirthDate.Format(dateFormat),
		now(),
	)
	return err
}

// GetStudent retrieves a student by ID. Returns nil when absent.
func (s *Store) GetStudent(ctx context.Context, id billing.StudentID) (*billing.Student, error) {
	var (
		st        billing.Student
		birthDate string
		createdAt string
	)
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, email, birth_date, created_at FROM students WHERE id = ?", id,
	).Scan(&st.ID, &st.Name, &st.Email, &birthDate, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	st.BirthDate = parseDate(birthDate)
	st.CreatedAt = parseTime(createdAt)
	return &st, nil
}

// SaveCourseType inserts or updates a course type.
func (s *Store) SaveCourseType(ctx context.Context, ct billing.CourseType) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO course_types (id, name, individual)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			individual = excluded.individual`,
		ct.ID, ct.Name, ct.Individual,
	)
	return err
}

// GetCourseType retrieves a course type by ID.
func (s *Store) GetCourseType(ctx context.Context, id billing.CourseTypeID) (*billing.CourseType, error) {
	var ct billing.CourseType
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, name, individual FROM course_types WHERE id = ?", id,
	).Scan(&ct.ID, &ct.Name, &ct.Individual)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ct, nil
}

// SaveCourse inserts or updates a course.
func (s *Store) SaveCourse(ctx context.Context, c billing.Course) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO courses (id, course_type_id, name)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			course_type_id = excluded.course_type_id,
			name = excluded.name`,
		c.ID, c.CourseTypeID, c.Name,
	)
	return err
}

// GetCourse retrieves a course by ID.
func (s *Store) GetCourse(ctx context.Context, id billing.CourseID) (*billing.Course, error) {
	var c billing.Course
	err := s.conn.QueryRowContext(ctx,
		"SELECT id, course_type_id, name FROM courses WHERE id = ?", id,
	).Scan(&c.ID, &c.CourseTypeID, &c.Name)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveEnrollment inserts or updates an enrollment.
func (s *Store) SaveEnrollment(ctx context.Context, e billing.Enrollment) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO enrollments
		(id, student_id, course_id, discount_percent, discount_type, invoicing_preference, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			discount_percent = excluded.discount_percent,
			discount_type = excluded.discount_type,
			invoicing_preference = excluded.invoicing_preference,
			status = excluded.status`,
		e.ID, e.StudentID, e.CourseID,
		e.DiscountPercent.String(), e.DiscountType,
		e.InvoicingPreference, e.Status, now(),
	)
	return err
}

// GetEnrollment retrieves an enrollment by ID.
func (s *Store) GetEnrollment(ctx context.Context, id billing.EnrollmentID) (*billing.Enrollment, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, student_id, course_id, discount_percent, discount_type,
		       invoicing_preference, status, created_at
		FROM enrollments WHERE id = ?`, id)
	e, err := scanEnrollment(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListActiveEnrollments returns active enrollments with the given
// invoicing preference, in creation order.
func (s *Store) ListActiveEnrollments(ctx context.Context, preference billing.PeriodType) ([]billing.Enrollment, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, student_id, course_id, discount_percent, discount_type,
		       invoicing_preference, status, created_at
		FROM enrollments
		WHERE status = ? AND invoicing_preference = ?
		ORDER BY created_at ASC, id ASC`,
		billing.EnrollmentActive, preference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var enrollments []billing.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows.Scan)
		if err != nil {
			return nil, err
		}
		enrollments = append(enrollments, *e)
	}
	return enrollments, rows.Err()
}

func scanEnrollment(scan func(...any) error) (*billing.Enrollment, error) {
	var (
		e               billing.Enrollment
		discountPercent string
		createdAt       string
	)
	if err := scan(&e.ID, &e.StudentID, &e.CourseID, &discountPercent,
		&e.DiscountType, &e.InvoicingPreference, &e.Status, &createdAt); err != nil {
		return nil, err
	}
	e.DiscountPercent = parseMoney(discountPercent)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// =============================================================================
// LESSONS
// =============================================================================

// SaveLesson inserts or updates a lesson.
func (s *Store) SaveLesson(ctx context.Context, l billing.Lesson) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO lessons (id, course_id, student_id, scheduled_date, status, is_invoiced)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			scheduled_date = excluded.scheduled_date,
			status = excluded.status,
			is_invoiced = excluded.is_invoiced`,
		l.ID, l.CourseID, nullString(string(l.StudentID)),
		l.ScheduledDate.Format(dateFormat), l.Status, l.IsInvoiced,
	)
	return err
}

// GetLesson retrieves a lesson by ID.
func (s *Store) GetLesson(ctx context.Context, id billing.LessonID) (*billing.Lesson, error) {
	row := s.conn.QueryRowContext(ctx, `
		SELECT id, course_id, student_id, scheduled_date, status, is_invoiced
		FROM lessons WHERE id = ?`, id)
	l, err := scanLesson(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return l, nil
}

// ListLessons returns a course's lessons within [from, to], any status.
func (s *Store) ListLessons(ctx context.Context, courseID billing.CourseID, from, to time.Time) ([]billing.Lesson, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, course_id, student_id, scheduled_date, status, is_invoiced
		FROM lessons
		WHERE course_id = ? AND scheduled_date >= ? AND scheduled_date <= ?
		ORDER BY scheduled_date ASC, id ASC`,
		courseID, from.Format(dateFormat), to.Format(dateFormat))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lessons []billing.Lesson
	for rows.Next() {
		l, err := scanLesson(rows.Scan)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, *l)
	}
	return lessons, rows.Err()
}

func scanLesson(scan func(...any) error) (*billing.Lesson, error) {
	var (
		l         billing.Lesson
		studentID sql.NullString
		date      string
	)
	if err := scan(&l.ID, &l.CourseID, &studentID, &date, &l.Status, &l.IsInvoiced); err != nil {
		return nil, err
	}
	l.StudentID = billing.StudentID(studentID.String)
	l.ScheduledDate = parseDate(date)
	return &l, nil
}

// SetLessonsInvoiced flips the billed flag for the given lessons.
func (s *Store) SetLessonsInvoiced(ctx context.Context, ids []billing.LessonID, invoiced bool) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, 0, len(ids)+1)
	args = append(args, invoiced)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.conn.ExecContext(ctx,
		"UPDATE lessons SET is_invoiced = ? WHERE id IN ("+placeholders+")", args...)
	return err
}

// =============================================================================
// PRICING VERSIONS
// =============================================================================

// InsertPricingVersion appends a price version.
func (s *Store) InsertPricingVersion(ctx context.Context, v *billing.PricingVersion) error {
	var validUntil *string
	if v.ValidUntil != nil {
		u := v.ValidUntil.Format(dateFormat)
		validUntil = &u
	}
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO pricing_versions
		(id, course_type_id, adult_price, child_price, valid_from, valid_until, is_current, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.CourseTypeID, v.AdultPrice.String(), v.ChildPrice.String(),
		v.ValidFrom.Format(dateFormat), validUntil, v.IsCurrent, now(),
	)
	return err
}

// ClosePricingVersion ends a version's validity and clears its current flag.
func (s *Store) ClosePricingVersion(ctx context.Context, id string, validUntil time.Time) error {
	_, err := s.conn.ExecContext(ctx, `
		UPDATE pricing_versions
		SET valid_until = ?, is_current = FALSE
		WHERE id = ?`,
		validUntil.Format(dateFormat), id)
	return err
}

// ListPricingVersions returns a course type's versions, oldest first.
func (s *Store) ListPricingVersions(ctx context.Context, courseTypeID billing.CourseTypeID) ([]billing.PricingVersion, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, course_type_id, adult_price, child_price, valid_from, valid_until, is_current, created_at
		FROM pricing_versions
		WHERE course_type_id = ?
		ORDER BY valid_from ASC`, courseTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []billing.PricingVersion
	for rows.Next() {
		var (
			v          billing.PricingVersion
			adult      string
			child      string
			validFrom  string
			validUntil sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&v.ID, &v.CourseTypeID, &adult, &child,
			&validFrom, &validUntil, &v.IsCurrent, &createdAt); err != nil {
			return nil, err
		}
		v.AdultPrice = parseMoney(adult)
		v.ChildPrice = parseMoney(child)
		v.ValidFrom = parseDate(validFrom)
		if validUntil.Valid {
			u := parseDate(validUntil.String)
			v.ValidUntil = &u
		}
		v.CreatedAt = parseTime(createdAt)
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// =============================================================================
// INVOICES
// =============================================================================

// InsertInvoice persists an invoice with its lines, allocating the next
// sequential number for the year inside the current transaction.
func (s *Store) InsertInvoice(ctx context.Context, inv *billing.Invoice, lines []billing.InvoiceLine) error {
	year := time.Now().UTC().Year()
	if inv.IssueDate != nil {
		year = inv.IssueDate.Year()
	}
	seq, err := s.nextInvoiceSeq(ctx, year)
	if err != nil {
		return err
	}
	inv.Number = fmt.Sprintf("INV-%d-%04d", year, seq)
	inv.CreatedAt = time.Now().UTC()

	_, err = s.conn.ExecContext(ctx, `
		INSERT INTO invoices
		(id, number, student_id, enrollment_id, issue_date, due_date,
		 period_start, period_end, description,
		 subtotal, vat_amount, discount_amount, total, amount_paid,
		 credits_applied, debits_applied, balance,
		 status, is_credit, original_invoice_id, original_invoice_number, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.StudentID, nullString(string(inv.EnrollmentID)),
		dateOrNil(inv.IssueDate), dateOrNil(inv.DueDate),
		inv.PeriodStart.Format(dateFormat), inv.PeriodEnd.Format(dateFormat), inv.Description,
		inv.Subtotal.String(), inv.VATAmount.String(), inv.DiscountAmount.String(),
		inv.Total.String(), inv.AmountPaid.String(),
		inv.CreditsApplied.String(), inv.DebitsApplied.String(), inv.Balance.String(),
		inv.Status, inv.IsCredit,
		nullString(string(inv.OriginalInvoiceID)), nullString(inv.OriginalInvoiceNumber),
		inv.CreatedAt.Format(timeFormat),
	)
	if err != nil {
		if isUniqueConstraintError(err, "ux_invoices_period") {
			return &billing.DuplicatePeriodError{
				StudentID:    inv.StudentID,
				EnrollmentID: inv.EnrollmentID,
				PeriodStart:  inv.PeriodStart,
				PeriodEnd:    inv.PeriodEnd,
			}
		}
		return fmt.Errorf("failed to insert invoice: %w", err)
	}

	return s.insertLines(ctx, lines)
}

// nextInvoiceSeq allocates the next per-year invoice sequence. Runs inside
// the caller's transaction so a rollback never burns a number.
func (s *Store) nextInvoiceSeq(ctx context.Context, year int) (int, error) {
	var seq int
	err := s.conn.QueryRowContext(ctx,
		"SELECT next_seq FROM invoice_counters WHERE year = ?", year).Scan(&seq)
	switch {
	case err == sql.ErrNoRows:
		if _, err := s.conn.ExecContext(ctx,
			"INSERT INTO invoice_counters (year, next_seq) VALUES (?, 2)", year); err != nil {
			return 0, err
		}
		return 1, nil
	case err != nil:
		return 0, err
	default:
		if _, err := s.conn.ExecContext(ctx,
			"UPDATE invoice_counters SET next_seq = next_seq + 1 WHERE year = ?", year); err != nil {
			return 0, err
		}
		return seq, nil
	}
}

func (s *Store) insertLines(ctx context.Context, lines []billing.InvoiceLine) error {
	for _, line := range lines {
		_, err := s.conn.ExecContext(ctx, `
			INSERT INTO invoice_lines
			(id, invoice_id, lesson_id, description, quantity, unit_price, vat_rate, discount_amount, line_total)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			line.ID, line.InvoiceID, nullString(string(line.LessonID)), line.Description,
			line.Quantity, line.UnitPrice.String(), line.VATRate.String(),
			line.DiscountAmount.String(), line.LineTotal.String(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert invoice line: %w", err)
		}
	}
	return nil
}

const invoiceSelect = `
	SELECT id, number, student_id, enrollment_id, issue_date, due_date,
	       period_start, period_end, description,
	       subtotal, vat_amount, discount_amount, total, amount_paid,
	       credits_applied, debits_applied, balance,
	       status, is_credit, original_invoice_id, original_invoice_number, created_at
	FROM invoices`

// GetInvoice retrieves an invoice by ID.
func (s *Store) GetInvoice(ctx context.Context, id billing.InvoiceID) (*billing.Invoice, error) {
	row := s.conn.QueryRowContext(ctx, invoiceSelect+" WHERE id = ?", id)
	inv, err := scanInvoice(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListInvoicesForStudent returns a student's invoices, newest first.
func (s *Store) ListInvoicesForStudent(ctx context.Context, studentID billing.StudentID) ([]billing.Invoice, error) {
	rows, err := s.conn.QueryContext(ctx,
		invoiceSelect+" WHERE student_id = ? ORDER BY created_at DESC, rowid DESC", studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []billing.Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows.Scan)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *inv)
	}
	return invoices, rows.Err()
}

func scanInvoice(scan func(...any) error) (*billing.Invoice, error) {
	var (
		inv                billing.Invoice
		enrollmentID       sql.NullString
		issueDate, dueDate sql.NullString
		periodStart        string
		periodEnd          string
		description        sql.NullString
		subtotal, vat      string
		discount, total    string
		paid, credits      string
		debits, balance    string
		originalID         sql.NullString
		originalNumber     sql.NullString
		createdAt          string
	)
	if err := scan(&inv.ID, &inv.Number, &inv.StudentID, &enrollmentID,
		&issueDate, &dueDate, &periodStart, &periodEnd, &description,
		&subtotal, &vat, &discount, &total, &paid,
		&credits, &debits, &balance,
		&inv.Status, &inv.IsCredit, &originalID, &originalNumber, &createdAt); err != nil {
		return nil, err
	}

	inv.EnrollmentID = billing.EnrollmentID(enrollmentID.String)
	if issueDate.Valid {
		d := parseDate(issueDate.String)
		inv.IssueDate = &d
	}
	if dueDate.Valid {
		d := parseDate(dueDate.String)
		inv.DueDate = &d
	}
	inv.PeriodStart = parseDate(periodStart)
	inv.PeriodEnd = parseDate(periodEnd)
	inv.Description = description.String
	inv.Subtotal = parseMoney(subtotal)
	inv.VATAmount = parseMoney(vat)
	inv.DiscountAmount = parseMoney(discount)
	inv.Total = parseMoney(total)
	inv.AmountPaid = parseMoney(paid)
	inv.CreditsApplied = parseMoney(credits)
	inv.DebitsApplied = parseMoney(debits)
	inv.Balance = parseMoney(balance)
	inv.OriginalInvoiceID = billing.InvoiceID(originalID.String)
	inv.OriginalInvoiceNumber = originalNumber.String
	inv.CreatedAt = parseTime(createdAt)
	return &inv, nil
}

// UpdateInvoice persists mutable invoice state. The number, student, period
// and credit back-references never change after insert.
func (s *Store) UpdateInvoice(ctx context.Context, inv *billing.Invoice) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE invoices SET
			issue_date = ?, due_date = ?, description = ?,
			subtotal = ?, vat_amount = ?, discount_amount = ?, total = ?,
			amount_paid = ?, credits_applied = ?, debits_applied = ?, balance = ?,
			status = ?
		WHERE id = ?`,
		dateOrNil(inv.IssueDate), dateOrNil(inv.DueDate), inv.Description,
		inv.Subtotal.String(), inv.VATAmount.String(), inv.DiscountAmount.String(), inv.Total.String(),
		inv.AmountPaid.String(), inv.CreditsApplied.String(), inv.DebitsApplied.String(), inv.Balance.String(),
		inv.Status, inv.ID,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("invoice %s: no row updated", inv.ID)
	}
	return nil
}

// GetInvoiceLines returns an invoice's lines in insert order.
func (s *Store) GetInvoiceLines(ctx context.Context, id billing.InvoiceID) ([]billing.InvoiceLine, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, invoice_id, lesson_id, description, quantity, unit_price, vat_rate, discount_amount, line_total
		FROM invoice_lines
		WHERE invoice_id = ?
		ORDER BY rowid ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []billing.InvoiceLine
	for rows.Next() {
		var (
			line      billing.InvoiceLine
			lessonID  sql.NullString
			unitPrice string
			vatRate   string
			discount  string
			lineTotal string
		)
		if err := rows.Scan(&line.ID, &line.InvoiceID, &lessonID, &line.Description,
			&line.Quantity, &unitPrice, &vatRate, &discount, &lineTotal); err != nil {
			return nil, err
		}
		line.LessonID = billing.LessonID(lessonID.String)
		line.UnitPrice = parseMoney(unitPrice)
		line.VATRate = parseMoney(vatRate)
		line.DiscountAmount = parseMoney(discount)
		line.LineTotal = parseMoney(lineTotal)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

// ReplaceInvoiceLines swaps an invoice's lines. Used by recalculation only.
func (s *Store) ReplaceInvoiceLines(ctx context.Context, id billing.InvoiceID, lines []billing.InvoiceLine) error {
	if _, err := s.conn.ExecContext(ctx,
		"DELETE FROM invoice_lines WHERE invoice_id = ?", id); err != nil {
		return err
	}
	return s.insertLines(ctx, lines)
}

// HasInvoiceForPeriod reports whether a live non-credit invoice already
// covers (student, enrollment, period).
func (s *Store) HasInvoiceForPeriod(ctx context.Context, studentID billing.StudentID, enrollmentID billing.EnrollmentID, start, end time.Time) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM invoices
		WHERE student_id = ? AND enrollment_id = ?
		  AND period_start = ? AND period_end = ?
		  AND is_credit = FALSE AND status != 'cancelled'`,
		studentID, enrollmentID,
		start.Format(dateFormat), end.Format(dateFormat),
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// LEDGER ENTRIES (append-only)
// =============================================================================

// InsertLedgerEntry appends a ledger entry.
func (s *Store) InsertLedgerEntry(ctx context.Context, e *billing.LedgerEntry) error {
	e.CreatedAt = time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO ledger_entries
		(id, student_id, entry_type, amount, applied_amount, status, reason,
		 invoice_id, source_type, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StudentID, e.Type, e.Amount.String(), e.AppliedAmount.String(),
		e.Status, e.Reason, nullString(string(e.InvoiceID)), e.SourceType,
		nullString(string(e.ReferenceID)), e.CreatedAt.Format(timeFormat),
	)
	return err
}

const ledgerSelect = `
	SELECT id, student_id, entry_type, amount, applied_amount, status, reason,
	       invoice_id, source_type, reference_id, created_at
	FROM ledger_entries`

// GetLedgerEntry retrieves a ledger entry by ID.
func (s *Store) GetLedgerEntry(ctx context.Context, id billing.EntryID) (*billing.LedgerEntry, error) {
	row := s.conn.QueryRowContext(ctx, ledgerSelect+" WHERE id = ?", id)
	e, err := scanLedgerEntry(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListOpenLedgerEntries returns the student's not-fully-applied entries,
// oldest first. This is the application order for invoice generation.
func (s *Store) ListOpenLedgerEntries(ctx context.Context, studentID billing.StudentID) ([]billing.LedgerEntry, error) {
	return s.queryLedgerEntries(ctx, ledgerSelect+`
		WHERE student_id = ? AND status IN (?, ?)
		ORDER BY created_at ASC, rowid ASC`,
		studentID, billing.EntryOpen, billing.EntryPartiallyApplied)
}

// ListLedgerEntries returns all of the student's entries, newest first.
func (s *Store) ListLedgerEntries(ctx context.Context, studentID billing.StudentID) ([]billing.LedgerEntry, error) {
	return s.queryLedgerEntries(ctx, ledgerSelect+`
		WHERE student_id = ?
		ORDER BY created_at DESC, rowid DESC`, studentID)
}

func (s *Store) queryLedgerEntries(ctx context.Context, query string, args ...any) ([]billing.LedgerEntry, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []billing.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows.Scan)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanLedgerEntry(scan func(...any) error) (*billing.LedgerEntry, error) {
	var (
		e           billing.LedgerEntry
		amount      string
		applied     string
		reason      sql.NullString
		invoiceID   sql.NullString
		referenceID sql.NullString
		createdAt   string
	)
	if err := scan(&e.ID, &e.StudentID, &e.Type, &amount, &applied, &e.Status,
		&reason, &invoiceID, &e.SourceType, &referenceID, &createdAt); err != nil {
		return nil, err
	}
	e.Amount = parseMoney(amount)
	e.AppliedAmount = parseMoney(applied)
	e.Reason = reason.String
	e.InvoiceID = billing.InvoiceID(invoiceID.String)
	e.ReferenceID = billing.EntryID(referenceID.String)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}

// UpdateLedgerEntryApplication moves an entry's application state forward.
// This is the ONLY update path into ledger_entries.
func (s *Store) UpdateLedgerEntryApplication(ctx context.Context, id billing.EntryID, applied billing.Money, status billing.EntryStatus) error {
	res, err := s.conn.ExecContext(ctx,
		"UPDATE ledger_entries SET applied_amount = ?, status = ? WHERE id = ?",
		applied.String(), status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger entry %s: no row updated", id)
	}
	return nil
}

// HasReversal reports whether an entry has already been reversed.
func (s *Store) HasReversal(ctx context.Context, id billing.EntryID) (bool, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE reference_id = ? AND source_type = ?`,
		id, billing.SourceReversal).Scan(&count)
	return count > 0, err
}

// =============================================================================
// INVOICE RUNS (write-once)
// =============================================================================

// InsertInvoiceRun persists a batch run record.
func (s *Store) InsertInvoiceRun(ctx context.Context, run *billing.InvoiceRun) error {
	run.CreatedAt = time.Now().UTC()
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO invoice_runs
		(id, period_start, period_end, period_type, enrollments_processed,
		 invoices_generated, skipped, failed, total_amount, duration_ms,
		 status, initiated_by, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.PeriodStart.Format(dateFormat), run.PeriodEnd.Format(dateFormat),
		run.PeriodType, run.EnrollmentsProcessed, run.InvoicesGenerated,
		run.Skipped, run.Failed, run.TotalAmount.String(), run.DurationMs,
		run.Status, run.InitiatedBy, nullString(run.ErrorMessage),
		run.CreatedAt.Format(timeFormat),
	)
	return err
}

// ListInvoiceRuns returns run records newest first, with the total count.
func (s *Store) ListInvoiceRuns(ctx context.Context, offset, limit int) ([]billing.InvoiceRun, int, error) {
	var total int
	if err := s.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM invoice_runs").Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, period_start, period_end, period_type, enrollments_processed,
		       invoices_generated, skipped, failed, total_amount, duration_ms,
		       status, initiated_by, error_message, created_at
		FROM invoice_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var runs []billing.InvoiceRun
	for rows.Next() {
		var (
			run          billing.InvoiceRun
			periodStart  string
			periodEnd    string
			totalAmount  string
			initiatedBy  sql.NullString
			errorMessage sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&run.ID, &periodStart, &periodEnd, &run.PeriodType,
			&run.EnrollmentsProcessed, &run.InvoicesGenerated, &run.Skipped, &run.Failed,
			&totalAmount, &run.DurationMs, &run.Status, &initiatedBy,
			&errorMessage, &createdAt); err != nil {
			return nil, 0, err
		}
		run.PeriodStart = parseDate(periodStart)
		run.PeriodEnd = parseDate(periodEnd)
		run.TotalAmount = parseMoney(totalAmount)
		run.InitiatedBy = initiatedBy.String
		run.ErrorMessage = errorMessage.String
		run.CreatedAt = parseTime(createdAt)
		runs = append(runs, run)
	}
	return runs, total, rows.Err()
}

// =============================================================================
// SETTINGS & SCHOOL PROFILE
// =============================================================================

// SetSetting upserts a settings key.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// GetSetting returns a settings value, or "" when absent.
func (s *Store) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.conn.QueryRowContext(ctx,
		"SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// SaveSchoolProfile upserts the single school billing identity row.
func (s *Store) SaveSchoolProfile(ctx context.Context, p billing.SchoolProfile) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO school_profile (id, name, address, postal_code, city, phone, email, kvk_number, iban)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			address = excluded.address,
			postal_code = excluded.postal_code,
			city = excluded.city,
			phone = excluded.phone,
			email = excluded.email,
			kvk_number = excluded.kvk_number,
			iban = excluded.iban`,
		p.Name, p.Address, p.PostalCode, p.City, p.Phone, p.Email, p.KvKNumber, p.IBAN,
	)
	return err
}

// GetSchoolProfile returns the school billing identity, or nil if unset.
func (s *Store) GetSchoolProfile(ctx context.Context) (*billing.SchoolProfile, error) {
	var p billing.SchoolProfile
	err := s.conn.QueryRowContext(ctx, `
		SELECT name, address, postal_code, city, phone, email, kvk_number, iban
		FROM school_profile WHERE id = 1`,
	).Scan(&p.Name, &p.Address, &p.PostalCode, &p.City, &p.Phone, &p.Email, &p.KvKNumber, &p.IBAN)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Reset clears all data. Used by the demo seed and tests only.
func (s *Store) Reset(ctx context.Context) error {
	tables := []string{
		"invoice_lines", "invoices", "ledger_entries", "invoice_runs",
		"lessons", "enrollments", "pricing_versions", "courses",
		"course_types", "students", "invoice_counters", "settings",
		"school_profile",
	}
	for _, table := range tables {
		if _, err := s.conn.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

func now() string { return time.Now().UTC().Format(timeFormat) }

func parseDate(s string) time.Time {
	t, _ := time.Parse(dateFormat, s)
	return t
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeFormat, s)
	return t
}

func parseMoney(s string) billing.Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func dateOrNil(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(dateFormat)
	return &s
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error, index string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") && strings.Contains(msg, index)
}
