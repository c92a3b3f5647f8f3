/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Complex response wrappers

MONEY:
  All currency amounts cross the wire as fixed two-decimal strings
  ("121.00"), never as JSON numbers. Request amounts are parsed with
  decimal.NewFromString in the handlers.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/cadenza/billing-engine/billing"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// PeriodRequest selects a billing period. Month is the calendar month for
// monthly periods and the quarter's first month for quarterly ones.
type PeriodRequest struct {
	PeriodType string `json:"period_type"` // "monthly" | "quarterly"
	Year       int    `json:"year"`
	Month      int    `json:"month"`
}

// GenerateInvoiceRequest asks for a single enrollment invoice.
type GenerateInvoiceRequest struct {
	EnrollmentID string `json:"enrollment_id"`
	PeriodRequest
	ApplyCorrections bool `json:"apply_corrections"`
}

// GenerateBatchRequest asks for invoices across all matching enrollments.
type GenerateBatchRequest struct {
	PeriodRequest
	ApplyCorrections bool   `json:"apply_corrections"`
	InitiatedBy      string `json:"initiated_by"`
}

// CorrectionRequest books a manual ledger credit or debit.
type CorrectionRequest struct {
	Type      string `json:"type"` // "credit" | "debit"
	Amount    string `json:"amount"`
	Reason    string `json:"reason"`
	InvoiceID string `json:"invoice_id,omitempty"` // apply immediately when set
}

// ApplyEntryRequest applies (part of) a ledger entry to an invoice.
type ApplyEntryRequest struct {
	InvoiceID string `json:"invoice_id"`
	Amount    string `json:"amount"`
}

// ReverseEntryRequest voids a ledger entry via an opposite entry.
type ReverseEntryRequest struct {
	Reason string `json:"reason"`
}

// CreditInvoiceRequest creates a credit invoice for selected lines.
type CreditInvoiceRequest struct {
	LineIDs []string `json:"line_ids"`
}

// ApplyCreditRequest applies existing credit balance to an invoice.
type ApplyCreditRequest struct {
	Amount string `json:"amount"`
}

// PaymentRequest records a received payment against an invoice.
type PaymentRequest struct {
	Amount string `json:"amount"`
}

// CreatePricingRequest inserts a new effective-dated price version.
type CreatePricingRequest struct {
	CourseTypeID string `json:"course_type_id"`
	AdultPrice   string `json:"adult_price"`
	ChildPrice   string `json:"child_price"`
	ValidFrom    string `json:"valid_from"` // YYYY-MM-DD
}

// InvoiceDTO represents an invoice in API responses.
type InvoiceDTO struct {
	ID             string `json:"id"`
	Number         string `json:"number"`
	StudentID      string `json:"student_id"`
	EnrollmentID   string `json:"enrollment_id,omitempty"`
	IssueDate      string `json:"issue_date,omitempty"`
	DueDate        string `json:"due_date,omitempty"`
	PeriodStart    string `json:"period_start"`
	PeriodEnd      string `json:"period_end"`
	Description    string `json:"description,omitempty"`
	Subtotal       string `json:"subtotal"`
	VATAmount      string `json:"vat_amount"`
	DiscountAmount string `json:"discount_amount"`
	Total          string `json:"total"`
	AmountPaid     string `json:"amount_paid"`
	CreditsApplied string `json:"credits_applied"`
	DebitsApplied  string `json:"debits_applied"`
	Balance        string `json:"balance"`
	Status         string `json:"status"`
	IsCredit       bool   `json:"is_credit"`
	OriginalID     string `json:"original_invoice_id,omitempty"`
	OriginalNumber string `json:"original_invoice_number,omitempty"`
	CreatedAt      string `json:"created_at"`
}

// InvoiceLineDTO represents one invoice line.
type InvoiceLineDTO struct {
	ID             string `json:"id"`
	LessonID       string `json:"lesson_id,omitempty"`
	Description    string `json:"description"`
	Quantity       int    `json:"quantity"`
	UnitPrice      string `json:"unit_price"`
	VATRate        string `json:"vat_rate"`
	DiscountAmount string `json:"discount_amount"`
	LineTotal      string `json:"line_total"`
}

// InvoiceDetailDTO is an invoice with its lines and the school identity.
type InvoiceDetailDTO struct {
	Invoice InvoiceDTO        `json:"invoice"`
	Lines   []InvoiceLineDTO  `json:"lines"`
	School  *SchoolProfileDTO `json:"school,omitempty"`
}

// SchoolProfileDTO is the billing identity printed on invoices.
type SchoolProfileDTO struct {
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
	KvKNumber  string `json:"kvk_number,omitempty"`
	IBAN       string `json:"iban,omitempty"`
}

// LedgerEntryDTO represents a ledger entry, with the running balance after
// it when returned as part of a student ledger view.
type LedgerEntryDTO struct {
	ID             string `json:"id"`
	StudentID      string `json:"student_id"`
	Type           string `json:"type"`
	Amount         string `json:"amount"`
	AppliedAmount  string `json:"applied_amount"`
	Available      string `json:"available"`
	Status         string `json:"status"`
	Reason         string `json:"reason,omitempty"`
	InvoiceID      string `json:"invoice_id,omitempty"`
	SourceType     string `json:"source_type"`
	ReferenceID    string `json:"reference_id,omitempty"`
	CreatedAt      string `json:"created_at"`
	RunningBalance string `json:"running_balance,omitempty"`
}

// StudentLedgerDTO is the full ledger view for a student.
type StudentLedgerDTO struct {
	StudentID string           `json:"student_id"`
	Balance   string           `json:"balance"`
	Entries   []LedgerEntryDTO `json:"entries"`
}

// ApplyResultDTO is the outcome of applying a ledger entry to an invoice.
type ApplyResultDTO struct {
	Entry   LedgerEntryDTO `json:"entry"`
	Invoice InvoiceDTO     `json:"invoice"`
}

// CreditConfirmationDTO is the outcome of confirming a credit invoice.
type CreditConfirmationDTO struct {
	Invoice InvoiceDTO     `json:"invoice"`
	Entry   LedgerEntryDTO `json:"entry"`
}

// BatchResultDTO summarises one batch generation.
type BatchResultDTO struct {
	Processed   int               `json:"processed"`
	Generated   int               `json:"generated"`
	Skipped     int               `json:"skipped"`
	Failed      int               `json:"failed"`
	TotalAmount string            `json:"total_amount"`
	Errors      map[string]string `json:"errors,omitempty"`
	Invoices    []InvoiceDTO      `json:"invoices"`
}

// RunDTO represents a batch run audit record.
type RunDTO struct {
	ID                   string `json:"id"`
	PeriodStart          string `json:"period_start"`
	PeriodEnd            string `json:"period_end"`
	PeriodType           string `json:"period_type"`
	PeriodLabel          string `json:"period_label"`
	EnrollmentsProcessed int    `json:"enrollments_processed"`
	InvoicesGenerated    int    `json:"invoices_generated"`
	Skipped              int    `json:"skipped"`
	Failed               int    `json:"failed"`
	TotalAmount          string `json:"total_amount"`
	DurationMs           int64  `json:"duration_ms"`
	Status               string `json:"status"`
	InitiatedBy          string `json:"initiated_by,omitempty"`
	ErrorMessage         string `json:"error_message,omitempty"`
	CreatedAt            string `json:"created_at"`
}

// RunPageDTO is one page of run history.
type RunPageDTO struct {
	Runs       []RunDTO `json:"runs"`
	Page       int      `json:"page"`
	PageSize   int      `json:"page_size"`
	Total      int      `json:"total"`
	TotalPages int      `json:"total_pages"`
}

// PricingVersionDTO represents an effective-dated price version.
type PricingVersionDTO struct {
	ID           string `json:"id"`
	CourseTypeID string `json:"course_type_id"`
	AdultPrice   string `json:"adult_price"`
	ChildPrice   string `json:"child_price"`
	ValidFrom    string `json:"valid_from"`
	ValidUntil   string `json:"valid_until,omitempty"`
	IsCurrent    bool   `json:"is_current"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	dto := InvoiceDTO{
		ID:             string(inv.ID),
		Number:         inv.Number,
		StudentID:      string(inv.StudentID),
		EnrollmentID:   string(inv.EnrollmentID),
		PeriodStart:    inv.PeriodStart.Format("2006-01-02"),
		PeriodEnd:      inv.PeriodEnd.Format("2006-01-02"),
		Description:    inv.Description,
		Subtotal:       inv.Subtotal.StringFixed(2),
		VATAmount:      inv.VATAmount.StringFixed(2),
		DiscountAmount: inv.DiscountAmount.StringFixed(2),
		Total:          inv.Total.StringFixed(2),
		AmountPaid:     inv.AmountPaid.StringFixed(2),
		CreditsApplied: inv.CreditsApplied.StringFixed(2),
		DebitsApplied:  inv.DebitsApplied.StringFixed(2),
		Balance:        inv.Balance.StringFixed(2),
		Status:         string(inv.Status),
		IsCredit:       inv.IsCredit,
		OriginalID:     string(inv.OriginalInvoiceID),
		OriginalNumber: inv.OriginalInvoiceNumber,
		CreatedAt:      inv.CreatedAt.Format(time.RFC3339),
	}
	if inv.IssueDate != nil {
		dto.IssueDate = inv.IssueDate.Format("2006-01-02")
	}
	if inv.DueDate != nil {
		dto.DueDate = inv.DueDate.Format("2006-01-02")
	}
	return dto
}

func toLineDTOs(lines []billing.InvoiceLine) []InvoiceLineDTO {
	dtos := make([]InvoiceLineDTO, len(lines))
	for i, line := range lines {
		dtos[i] = InvoiceLineDTO{
			ID:             string(line.ID),
			LessonID:       string(line.LessonID),
			Description:    line.Description,
			Quantity:       line.Quantity,
			UnitPrice:      line.UnitPrice.StringFixed(2),
			VATRate:        line.VATRate.StringFixed(2),
			DiscountAmount: line.DiscountAmount.StringFixed(2),
			LineTotal:      line.LineTotal.StringFixed(2),
		}
	}
	return dtos
}

func toEntryDTO(e *billing.LedgerEntry) LedgerEntryDTO {
	return LedgerEntryDTO{
		ID:            string(e.ID),
		StudentID:     string(e.StudentID),
		Type:          string(e.Type),
		Amount:        e.Amount.StringFixed(2),
		AppliedAmount: e.AppliedAmount.StringFixed(2),
		Available:     e.Available().StringFixed(2),
		Status:        string(e.Status),
		Reason:        e.Reason,
		InvoiceID:     string(e.InvoiceID),
		SourceType:    e.SourceType,
		ReferenceID:   string(e.ReferenceID),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
	}
}

func toRunDTO(run *billing.InvoiceRun) RunDTO {
	period := billing.Period{Start: run.PeriodStart, End: run.PeriodEnd}
	return RunDTO{
		ID:                   string(run.ID),
		PeriodStart:          run.PeriodStart.Format("2006-01-02"),
		PeriodEnd:            run.PeriodEnd.Format("2006-01-02"),
		PeriodType:           string(run.PeriodType),
		PeriodLabel:          billing.PeriodLabel(run.PeriodType, period),
		EnrollmentsProcessed: run.EnrollmentsProcessed,
		InvoicesGenerated:    run.InvoicesGenerated,
		Skipped:              run.Skipped,
		Failed:               run.Failed,
		TotalAmount:          run.TotalAmount.StringFixed(2),
		DurationMs:           run.DurationMs,
		Status:               string(run.Status),
		InitiatedBy:          run.InitiatedBy,
		ErrorMessage:         run.ErrorMessage,
		CreatedAt:            run.CreatedAt.Format(time.RFC3339),
	}
}

func toSchoolDTO(p *billing.SchoolProfile) *SchoolProfileDTO {
	if p == nil {
		return nil
	}
	return &SchoolProfileDTO{
		Name:       p.Name,
		Address:    p.Address,
		PostalCode: p.PostalCode,
		City:       p.City,
		Phone:      p.Phone,
		Email:      p.Email,
		KvKNumber:  p.KvKNumber,
		IBAN:       p.IBAN,
	}
}

func toPricingDTO(v *billing.PricingVersion) PricingVersionDTO {
	dto := PricingVersionDTO{
		ID:           v.ID,
		CourseTypeID: string(v.CourseTypeID),
		AdultPrice:   v.AdultPrice.StringFixed(2),
		ChildPrice:   v.ChildPrice.StringFixed(2),
		ValidFrom:    v.ValidFrom.Format("2006-01-02"),
		IsCurrent:    v.IsCurrent,
	}
	if v.ValidUntil != nil {
		dto.ValidUntil = v.ValidUntil.Format("2006-01-02")
	}
	return dto
}
