/*
handlers.go - HTTP API handlers for the billing engine

PURPOSE:
  Exposes invoice generation, the student ledger, credit invoices and batch
  runs via REST API. Handles HTTP request/response, JSON serialization, and
  delegates to the billing services.

ENDPOINTS:
  Invoices:
    POST   /api/invoices/generate          Generate a single invoice
    POST   /api/invoices/generate-batch    Generate a batch (records a run)
    GET    /api/invoices/{id}              Invoice + lines + school profile
    POST   /api/invoices/{id}/send         Draft -> Sent
    POST   /api/invoices/{id}/payments     Record a received payment
    POST   /api/invoices/{id}/recalculate  Rebuild lines from current data
    POST   /api/invoices/{id}/credit       Create a credit invoice
    POST   /api/invoices/{id}/apply-credit Apply existing credit balance
    POST   /api/credit-invoices/{id}/confirm

  Ledger:
    GET    /api/students/{id}/ledger       Entries + running balance
    POST   /api/students/{id}/corrections  Manual credit/debit
    POST   /api/ledger-entries/{id}/apply  Apply entry to an invoice
    POST   /api/ledger-entries/{id}/reverse

  Runs:
    GET    /api/runs                       Paginated run history
    POST   /api/runs                       Run a batch now

  Pricing:
    GET    /api/course-types/{id}/pricing  Version history
    POST   /api/pricing                    Insert a new price version

  Demo:
    POST   /api/demo/seed                  Load demo dataset

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Duplicate invoice for period
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - demo.go: Demo dataset seeding
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cadenza/billing-engine/billing"
	"github.com/cadenza/billing-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store     *sqlite.Store
	Generator *billing.Generator
	Ledger    *billing.Ledger
	Credit    *billing.CreditEngine
	Recalc    *billing.Recalculator
	Invoices  *billing.Invoices
	Runner    *billing.Runner
	Pricing   *billing.Pricing
}

// NewHandler creates a handler with all billing services wired to the store.
func NewHandler(store *sqlite.Store) *Handler {
	generator := billing.NewGenerator(store)
	return &Handler{
		Store:     store,
		Generator: generator,
		Ledger:    billing.NewLedger(store),
		Credit:    billing.NewCreditEngine(store),
		Recalc:    billing.NewRecalculator(store),
		Invoices:  billing.NewInvoices(store),
		Runner:    billing.NewRunner(store, generator),
		Pricing:   billing.NewPricing(store),
	}
}

// =============================================================================
// INVOICE HANDLERS
// =============================================================================

// GenerateInvoice generates one invoice for an enrollment and period.
func (h *Handler) GenerateInvoice(w http.ResponseWriter, r *http.Request) {
	var req GenerateInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.EnrollmentID == "" {
		writeError(w, http.StatusBadRequest, "enrollment_id is required", nil)
		return
	}
	period, periodType, err := parsePeriod(req.PeriodRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}

	inv, err := h.Generator.Generate(r.Context(),
		billing.EnrollmentID(req.EnrollmentID), period, periodType, req.ApplyCorrections)
	if err != nil {
		writeDomainError(w, "Failed to generate invoice", err)
		return
	}

	InvoicesGenerated.WithLabelValues("invoice").Inc()
	writeJSON(w, http.StatusCreated, toInvoiceDTO(inv))
}

// GenerateBatch generates invoices for all matching enrollments and records
// a run audit record regardless of outcome.
func (h *Handler) GenerateBatch(w http.ResponseWriter, r *http.Request) {
	var req GenerateBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	period, periodType, err := parsePeriod(req.PeriodRequest)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid period", err)
		return
	}
	initiatedBy := req.InitiatedBy
	if initiatedBy == "" {
		initiatedBy = "api"
	}

	run, err := h.Runner.RunBatch(r.Context(), period, periodType, req.ApplyCorrections, initiatedBy)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Batch run failed", err)
		return
	}

	BatchRuns.WithLabelValues(string(run.Status)).Inc()
	InvoicesGenerated.WithLabelValues("invoice").Add(float64(run.InvoicesGenerated))
	writeJSON(w, http.StatusCreated, toRunDTO(run))
}

// GetInvoice returns an invoice with its lines and the school profile.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	detail, err := h.Invoices.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to get invoice", err)
		return
	}

	writeJSON(w, http.StatusOK, InvoiceDetailDTO{
		Invoice: toInvoiceDTO(detail.Invoice),
		Lines:   toLineDTOs(detail.Lines),
		School:  toSchoolDTO(detail.School),
	})
}

// SendInvoice transitions a draft invoice to sent, stamping issue/due dates.
func (h *Handler) SendInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Invoices.Send(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to send invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// RecordPayment records a received payment against an invoice.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req PaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	inv, err := h.Invoices.RecordPayment(r.Context(), id, amount)
	if err != nil {
		writeDomainError(w, "Failed to record payment", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// RecalculateInvoice rebuilds an editable invoice from current lesson and
// pricing data. An invoice left with no billable lessons is cancelled.
func (h *Handler) RecalculateInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, err := h.Recalc.Recalculate(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to recalculate invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// =============================================================================
// CREDIT INVOICE HANDLERS
// =============================================================================

// CreateCreditInvoice creates a draft credit invoice from selected lines.
func (h *Handler) CreateCreditInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req CreditInvoiceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	lineIDs := make([]billing.LineID, len(req.LineIDs))
	for i, lid := range req.LineIDs {
		lineIDs[i] = billing.LineID(lid)
	}

	credit, err := h.Credit.CreateCreditInvoice(r.Context(), id, lineIDs)
	if err != nil {
		writeDomainError(w, "Failed to create credit invoice", err)
		return
	}

	InvoicesGenerated.WithLabelValues("credit").Inc()
	writeJSON(w, http.StatusCreated, toInvoiceDTO(credit))
}

// ConfirmCreditInvoice finalizes a draft credit invoice and books the
// resulting credit on the student's ledger.
func (h *Handler) ConfirmCreditInvoice(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	inv, entry, err := h.Credit.ConfirmCreditInvoice(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to confirm credit invoice", err)
		return
	}

	LedgerEntriesCreated.WithLabelValues(entry.SourceType).Inc()
	writeJSON(w, http.StatusOK, CreditConfirmationDTO{
		Invoice: toInvoiceDTO(inv),
		Entry:   toEntryDTO(entry),
	})
}

// ApplyCreditBalance applies a student's existing credit balance to an
// outstanding invoice.
func (h *Handler) ApplyCreditBalance(w http.ResponseWriter, r *http.Request) {
	id := billing.InvoiceID(chi.URLParam(r, "id"))

	var req ApplyCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	inv, err := h.Credit.ApplyCreditBalance(r.Context(), id, amount)
	if err != nil {
		writeDomainError(w, "Failed to apply credit balance", err)
		return
	}

	LedgerEntriesCreated.WithLabelValues(billing.SourceCreditApplication).Inc()
	writeJSON(w, http.StatusOK, toInvoiceDTO(inv))
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetStudentLedger returns the student's entries with a running balance.
func (h *Handler) GetStudentLedger(w http.ResponseWriter, r *http.Request) {
	studentID := billing.StudentID(chi.URLParam(r, "id"))

	entries, balance, err := h.Ledger.StudentLedger(r.Context(), studentID)
	if err != nil {
		writeDomainError(w, "Failed to load ledger", err)
		return
	}

	// Entries arrive newest-first; compute the running balance backwards so
	// each DTO shows the balance after its own entry.
	dtos := make([]LedgerEntryDTO, len(entries))
	running := balance
	for i := range entries {
		dto := toEntryDTO(&entries[i])
		dto.RunningBalance = running.StringFixed(2)
		running = running.Sub(entries[i].Signed())
		dtos[i] = dto
	}

	writeJSON(w, http.StatusOK, StudentLedgerDTO{
		StudentID: string(studentID),
		Balance:   balance.StringFixed(2),
		Entries:   dtos,
	})
}

// CreateCorrection books a manual ledger credit or debit, optionally
// applying it immediately to an invoice.
func (h *Handler) CreateCorrection(w http.ResponseWriter, r *http.Request) {
	studentID := billing.StudentID(chi.URLParam(r, "id"))

	var req CorrectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var entryType billing.EntryType
	switch req.Type {
	case "credit":
		entryType = billing.EntryCredit
	case "debit":
		entryType = billing.EntryDebit
	default:
		writeError(w, http.StatusBadRequest, "type must be credit or debit", nil)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	entry, err := h.Ledger.CreateCorrection(r.Context(), studentID, entryType,
		amount, req.Reason, billing.InvoiceID(req.InvoiceID))
	if err != nil {
		writeDomainError(w, "Failed to create correction", err)
		return
	}

	LedgerEntriesCreated.WithLabelValues(billing.SourceManualCorrection).Inc()
	writeJSON(w, http.StatusCreated, toEntryDTO(entry))
}

// ApplyLedgerEntry applies (part of) an entry to an invoice.
func (h *Handler) ApplyLedgerEntry(w http.ResponseWriter, r *http.Request) {
	entryID := billing.EntryID(chi.URLParam(r, "id"))

	var req ApplyEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}

	entry, inv, err := h.Ledger.ApplyEntry(r.Context(), entryID,
		billing.InvoiceID(req.InvoiceID), amount)
	if err != nil {
		writeDomainError(w, "Failed to apply ledger entry", err)
		return
	}

	writeJSON(w, http.StatusOK, ApplyResultDTO{
		Entry:   toEntryDTO(entry),
		Invoice: toInvoiceDTO(inv),
	})
}

// ReverseLedgerEntry voids an entry by booking the opposite entry.
func (h *Handler) ReverseLedgerEntry(w http.ResponseWriter, r *http.Request) {
	entryID := billing.EntryID(chi.URLParam(r, "id"))

	var req ReverseEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	reversal, err := h.Ledger.Reverse(r.Context(), entryID, req.Reason)
	if err != nil {
		writeDomainError(w, "Failed to reverse ledger entry", err)
		return
	}

	LedgerEntriesCreated.WithLabelValues(billing.SourceReversal).Inc()
	writeJSON(w, http.StatusCreated, toEntryDTO(reversal))
}

// =============================================================================
// RUN HANDLERS
// =============================================================================

// ListRuns returns paginated batch run history, newest first.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	result, err := h.Runner.History(r.Context(), page, pageSize)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list runs", err)
		return
	}

	runs := make([]RunDTO, len(result.Runs))
	for i := range result.Runs {
		runs[i] = toRunDTO(&result.Runs[i])
	}
	totalPages := (result.Total + result.PageSize - 1) / result.PageSize
	writeJSON(w, http.StatusOK, RunPageDTO{
		Runs:       runs,
		Page:       result.Page,
		PageSize:   result.PageSize,
		Total:      result.Total,
		TotalPages: totalPages,
	})
}

// =============================================================================
// PRICING HANDLERS
// =============================================================================

// ListPricingVersions returns a course type's price history.
func (h *Handler) ListPricingVersions(w http.ResponseWriter, r *http.Request) {
	courseTypeID := billing.CourseTypeID(chi.URLParam(r, "id"))

	versions, err := h.Store.ListPricingVersions(r.Context(), courseTypeID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list pricing versions", err)
		return
	}

	dtos := make([]PricingVersionDTO, len(versions))
	for i := range versions {
		dtos[i] = toPricingDTO(&versions[i])
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePricingVersion inserts a new price version, closing the current one.
func (h *Handler) CreatePricingVersion(w http.ResponseWriter, r *http.Request) {
	var req CreatePricingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	adult, err := decimal.NewFromString(req.AdultPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid adult_price", err)
		return
	}
	child, err := decimal.NewFromString(req.ChildPrice)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid child_price", err)
		return
	}
	validFrom, err := time.Parse("2006-01-02", req.ValidFrom)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid valid_from (use YYYY-MM-DD)", err)
		return
	}

	version, err := h.Pricing.InsertVersion(r.Context(),
		billing.CourseTypeID(req.CourseTypeID), adult, child, validFrom)
	if err != nil {
		writeDomainError(w, "Failed to insert pricing version", err)
		return
	}
	writeJSON(w, http.StatusCreated, toPricingDTO(version))
}

// =============================================================================
// HELPERS
// =============================================================================

// parsePeriod converts a PeriodRequest into a concrete period.
func parsePeriod(req PeriodRequest) (billing.Period, billing.PeriodType, error) {
	periodType, err := billing.ParsePeriodType(req.PeriodType)
	if err != nil {
		return billing.Period{}, "", err
	}
	if req.Month < 1 || req.Month > 12 {
		return billing.Period{}, "", errors.New("month must be 1..12")
	}

	switch periodType {
	case billing.PeriodMonthly:
		return billing.MonthPeriod(req.Year, time.Month(req.Month)), periodType, nil
	default:
		switch req.Month {
		case 1, 4, 7, 10:
			return billing.QuarterPeriod(req.Year, time.Month(req.Month)), periodType, nil
		}
		return billing.Period{}, "", errors.New("quarterly periods start in month 1, 4, 7 or 10")
	}
}

// writeDomainError maps billing errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case billing.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case errors.Is(err, billing.ErrDuplicatePeriod):
		writeError(w, http.StatusConflict, message, err)
	case billing.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
