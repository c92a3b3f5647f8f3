package billing

import (
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// PERIOD - The billing window for an invoice
// =============================================================================

// Period is an inclusive date range [Start, End] for lesson selection.
type Period struct {
	Start time.Time
	End   time.Time
}

// Date builds a UTC day-granular time, the canonical form for billing dates.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Contains returns true if the date is within the period [Start, End].
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && !t.After(p.End)
}

// Valid reports whether the period is well-formed.
func (p Period) Valid() bool { return !p.End.Before(p.Start) }

func (p Period) String() string {
	return "[" + p.Start.Format("2006-01-02") + ", " + p.End.Format("2006-01-02") + "]"
}

// MonthPeriod returns the calendar month containing the given year/month.
func MonthPeriod(year int, month time.Month) Period {
	start := Date(year, month, 1)
	return Period{Start: start, End: start.AddDate(0, 1, -1)}
}

// QuarterPeriod returns the three-month period starting at the given month.
func QuarterPeriod(year int, startMonth time.Month) Period {
	start := Date(year, startMonth, 1)
	return Period{Start: start, End: start.AddDate(0, 3, -1)}
}

// =============================================================================
// PERIOD TYPE - Invoicing cadence
// =============================================================================

// PeriodType is the invoicing cadence of an enrollment.
type PeriodType string

const (
	PeriodMonthly   PeriodType = "monthly"
	PeriodQuarterly PeriodType = "quarterly"
)

// ParsePeriodType validates a cadence string.
func ParsePeriodType(s string) (PeriodType, error) {
	switch PeriodType(s) {
	case PeriodMonthly, PeriodQuarterly:
		return PeriodType(s), nil
	default:
		return "", validation("unknown period type %q (want monthly or quarterly)", s)
	}
}

// =============================================================================
// PERIOD LABELS - Deterministic invoice descriptions
// =============================================================================

// PeriodLabel produces the lowercase label used as the invoice description:
// "jan26" for monthly periods, "oct-dec25" for quarterly. The 2-digit year
// suffix always derives from the period start, even when a quarter runs into
// the next calendar year.
func PeriodLabel(periodType PeriodType, p Period) string {
	startYear := p.Start.Year() % 100
	switch periodType {
	case PeriodQuarterly:
		return fmt.Sprintf("%s-%s%02d",
			monthAbbrev(p.Start), monthAbbrev(p.End), startYear)
	default:
		return fmt.Sprintf("%s%02d", monthAbbrev(p.Start), startYear)
	}
}

func monthAbbrev(t time.Time) string {
	return strings.ToLower(t.Format("Jan"))
}
