/*
pricing.go - Effective-dated price resolution

PURPOSE:
  Course types carry a version history of prices rather than a single price
  field. Each version covers [ValidFrom, ValidUntil); exactly one version per
  course type is open-ended and marked current. Resolution finds the version
  covering a lesson's scheduled date so historical lessons are always billed
  at the price that was in force when they happened.

FALLBACK:
  A date beyond the last recorded validity (e.g. a future-dated
  recalculation) falls back to the current version. A course type with no
  versions at all is a fatal pricing error: no invoice can be priced.

WRITE INVARIANT:
  Inserting a new version closes the previous current one at the new
  version's ValidFrom, keeping the single-open-version invariant.

SEE ALSO:
  - lines.go: resolves a price per lesson date
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// RESOLUTION
// =============================================================================

// ResolvePrice returns the pricing version in force at the given date.
// Versions must be sorted by ValidFrom ascending (the store guarantees this).
// Falls back to the current version when no interval covers the date.
func ResolvePrice(versions []PricingVersion, courseTypeID CourseTypeID, date time.Time) (*PricingVersion, error) {
	if len(versions) == 0 {
		return nil, &PricingNotFoundError{CourseTypeID: courseTypeID, Date: date}
	}

	for i := range versions {
		if versions[i].Covers(date) {
			return &versions[i], nil
		}
	}

	for i := range versions {
		if versions[i].IsCurrent {
			return &versions[i], nil
		}
	}

	// Version history exists but has no current version; data is corrupt
	// enough that pricing cannot proceed.
	return nil, &PricingNotFoundError{CourseTypeID: courseTypeID, Date: date}
}

// Pricing resolves and maintains price versions against the store.
type Pricing struct {
	Store TxStore
}

func NewPricing(store TxStore) *Pricing { return &Pricing{Store: store} }

// ResolveForDate resolves the price for a course type at a date.
func (p *Pricing) ResolveForDate(ctx context.Context, courseTypeID CourseTypeID, date time.Time) (*PricingVersion, error) {
	versions, err := p.Store.ListPricingVersions(ctx, courseTypeID)
	if err != nil {
		return nil, err
	}
	return ResolvePrice(versions, courseTypeID, date)
}

// =============================================================================
// VERSION INSERTION
// =============================================================================

// InsertVersion records a new price effective from validFrom. The previous
// current version (if any) is closed at validFrom in the same transaction.
func (p *Pricing) InsertVersion(ctx context.Context, courseTypeID CourseTypeID, adultPrice, childPrice Money, validFrom time.Time) (*PricingVersion, error) {
	if adultPrice.IsNegative() || childPrice.IsNegative() {
		return nil, validation("prices must not be negative")
	}

	version := &PricingVersion{
		ID:           uuid.NewString(),
		CourseTypeID: courseTypeID,
		AdultPrice:   adultPrice,
		ChildPrice:   childPrice,
		ValidFrom:    validFrom,
		IsCurrent:    true,
	}

	err := p.Store.WithTx(ctx, func(s Store) error {
		versions, err := s.ListPricingVersions(ctx, courseTypeID)
		if err != nil {
			return err
		}

		for i := range versions {
			if !versions[i].IsCurrent {
				continue
			}
			if !validFrom.After(versions[i].ValidFrom) {
				return validation("new version must start after the current version (%s)",
					versions[i].ValidFrom.Format("2006-01-02"))
			}
			if err := s.ClosePricingVersion(ctx, versions[i].ID, validFrom); err != nil {
				return err
			}
		}

		return s.InsertPricingVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}
	return version, nil
}
