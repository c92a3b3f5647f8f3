package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cadenza/billing-engine/billing"
)

// =============================================================================
// PURE RESOLUTION
// =============================================================================

func testVersions() []billing.PricingVersion {
	jan2026 := billing.Date(2026, time.January, 1)
	return []billing.PricingVersion{
		{
			ID:           "v-2025",
			CourseTypeID: "ct-piano",
			AdultPrice:   money("23.50"),
			ChildPrice:   money("19.50"),
			ValidFrom:    billing.Date(2025, time.January, 1),
			ValidUntil:   &jan2026,
		},
		{
			ID:           "v-2026",
			CourseTypeID: "ct-piano",
			AdultPrice:   money("25.00"),
			ChildPrice:   money("21.00"),
			ValidFrom:    jan2026,
			IsCurrent:    true,
		},
	}
}

func TestResolvePrice_IntervalMatch(t *testing.T) {
	// GIVEN: a closed 2025 version and an open-ended 2026 version
	// WHEN: resolving a date inside the closed interval
	// THEN: the closed version wins, not the current one
	v, err := billing.ResolvePrice(testVersions(), "ct-piano", billing.Date(2025, time.June, 15))
	require.NoError(t, err)
	assert.Equal(t, "v-2025", v.ID)
}

func TestResolvePrice_ValidUntilIsExclusive(t *testing.T) {
	// The boundary date belongs to the successor version.
	v, err := billing.ResolvePrice(testVersions(), "ct-piano", billing.Date(2026, time.January, 1))
	require.NoError(t, err)
	assert.Equal(t, "v-2026", v.ID)
}

func TestResolvePrice_FallsBackToCurrent(t *testing.T) {
	// GIVEN: a date before any version's validity started
	// THEN: resolution falls back to the current version
	v, err := billing.ResolvePrice(testVersions(), "ct-piano", billing.Date(2020, time.March, 1))
	require.NoError(t, err)
	assert.Equal(t, "v-2026", v.ID)
}

func TestResolvePrice_NoVersions(t *testing.T) {
	_, err := billing.ResolvePrice(nil, "ct-piano", billing.Date(2026, time.January, 5))
	assert.ErrorIs(t, err, billing.ErrPricingNotFound)
	assert.True(t, billing.IsClientError(err))
}

// =============================================================================
// VERSION INSERTION
// =============================================================================

func TestInsertVersion_ClosesPreviousCurrent(t *testing.T) {
	// GIVEN: the fixture's open-ended 2026 price
	store := newTestStore(t)
	f := seedSchool(t, store)
	ctx := context.Background()
	pricing := billing.NewPricing(store)

	// WHEN: inserting a new version effective July 2026
	jul := billing.Date(2026, time.July, 1)
	v, err := pricing.InsertVersion(ctx, f.courseTypeID, money("27.50"), money("23.00"), jul)
	require.NoError(t, err)
	assert.True(t, v.IsCurrent)

	// THEN: the old version is closed at the new validFrom
	versions, err := store.ListPricingVersions(ctx, f.courseTypeID)
	require.NoError(t, err)
	require.Len(t, versions, 2)

	old := versions[0]
	assert.False(t, old.IsCurrent)
	require.NotNil(t, old.ValidUntil)
	assert.Equal(t, jul, *old.ValidUntil)

	// AND: resolution straddles the boundary correctly
	before, err := pricing.ResolveForDate(ctx, f.courseTypeID, billing.Date(2026, time.June, 30))
	require.NoError(t, err)
	assertMoney(t, "25.00", before.AdultPrice)

	after, err := pricing.ResolveForDate(ctx, f.courseTypeID, jul)
	require.NoError(t, err)
	assertMoney(t, "27.50", after.AdultPrice)
}

func TestInsertVersion_RejectsNonForwardValidFrom(t *testing.T) {
	store := newTestStore(t)
	f := seedSchool(t, store)
	pricing := billing.NewPricing(store)

	// Same day as the current version's validFrom is rejected.
	_, err := pricing.InsertVersion(context.Background(), f.courseTypeID,
		money("30.00"), money("26.00"), billing.Date(2026, time.January, 1))
	assert.Error(t, err)
	assert.True(t, billing.IsClientError(err))
}
