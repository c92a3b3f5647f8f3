package billing

import (
	"context"
	"strconv"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SETTINGS - Key-value lookups with billing defaults
// =============================================================================

// Settings are the resolved billing parameters for one operation. They are
// loaded once at the start of each unit of work so a mid-run settings change
// cannot produce an invoice priced with two different VAT rates.
type Settings struct {
	VATRate           decimal.Decimal // percentage, e.g. 21
	PaymentDueDays    int
	AdultAgeThreshold int
}

// LoadSettings reads the billing settings, applying defaults for absent keys.
func LoadSettings(ctx context.Context, s Store) (Settings, error) {
	out := Settings{
		VATRate:           decimal.NewFromInt(21),
		PaymentDueDays:    14,
		AdultAgeThreshold: 18,
	}

	if v, err := s.GetSetting(ctx, SettingVATRate); err != nil {
		return out, err
	} else if v != "" {
		if rate, err := decimal.NewFromString(v); err == nil {
			out.VATRate = rate
		}
	}

	if v, err := s.GetSetting(ctx, SettingPaymentDueDays); err != nil {
		return out, err
	} else if v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			out.PaymentDueDays = days
		}
	}

	if v, err := s.GetSetting(ctx, SettingAdultAgeThreshold); err != nil {
		return out, err
	} else if v != "" {
		if age, err := strconv.Atoi(v); err == nil && age > 0 {
			out.AdultAgeThreshold = age
		}
	}

	return out, nil
}
