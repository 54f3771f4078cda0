package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ConversionRate is one version of the EGP-pivot exchange rates.
// EGPToGold is how many Gold one EGP buys.
type ConversionRate struct {
	ID        int64           `json:"id"`
	EGPToGold decimal.Decimal `json:"egp_to_gold"`
	EGPToMass decimal.Decimal `json:"egp_to_mass"`
	UpdatedBy string          `json:"updated_by"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PerEGP returns how many units of c one EGP buys.
func (r *ConversionRate) PerEGP(c Currency) (decimal.Decimal, bool) {
	switch c {
	case CurrencyEGP:
		return decimal.NewFromInt(1), true
	case CurrencyGold:
		return r.EGPToGold, true
	case CurrencyMass:
		return r.EGPToMass, true
	}
	return decimal.Zero, false
}

// Valid reports whether both rates are positive.
func (r *ConversionRate) Valid() bool {
	return r.EGPToGold.IsPositive() && r.EGPToMass.IsPositive()
}
