package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies one of the marketplace's wallet currencies.
type Currency string

const (
	CurrencyEGP  Currency = "EGP"
	CurrencyGold Currency = "GOLD"
	CurrencyMass Currency = "MASS"
)

// MoneyScale is the number of fractional digits every balance and amount carries.
const MoneyScale int32 = 2

// Currencies lists every supported currency in provisioning order.
var Currencies = []Currency{CurrencyEGP, CurrencyGold, CurrencyMass}

// ParseCurrency accepts any casing and surrounding whitespace.
func ParseCurrency(s string) (Currency, bool) {
	c := Currency(strings.ToUpper(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	switch c {
	case CurrencyEGP, CurrencyGold, CurrencyMass:
		return true
	}
	return false
}

func (c Currency) String() string {
	return string(c)
}

// RoundMoney rounds half away from zero to MoneyScale digits.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyScale)
}

// ValidAmount reports whether d is a positive amount representable at MoneyScale.
func ValidAmount(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Truncate(MoneyScale))
}
