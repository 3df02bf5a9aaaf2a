package domain

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Money is an amount bound to a currency unit. Totals are accumulated as float64
// and only rounded when they leave the system (display, provider requests).
type Money struct {
	Amount   float64
	Currency currency.Unit
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(amount float64) string {
	return decimal.NewFromFloat(amount).StringFixed(2)
}

// SameAmount reports whether two amounts are equal once rounded to cents.
func SameAmount(a, b float64) bool {
	return decimal.NewFromFloat(a).Round(2).Equal(decimal.NewFromFloat(b).Round(2))
}

func (m Money) String() string {
	return FormatAmount(m.Amount) + " " + m.Currency.String()
}
