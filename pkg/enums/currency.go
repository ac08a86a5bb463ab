package enums

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is an ISO 4217 code accepted for credit purchases.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
	CurrencyGBP Currency = "GBP"
	CurrencyJPY Currency = "JPY"
)

// minorUnits is the number of decimal places each currency settles in.
var minorUnits = map[Currency]int32{
	CurrencyUSD: 2,
	CurrencyEUR: 2,
	CurrencyGBP: 2,
	CurrencyJPY: 0,
}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool {
	_, ok := minorUnits[c]
	return ok
}

func (c Currency) MinorUnits() int32 {
	return minorUnits[c]
}

// Settle truncates amount to the precision the currency can actually be paid in.
func (c Currency) Settle(amount decimal.Decimal) decimal.Decimal {
	return amount.Truncate(c.MinorUnits())
}

// ParseCurrency accepts any casing and surrounding whitespace.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
