// Package money holds the currency and amount primitives shared by the
// account engine. Amounts are always integer minor units (cents); every
// fractional result is rounded half away from zero before it touches a
// balance.
package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency identifies a currency by its code, e.g. "BRL" or "USD".
type Currency string

func NewCurrency(code string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(code)))
}

func (c Currency) String() string {
	return string(c)
}

// Validate reports whether the code is usable as a balance key.
func (c Currency) Validate() error {
	if c == "" {
		return fmt.Errorf("empty currency code")
	}
	for _, r := range c {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return fmt.Errorf("invalid currency code %q", string(c))
		}
	}
	return nil
}

// Round maps a decimal amount to integer minor units, rounding half away
// from zero: Round(2.5) = 3, Round(-2.5) = -3.
func Round(d decimal.Decimal) int64 {
	return d.Round(0).IntPart()
}

// ApplyRate converts an amount through a rate and rounds the result.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	return Round(decimal.NewFromInt(amount).Mul(rate))
}

// Share computes the rounded portion of a total for a given percentage,
// expressed as a fraction (0.7 for 70%).
func Share(total int64, percentage decimal.Decimal) int64 {
	return Round(decimal.NewFromInt(total).Mul(percentage))
}
