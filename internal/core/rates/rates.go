// Package rates holds the process-wide exchange rates table. Rates are
// expressed relative to a pivot currency; converting between two currencies
// divides their table entries, so the pivot itself never appears in the
// arithmetic.
package rates

import (
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/contalabs/bankd/internal/core/money"
)

var (
	// ErrUnknownCurrency is returned when a conversion touches a
	// currency the table has no rate for.
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrInvalidRate rejects non-positive rates at seed or refresh time.
	ErrInvalidRate = errors.New("rate must be positive")
)

// Table is a read-mostly map of currency to rate. Readers never block each
// other; the single writer (the refresher) swaps entries under the write
// lock.
type Table struct {
	mu    sync.RWMutex
	rates map[money.Currency]decimal.Decimal
}

// NewTable seeds a table. Every rate must be positive.
func NewTable(seed map[money.Currency]decimal.Decimal) (*Table, error) {
	t := &Table{rates: make(map[money.Currency]decimal.Decimal, len(seed))}
	for c, r := range seed {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		if r.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidRate, c, r)
		}
		t.rates[c] = r
	}
	return t, nil
}

// Rate returns the table entry for a currency.
func (t *Table) Rate(c money.Currency) (decimal.Decimal, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rates[c]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, c)
	}
	return r, nil
}

// Conversion is the result of a currency conversion: the rounded target
// amount and the effective rate that produced it.
type Conversion struct {
	Amount int64
	Rate   decimal.Decimal
}

// Convert computes rate = table[new] / table[current] and the rounded
// target amount. Rounding is half away from zero.
func (t *Table) Convert(amount int64, current, next money.Currency) (Conversion, error) {
	t.mu.RLock()
	cur, okCur := t.rates[current]
	nxt, okNxt := t.rates[next]
	t.mu.RUnlock()

	if !okCur {
		return Conversion{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, current)
	}
	if !okNxt {
		return Conversion{}, fmt.Errorf("%w: %s", ErrUnknownCurrency, next)
	}

	rate := nxt.Div(cur)
	return Conversion{Amount: money.ApplyRate(amount, rate), Rate: rate}, nil
}

// Replace swaps the whole table for a fresh snapshot, validating it first
// so a bad refresh never clobbers a working table.
func (t *Table) Replace(snapshot map[money.Currency]decimal.Decimal) error {
	fresh := make(map[money.Currency]decimal.Decimal, len(snapshot))
	for c, r := range snapshot {
		if err := c.Validate(); err != nil {
			return err
		}
		if r.Sign() <= 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidRate, c, r)
		}
		fresh[c] = r
	}

	t.mu.Lock()
	t.rates = fresh
	t.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the current table.
func (t *Table) Snapshot() map[money.Currency]decimal.Decimal {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[money.Currency]decimal.Decimal, len(t.rates))
	for c, r := range t.rates {
		out[c] = r
	}
	return out
}

// Export renders the table as plain strings for persistence; decimals
// round-trip exactly through their string form.
func (t *Table) Export() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]string, len(t.rates))
	for c, r := range t.rates {
		out[c.String()] = r.String()
	}
	return out
}

// Parse rebuilds a rate map from its exported string form.
func Parse(exported map[string]string) (map[money.Currency]decimal.Decimal, error) {
	out := make(map[money.Currency]decimal.Decimal, len(exported))
	for c, s := range exported {
		r, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("rate %s=%q: %w", c, s, err)
		}
		out[money.Currency(c)] = r
	}
	return out, nil
}
