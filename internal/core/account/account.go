// Package account implements the pure account domain: a multi-currency
// balance map plus an append-only ledger of operations. Mutations never
// modify their receiver; they return a fresh value carrying the recorded
// operations, so a caller that fails to persist the result can keep serving
// from the prior state.
package account

import (
	"time"

	"github.com/contalabs/bankd/internal/core/money"
)

// DefaultCurrency is used when an account is created without one.
const DefaultCurrency = money.Currency("BRL")

// Account is the value state of a single account. Balances are integer
// minor units per currency. The default currency may run negative down to
// its configured limit; every other currency floors at zero unless an
// explicit limit was set for it.
type Account struct {
	ID              int64                    `codec:"id" json:"id"`
	DefaultCurrency money.Currency           `codec:"default_currency" json:"default_currency"`
	Balances        map[money.Currency]int64 `codec:"balances" json:"balances"`
	Limits          map[money.Currency]int64 `codec:"limits" json:"limits"`
	Operations      map[int64]*Operation     `codec:"operations" json:"operations"`
	NextOperationID int64                    `codec:"next_operation_id" json:"next_operation_id"`
	CreatedAt       time.Time                `codec:"created_at" json:"created_at"`
}

// Options configures a freshly created account.
type Options struct {
	DefaultCurrency money.Currency
	Limit           int64
	Balances        map[money.Currency]int64
	Limits          map[money.Currency]int64
	CreatedAt       time.Time
}

// New creates an account with the default currency opened at zero, merged
// with any opening balances and per-currency limits from opts.
func New(id int64, opts Options) (*Account, error) {
	cur := opts.DefaultCurrency
	if cur == "" {
		cur = DefaultCurrency
	}
	if err := cur.Validate(); err != nil {
		return nil, err
	}

	balances := map[money.Currency]int64{cur: 0}
	for c, v := range opts.Balances {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		balances[c] = v
	}

	limits := map[money.Currency]int64{cur: opts.Limit}
	for c, v := range opts.Limits {
		if err := c.Validate(); err != nil {
			return nil, err
		}
		limits[c] = v
	}

	created := opts.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}

	return &Account{
		ID:              id,
		DefaultCurrency: cur,
		Balances:        balances,
		Limits:          limits,
		Operations:      make(map[int64]*Operation),
		NextOperationID: 1,
		CreatedAt:       created,
	}, nil
}

// Balance returns the balance for a currency; currencies the account never
// held read as zero.
func (a *Account) Balance(c money.Currency) int64 {
	return a.Balances[c]
}

// AllBalances returns a copy of the balance map.
func (a *Account) AllBalances() map[money.Currency]int64 {
	out := make(map[money.Currency]int64, len(a.Balances))
	for c, v := range a.Balances {
		out[c] = v
	}
	return out
}

// Operation looks up a recorded operation by id.
func (a *Account) Operation(id int64) (*Operation, bool) {
	op, ok := a.Operations[id]
	return op, ok
}

// floor is the minimum balance allowed for a currency after a debit.
func (a *Account) floor(c money.Currency) int64 {
	if l, ok := a.Limits[c]; ok {
		return l
	}
	return 0
}

// canDebit reports whether removing amount from the currency keeps the
// balance at or above its floor.
func (a *Account) canDebit(c money.Currency, amount int64) bool {
	return a.Balances[c]-amount >= a.floor(c)
}

func (a *Account) credit(c money.Currency, amount int64) {
	a.Balances[c] += amount
}

func (a *Account) debit(c money.Currency, amount int64) {
	a.Balances[c] -= amount
}

// clone copies the account shallowly enough for copy-on-write mutation:
// balance and limit maps are duplicated, the operations map is duplicated
// but shares the immutable operation records.
func (a *Account) clone() *Account {
	balances := make(map[money.Currency]int64, len(a.Balances))
	for c, v := range a.Balances {
		balances[c] = v
	}
	limits := make(map[money.Currency]int64, len(a.Limits))
	for c, v := range a.Limits {
		limits[c] = v
	}
	ops := make(map[int64]*Operation, len(a.Operations)+1)
	for id, op := range a.Operations {
		ops[id] = op
	}
	return &Account{
		ID:              a.ID,
		DefaultCurrency: a.DefaultCurrency,
		Balances:        balances,
		Limits:          limits,
		Operations:      ops,
		NextOperationID: a.NextOperationID,
		CreatedAt:       a.CreatedAt,
	}
}

// record registers an operation on the (already cloned) account and
// advances the id counter. Ids are dense: denied attempts consume one too.
func (a *Account) record(t OpType, st OpStatus, when time.Time, data map[string]any) *Operation {
	op := &Operation{
		ID:       a.NextOperationID,
		Type:     t,
		Status:   st,
		DateTime: when,
		Data:     data,
	}
	a.Operations[op.ID] = op
	a.NextOperationID++
	return op
}

// at applies the default timestamp rule: zero means "now".
func at(when time.Time) time.Time {
	if when.IsZero() {
		return time.Now().UTC()
	}
	return when
}
