package account

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/contalabs/bankd/internal/core/money"
)

// Exchange swaps value between two currencies inside the account. The
// conversion (newAmount, rate) is computed by the caller against the rates
// table so this layer stays deterministic; an unknown currency therefore
// fails before anything reaches the ledger. A debit that would break the
// source currency's floor is denied and recorded like a failed withdraw.
func (a *Account) Exchange(currentAmount int64, currentCurrency, newCurrency money.Currency, newAmount int64, rate decimal.Decimal, when time.Time, extra map[string]any) (*Applied, error) {
	if currentAmount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := currentCurrency.Validate(); err != nil {
		return nil, err
	}
	if err := newCurrency.Validate(); err != nil {
		return nil, err
	}

	next := a.clone()
	data := buildData(extra, map[string]any{
		DataAmount:          currentAmount,
		DataCurrency:        currentCurrency.String(),
		DataCurrentAmount:   currentAmount,
		DataCurrentCurrency: currentCurrency.String(),
		DataNewAmount:       newAmount,
		DataNewCurrency:     newCurrency.String(),
		DataExchangeRate:    rate.String(),
	})

	if !next.canDebit(currentCurrency, currentAmount) {
		reason := denialReason(currentCurrency)
		data[DataMessage] = reason
		op := next.record(OpExchange, StatusDenied, at(when), data)
		return &Applied{Account: next, Ops: []*Operation{op}, Denied: true, Reason: reason}, nil
	}

	next.debit(currentCurrency, currentAmount)
	next.credit(newCurrency, newAmount)
	op := next.record(OpExchange, StatusDone, at(when), data)
	return &Applied{Account: next, Ops: []*Operation{op}}, nil
}
