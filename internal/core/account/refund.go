package account

import (
	"fmt"
	"time"

	"github.com/contalabs/bankd/internal/core/money"
)

// Refund reverses a card transaction: the original amount is credited back,
// the target operation's status flips to refunded, and a refund operation
// pointing at it is recorded. Only a card_transaction in status done can be
// refunded; anything else is a precondition error with no state change.
func (a *Account) Refund(refundID int64, when time.Time, extra map[string]any) (*Applied, error) {
	target, ok := a.Operations[refundID]
	if !ok {
		return nil, ErrOperationNotFound
	}
	if target.Type != OpCard || target.Status != StatusDone {
		return nil, ErrNotRefundable
	}

	amount, ok := target.Amount()
	if !ok {
		return nil, fmt.Errorf("operation %d carries no amount", refundID)
	}
	code, ok := target.Currency()
	if !ok {
		return nil, fmt.Errorf("operation %d carries no currency", refundID)
	}
	currency := money.Currency(code)

	next := a.clone()

	// Flip the target copy-on-write so the prior account value stays
	// intact if this mutation is never persisted.
	flipped := *target
	flipped.Status = StatusRefunded
	next.Operations[refundID] = &flipped

	next.credit(currency, amount)
	op := next.record(OpRefund, StatusDone, at(when), buildData(extra, map[string]any{
		DataAmount:   amount,
		DataCurrency: code,
		DataRefundOf: refundID,
	}))
	return &Applied{Account: next, Ops: []*Operation{op}}, nil
}
