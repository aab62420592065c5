package account

import (
	"fmt"
	"time"

	"github.com/contalabs/bankd/internal/core/money"
)

// Applied is the outcome of a pure mutation. Account is the post-state and
// is present for denials too: a denied attempt is recorded on the ledger,
// so even the denial produces a new account value that must be persisted.
type Applied struct {
	Account *Account
	Ops     []*Operation
	Denied  bool
	Reason  string
}

// Op returns the first (usually only) operation recorded by the mutation.
func (ap *Applied) Op() *Operation {
	if len(ap.Ops) == 0 {
		return nil
	}
	return ap.Ops[0]
}

// Deposit credits the currency, opening it at zero if the account never
// held it. Deposits always succeed.
func (a *Account) Deposit(amount int64, currency money.Currency, when time.Time, extra map[string]any) (*Applied, error) {
	return a.creditOp(OpDeposit, amount, currency, when, buildData(extra, map[string]any{
		DataAmount:   amount,
		DataCurrency: currency.String(),
	}))
}

// Withdraw debits the currency if the post-balance stays at or above its
// floor, otherwise records a denied attempt.
func (a *Account) Withdraw(amount int64, currency money.Currency, when time.Time, extra map[string]any) (*Applied, error) {
	return a.debitOp(OpWithdraw, amount, currency, when, buildData(extra, map[string]any{
		DataAmount:   amount,
		DataCurrency: currency.String(),
	}))
}

// CardTransaction behaves like Withdraw but is typed card_transaction and
// records the card id. It is the only refundable operation type.
func (a *Account) CardTransaction(amount int64, currency money.Currency, cardID int64, when time.Time, extra map[string]any) (*Applied, error) {
	return a.debitOp(OpCard, amount, currency, when, buildData(extra, map[string]any{
		DataAmount:   amount,
		DataCurrency: currency.String(),
		DataCardID:   cardID,
	}))
}

// creditOp is the shared body of deposit-shaped mutations. Credits are
// always accepted.
func (a *Account) creditOp(t OpType, amount int64, currency money.Currency, when time.Time, data map[string]any) (*Applied, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := currency.Validate(); err != nil {
		return nil, err
	}

	next := a.clone()
	next.credit(currency, amount)
	op := next.record(t, StatusDone, at(when), data)
	return &Applied{Account: next, Ops: []*Operation{op}}, nil
}

// debitOp is the shared body of withdraw-shaped mutations. A debit that
// would break the balance floor is denied; the denial is recorded with a
// message and the balance left untouched.
func (a *Account) debitOp(t OpType, amount int64, currency money.Currency, when time.Time, data map[string]any) (*Applied, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := currency.Validate(); err != nil {
		return nil, err
	}

	next := a.clone()
	if !next.canDebit(currency, amount) {
		reason := denialReason(currency)
		data[DataMessage] = reason
		op := next.record(t, StatusDenied, at(when), data)
		return &Applied{Account: next, Ops: []*Operation{op}, Denied: true, Reason: reason}, nil
	}

	next.debit(currency, amount)
	op := next.record(t, StatusDone, at(when), data)
	return &Applied{Account: next, Ops: []*Operation{op}}, nil
}

func denialReason(currency money.Currency) string {
	return fmt.Sprintf("No %s funds", currency)
}
