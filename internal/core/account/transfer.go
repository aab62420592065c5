package account

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/contalabs/bankd/internal/core/money"
)

// SplitShare names one recipient of a split transfer. Percentage is a
// fraction (0.7 credits 70% of the total); shares are applied exactly as
// given and never re-normalized, even when they do not sum to one. Extra
// fields override the sender's general fields on that recipient's record.
type SplitShare struct {
	AccountID  int64
	Percentage decimal.Decimal
	Extra      map[string]any
}

// TransferIn credits a transfer received from another account. Credits are
// always accepted, mirroring Deposit.
func (a *Account) TransferIn(amount int64, currency money.Currency, senderID int64, when time.Time, extra map[string]any) (*Applied, error) {
	return a.creditOp(OpTransferIn, amount, currency, when, buildData(extra, map[string]any{
		DataAmount:   amount,
		DataCurrency: currency.String(),
		DataSender:   senderID,
	}))
}

// TransferOut debits the local half of a single-recipient transfer. The
// matching credit on the recipient is the caller's concern.
func (a *Account) TransferOut(amount int64, currency money.Currency, recipientID int64, when time.Time, extra map[string]any) (*Applied, error) {
	return a.debitOp(OpTransferOut, amount, currency, when, buildData(extra, map[string]any{
		DataAmount:    amount,
		DataCurrency:  currency.String(),
		DataRecipient: recipientID,
	}))
}

// TransferOutSplit debits the full total once and records one transfer_out
// per recipient carrying round(total * percentage) as its amount. When the
// total cannot be debited, a single denied transfer_out is recorded with
// the complete request data and no per-recipient records.
func (a *Account) TransferOutSplit(total int64, currency money.Currency, recipients []SplitShare, when time.Time, extra map[string]any) (*Applied, error) {
	if total <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := currency.Validate(); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, ErrNoRecipients
	}
	for _, r := range recipients {
		if r.Percentage.Sign() <= 0 {
			return nil, ErrInvalidPercentage
		}
	}

	next := a.clone()
	ts := at(when)

	if !next.canDebit(currency, total) {
		reason := denialReason(currency)
		data := buildData(extra, map[string]any{
			DataAmount:     total,
			DataCurrency:   currency.String(),
			DataRecipients: encodeShares(recipients),
			DataMessage:    reason,
		})
		op := next.record(OpTransferOut, StatusDenied, ts, data)
		return &Applied{Account: next, Ops: []*Operation{op}, Denied: true, Reason: reason}, nil
	}

	next.debit(currency, total)

	ops := make([]*Operation, 0, len(recipients))
	for _, r := range recipients {
		share := money.Share(total, r.Percentage)
		data := buildData(mergeExtras(extra, r.Extra), map[string]any{
			DataAmount:     share,
			DataCurrency:   currency.String(),
			DataRecipient:  r.AccountID,
			DataPercentage: r.Percentage.String(),
		})
		ops = append(ops, next.record(OpTransferOut, StatusDone, ts, data))
	}
	return &Applied{Account: next, Ops: ops}, nil
}

// encodeShares renders the recipient list into plain data values so a
// denied split keeps the full request in its record.
func encodeShares(recipients []SplitShare) []any {
	out := make([]any, 0, len(recipients))
	for _, r := range recipients {
		entry := make(map[string]any, len(r.Extra)+2)
		for k, v := range r.Extra {
			entry[k] = v
		}
		entry[DataRecipient] = r.AccountID
		entry[DataPercentage] = r.Percentage.String()
		out = append(out, entry)
	}
	return out
}
