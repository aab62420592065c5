package account

import (
	"time"
)

// OpType identifies the kind of operation recorded on an account ledger.
type OpType string

const (
	OpDeposit     OpType = "deposit"
	OpWithdraw    OpType = "withdraw"
	OpTransferIn  OpType = "transfer_in"
	OpTransferOut OpType = "transfer_out"
	OpCard        OpType = "card_transaction"
	OpRefund      OpType = "refund"
	OpExchange    OpType = "exchange"
)

// OpStatus is the lifecycle state of a recorded operation. The only legal
// transition after registration is done -> refunded, applied exactly once by
// a refund of a card transaction.
type OpStatus string

const (
	StatusDone     OpStatus = "done"
	StatusDenied   OpStatus = "denied"
	StatusRefunded OpStatus = "refunded"
)

// Recognized keys of Operation.Data. Caller-supplied extras are carried
// alongside these but can never override them.
const (
	DataAmount          = "amount"
	DataCurrency        = "currency"
	DataMessage         = "message"
	DataCardID          = "card_id"
	DataSender          = "sender_account_id"
	DataRecipient       = "recipient_account_id"
	DataPercentage      = "percentage"
	DataRecipients      = "recipients_data"
	DataRefundOf        = "operation_to_refund_id"
	DataCurrentAmount   = "current_amount"
	DataNewAmount       = "new_amount"
	DataCurrentCurrency = "current_currency"
	DataNewCurrency     = "new_currency"
	DataExchangeRate    = "exchange_rate"
)

// Operation is one entry of an account's ledger. Identity, type and data are
// immutable after registration; denied attempts are recorded like any other
// operation and consume an id.
type Operation struct {
	ID       int64          `codec:"id" json:"id"`
	Type     OpType         `codec:"type" json:"type"`
	Status   OpStatus       `codec:"status" json:"status"`
	DateTime time.Time      `codec:"date_time" json:"date_time"`
	Data     map[string]any `codec:"data" json:"data,omitempty"`
}

// Amount returns the operation's recorded amount. Data values decoded from
// storage arrive as int64; values set in memory are int64 as well, but a few
// integer shapes are accepted for data assembled by callers.
func (o *Operation) Amount() (int64, bool) {
	return dataInt64(o.Data[DataAmount])
}

// Currency returns the operation's recorded currency code.
func (o *Operation) Currency() (string, bool) {
	s, ok := o.Data[DataCurrency].(string)
	return s, ok
}

func dataInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// buildData merges caller extras with the engine's reserved fields. Reserved
// fields win on collision; the inputs are never mutated.
func buildData(extra map[string]any, reserved map[string]any) map[string]any {
	data := make(map[string]any, len(extra)+len(reserved))
	for k, v := range extra {
		data[k] = v
	}
	for k, v := range reserved {
		data[k] = v
	}
	return data
}

// mergeExtras layers recipient-specific fields over general caller fields.
func mergeExtras(general, specific map[string]any) map[string]any {
	if len(specific) == 0 {
		return general
	}
	merged := make(map[string]any, len(general)+len(specific))
	for k, v := range general {
		merged[k] = v
	}
	for k, v := range specific {
		merged[k] = v
	}
	return merged
}
