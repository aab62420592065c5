package vault

import (
	"time"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
)

// message is one request in an actor's mailbox. fail delivers an error
// reply without touching account state; the shutdown drain uses it to bounce
// requests that arrived too late.
type message interface {
	fail(err error)
}

// reply is implemented by every reply struct so the dispatch loop can spot
// rejected requests regardless of their concrete type.
type reply interface {
	failure() error
}

// mutateReq covers the single-account mutations that share the
// (amount, currency) shape: deposit, withdraw, card transaction and the
// receiving half of a transfer. op selects which one.
type mutateReq struct {
	op       account.OpType
	amount   int64
	currency money.Currency
	cardID   int64 // card transactions only
	senderID int64 // transfer_in only
	extra    map[string]any
	reply    chan mutateReply
}

type mutateReply struct {
	res *Result
	err error
}

func (m *mutateReq) fail(err error)  { m.reply <- mutateReply{err: err} }
func (r mutateReply) failure() error { return r.err }

// transferReq debits this account and credits a single recipient.
type transferReq struct {
	amount      int64
	currency    money.Currency
	recipientID int64
	extra       map[string]any
	reply       chan transferReply
}

type transferReply struct {
	res *TransferResult
	err error
}

func (m *transferReq) fail(err error)  { m.reply <- transferReply{err: err} }
func (r transferReply) failure() error { return r.err }

// splitReq debits the full total from this account and credits each share's
// recipient with its rounded cut.
type splitReq struct {
	total    int64
	currency money.Currency
	shares   []account.SplitShare
	extra    map[string]any
	reply    chan transferReply
}

func (m *splitReq) fail(err error) { m.reply <- transferReply{err: err} }

// refundReq reverses a card transaction by ledger id.
type refundReq struct {
	refundID int64
	extra    map[string]any
	reply    chan refundReply
}

type refundReply struct {
	res *RefundResult
	err error
}

func (m *refundReq) fail(err error)  { m.reply <- refundReply{err: err} }
func (r refundReply) failure() error { return r.err }

// exchangeReq converts value between two currencies inside the account.
type exchangeReq struct {
	amount  int64
	current money.Currency
	next    money.Currency
	extra   map[string]any
	reply   chan exchangeReply
}

type exchangeReply struct {
	res *ExchangeResult
	err error
}

func (m *exchangeReq) fail(err error)  { m.reply <- exchangeReply{err: err} }
func (r exchangeReply) failure() error { return r.err }

type queryKind int

const (
	queryBalance queryKind = iota
	queryBalances
	queryOperation
	queryOperations
)

// queryReq reads account state. Queries go through the mailbox like
// mutations so every answer reflects a fully persisted prefix of the
// account's history.
type queryReq struct {
	kind     queryKind
	currency money.Currency
	opID     int64
	ini, fin time.Time
	reply    chan queryReply
}

type queryReply struct {
	balance  int64
	balances map[money.Currency]int64
	op       *account.Operation
	found    bool
	ops      []*account.Operation
	err      error
}

func (m *queryReq) fail(err error)  { m.reply <- queryReply{err: err} }
func (r queryReply) failure() error { return r.err }
