package vault

import (
	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
)

// Event describes one applied operation: the record itself plus the account
// balances immediately after it. Denied attempts produce events too; only
// precondition failures, which record nothing, stay silent.
type Event struct {
	AccountID int64                    `json:"account_id"`
	Op        *account.Operation       `json:"operation"`
	Balances  map[money.Currency]int64 `json:"balances"`
}

// EventSink receives operation events from account actors. Publish runs on
// the actor loop and must not block; sinks that do real work hand the event
// off to their own goroutine or queue.
type EventSink interface {
	Publish(Event)
}

// NoOpSink discards events. It stands in wherever no feed is wired.
type NoOpSink struct{}

// Publish drops the event.
func (NoOpSink) Publish(Event) {}

// MultiSink fans one event out to several sinks in order.
type MultiSink []EventSink

// Publish forwards the event to every sink.
func (m MultiSink) Publish(ev Event) {
	for _, s := range m {
		s.Publish(ev)
	}
}

var (
	_ EventSink = NoOpSink{}
	_ EventSink = MultiSink(nil)
)
