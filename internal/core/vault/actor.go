package vault

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
	"github.com/contalabs/bankd/internal/storage/pool"
)

// accountsFolder is the storage pool folder holding account snapshots,
// keyed by decimal account id.
const accountsFolder = "accounts"

// mailboxSize bounds how many requests may queue on one account before
// senders block.
const mailboxSize = 16

// peerCaller is the slice of the vault an actor uses to reach other
// accounts. It exists so actor tests can intercept cross-account calls.
type peerCaller interface {
	TransferIn(ctx context.Context, accountID, amount int64, currency money.Currency, senderID int64, extra map[string]any) (*Result, error)
}

// actor owns one account. All state access happens on its run loop, so the
// account value needs no locking; persistence is write-through, meaning
// every reply describes state already accepted by the storage pool.
type actor struct {
	id       int64
	cfg      *Config
	store    Storer
	rates    RateSource
	peers    peerCaller
	sink     EventSink
	registry *registry
	log      *zap.Logger

	acct *account.Account

	mailbox  chan message
	quit     chan struct{}
	done     chan struct{}
	stopOnce sync.Once

	// detached counts transfer completions running off-loop. Shutdown
	// waits for them so their replies are delivered before done closes.
	detached sync.WaitGroup
}

func (a *actor) key() string {
	return strconv.FormatInt(a.id, 10)
}

// stop requests shutdown. Safe to call more than once.
func (a *actor) stop() {
	a.stopOnce.Do(func() { close(a.quit) })
}

// run is the actor goroutine. It rehydrates the account before serving
// anything, then processes the mailbox until the idle timer fires or the
// registry shuts it down.
func (a *actor) run() {
	if err := a.rehydrate(); err != nil {
		a.log.Error("account rehydration failed",
			zap.Int64("account", a.id),
			zap.Error(err))
		a.registry.evict(a)
		a.drainFail(fmt.Errorf("account %d unavailable: %w", a.id, err))
		close(a.done)
		return
	}

	idle := time.NewTimer(a.cfg.IdleTimeout)
	defer idle.Stop()
	for {
		select {
		case m := <-a.mailbox:
			a.handle(m)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(a.cfg.IdleTimeout)
		case <-idle.C:
			a.log.Debug("account idle, unloading", zap.Int64("account", a.id))
			a.shutdown()
			return
		case <-a.quit:
			a.shutdown()
			return
		}
	}
}

// shutdown deregisters first so new requests spawn a successor, bounces
// whatever is already queued, then waits for detached transfer legs to
// deliver their replies before announcing the stop.
func (a *actor) shutdown() {
	a.registry.evict(a)
	a.drainFail(errRejected)
	a.detached.Wait()
	a.drainFail(errRejected)
	close(a.done)
}

// drainFail empties the mailbox without blocking, failing every queued
// request. Requests that race past it are caught by the closed done channel
// on the caller side.
func (a *actor) drainFail(err error) {
	for {
		select {
		case m := <-a.mailbox:
			m.fail(err)
		default:
			return
		}
	}
}

// rehydrate loads the account snapshot from the pool. An account never seen
// before is created with the configured defaults and persisted immediately,
// so its existence survives a crash even if no operation ever lands.
func (a *actor) rehydrate() error {
	var snap account.Account
	err := a.store.Load(context.Background(), accountsFolder, a.key(), &snap)
	switch {
	case err == nil:
		a.acct = &snap
		return nil
	case pool.IsNotFound(err):
		fresh, err := account.New(a.id, account.Options{
			DefaultCurrency: a.cfg.DefaultCurrency,
			Limit:           a.cfg.DefaultLimit,
		})
		if err != nil {
			return err
		}
		if err := a.persist(fresh); err != nil {
			return err
		}
		a.acct = fresh
		return nil
	default:
		return err
	}
}

func (a *actor) persist(snap *account.Account) error {
	return a.store.StoreSync(context.Background(), accountsFolder, a.key(), snap)
}

// commit persists the mutated account and only then swaps it in. On a
// storage failure the actor keeps serving from the previous state and the
// attempted operation leaves no trace, not even an id.
func (a *actor) commit(applied *account.Applied) error {
	if err := a.persist(applied.Account); err != nil {
		a.log.Error("account persist failed",
			zap.Int64("account", a.id),
			zap.Error(err))
		return fmt.Errorf("persist account %d: %w", a.id, err)
	}
	a.acct = applied.Account
	a.emit(applied.Ops...)
	return nil
}

// emit publishes one event per recorded operation, each carrying the
// post-mutation balance snapshot.
func (a *actor) emit(ops ...*account.Operation) {
	if a.sink == nil {
		return
	}
	balances := a.acct.AllBalances()
	for _, op := range ops {
		a.sink.Publish(Event{AccountID: a.id, Op: op, Balances: balances})
	}
}

func (a *actor) handle(m message) {
	switch m := m.(type) {
	case *mutateReq:
		a.handleMutate(m)
	case *transferReq:
		a.handleTransfer(m)
	case *splitReq:
		a.handleSplit(m)
	case *refundReq:
		a.handleRefund(m)
	case *exchangeReq:
		a.handleExchange(m)
	case *queryReq:
		a.handleQuery(m)
	default:
		m.fail(fmt.Errorf("unknown request %T", m))
	}
}

func (a *actor) handleMutate(m *mutateReq) {
	var (
		applied *account.Applied
		err     error
	)
	now := time.Now().UTC()
	switch m.op {
	case account.OpDeposit:
		applied, err = a.acct.Deposit(m.amount, m.currency, now, m.extra)
	case account.OpWithdraw:
		applied, err = a.acct.Withdraw(m.amount, m.currency, now, m.extra)
	case account.OpCard:
		applied, err = a.acct.CardTransaction(m.amount, m.currency, m.cardID, now, m.extra)
	case account.OpTransferIn:
		applied, err = a.acct.TransferIn(m.amount, m.currency, m.senderID, now, m.extra)
	default:
		err = fmt.Errorf("unsupported operation %q", m.op)
	}
	if err != nil {
		m.reply <- mutateReply{err: err}
		return
	}
	if err := a.commit(applied); err != nil {
		m.reply <- mutateReply{err: err}
		return
	}
	m.reply <- mutateReply{res: &Result{
		AccountID: a.id,
		Denied:    applied.Denied,
		Reason:    applied.Reason,
		Balance:   a.acct.Balance(m.currency),
		Op:        applied.Op(),
	}}
}

func (a *actor) handleTransfer(m *transferReq) {
	applied, err := a.acct.TransferOut(m.amount, m.currency, m.recipientID, time.Now().UTC(), m.extra)
	if err != nil {
		m.reply <- transferReply{err: err}
		return
	}
	if err := a.commit(applied); err != nil {
		m.reply <- transferReply{err: err}
		return
	}
	res := &TransferResult{
		AccountID: a.id,
		Denied:    applied.Denied,
		Reason:    applied.Reason,
		Balance:   a.acct.Balance(m.currency),
		LocalOps:  applied.Ops,
	}
	if applied.Denied {
		m.reply <- transferReply{res: res}
		return
	}

	// The credit leg runs detached so this account keeps serving while the
	// recipient applies it. Two accounts transferring to each other at the
	// same time, or an account transferring to itself, cannot deadlock.
	a.detached.Add(1)
	go func() {
		defer a.detached.Done()
		a.completeTransfer(m, res)
	}()
}

func (a *actor) completeTransfer(m *transferReq, res *TransferResult) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.IdleTimeout)
	defer cancel()

	in, err := a.peers.TransferIn(ctx, m.recipientID, m.amount, m.currency, a.id, m.extra)
	if err != nil {
		// The debit is already persisted; there is no rollback. The caller
		// gets the local record plus the failure.
		m.reply <- transferReply{res: res, err: fmt.Errorf("credit recipient %d: %w", m.recipientID, err)}
		return
	}
	res.RecipientOps = []*account.Operation{in.Op}
	m.reply <- transferReply{res: res}
}

func (a *actor) handleSplit(m *splitReq) {
	applied, err := a.acct.TransferOutSplit(m.total, m.currency, m.shares, time.Now().UTC(), m.extra)
	if err != nil {
		m.reply <- transferReply{err: err}
		return
	}
	if err := a.commit(applied); err != nil {
		m.reply <- transferReply{err: err}
		return
	}
	res := &TransferResult{
		AccountID: a.id,
		Denied:    applied.Denied,
		Reason:    applied.Reason,
		Balance:   a.acct.Balance(m.currency),
		LocalOps:  applied.Ops,
	}
	if applied.Denied {
		m.reply <- transferReply{res: res}
		return
	}

	a.detached.Add(1)
	go func() {
		defer a.detached.Done()
		a.completeSplit(m, res)
	}()
}

// completeSplit credits every recipient concurrently. Shares that fail do
// not cancel their siblings: the reply reports the first error together
// with every credit that did land, in the order the shares were given.
func (a *actor) completeSplit(m *splitReq, res *TransferResult) {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.IdleTimeout)
	defer cancel()

	credits := make([]*account.Operation, len(m.shares))
	var g errgroup.Group
	for i, share := range m.shares {
		amount, _ := res.LocalOps[i].Amount()
		extra := mergedExtra(m.extra, share.Extra)
		recipientID := share.AccountID
		g.Go(func() error {
			in, err := a.peers.TransferIn(ctx, recipientID, amount, m.currency, a.id, extra)
			if err != nil {
				return fmt.Errorf("credit recipient %d: %w", recipientID, err)
			}
			credits[i] = in.Op
			return nil
		})
	}
	err := g.Wait()

	for _, op := range credits {
		if op != nil {
			res.RecipientOps = append(res.RecipientOps, op)
		}
	}
	m.reply <- transferReply{res: res, err: err}
}

// mergedExtra layers a share's own fields over the sender's general ones
// for the recipient's transfer_in record.
func mergedExtra(general, specific map[string]any) map[string]any {
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

func (a *actor) handleRefund(m *refundReq) {
	applied, err := a.acct.Refund(m.refundID, time.Now().UTC(), m.extra)
	if err != nil {
		// Precondition failures record nothing but still report where the
		// balances stand.
		m.reply <- refundReply{
			res: &RefundResult{AccountID: a.id, Balances: a.acct.AllBalances()},
			err: err,
		}
		return
	}
	if err := a.commit(applied); err != nil {
		m.reply <- refundReply{err: err}
		return
	}
	// The original card transaction changed status; re-emit it so sinks
	// tracking operation state see the flip.
	if target, ok := a.acct.Operation(m.refundID); ok {
		a.emit(target)
	}
	m.reply <- refundReply{res: &RefundResult{
		AccountID: a.id,
		Balances:  a.acct.AllBalances(),
		Op:        applied.Op(),
	}}
}

func (a *actor) handleExchange(m *exchangeReq) {
	conv, err := a.rates.Convert(m.amount, m.current, m.next)
	if err != nil {
		m.reply <- exchangeReply{err: err}
		return
	}
	applied, err := a.acct.Exchange(m.amount, m.current, m.next, conv.Amount, conv.Rate, time.Now().UTC(), m.extra)
	if err != nil {
		m.reply <- exchangeReply{err: err}
		return
	}
	if err := a.commit(applied); err != nil {
		m.reply <- exchangeReply{err: err}
		return
	}
	m.reply <- exchangeReply{res: &ExchangeResult{
		AccountID: a.id,
		Denied:    applied.Denied,
		Reason:    applied.Reason,
		Balances: map[money.Currency]int64{
			m.current: a.acct.Balance(m.current),
			m.next:    a.acct.Balance(m.next),
		},
		Op: applied.Op(),
	}}
}

func (a *actor) handleQuery(m *queryReq) {
	switch m.kind {
	case queryBalance:
		m.reply <- queryReply{balance: a.acct.Balance(m.currency)}
	case queryBalances:
		m.reply <- queryReply{balances: a.acct.AllBalances()}
	case queryOperation:
		op, ok := a.acct.Operation(m.opID)
		m.reply <- queryReply{op: op, found: ok}
	case queryOperations:
		m.reply <- queryReply{ops: a.acct.OperationsBetween(m.ini, m.fin)}
	default:
		m.fail(fmt.Errorf("unknown query kind %d", m.kind))
	}
}

// await sends a request and waits for its reply. Once the request is
// enqueued the caller is committed: cancelling the context afterwards does
// not un-send it, so a mutation may still apply even when the caller has
// stopped listening.
func await[R reply](ctx context.Context, a *actor, m message, ch chan R) (R, error) {
	var zero R
	select {
	case a.mailbox <- m:
	case <-a.done:
		return zero, errRejected
	case <-ctx.Done():
		return zero, ctx.Err()
	}

	select {
	case rep := <-ch:
		return rep, nil
	case <-a.done:
		// The reply may have been delivered right before the stop.
		select {
		case rep := <-ch:
			return rep, nil
		default:
			return zero, errRejected
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
