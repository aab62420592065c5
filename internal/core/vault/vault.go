// Package vault runs the live side of the account engine: one goroutine per
// active account, owning its state and serializing every operation against
// it. Actors are spawned on demand, rehydrate from the storage pool before
// serving, write every mutation through the pool before replying, and
// unload themselves after an idle period. Cross-account transfers travel
// between actors as ordinary requests, with the credit leg detached from
// the sender's loop so opposing transfers cannot deadlock.
package vault

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
	"github.com/contalabs/bankd/internal/core/rates"
)

var (
	// ErrStopped is returned when an account's actor kept stopping while
	// the request was being delivered, attempts included.
	ErrStopped = errors.New("account actor stopped")

	// ErrShutdown is returned once the vault itself is closed.
	ErrShutdown = errors.New("vault is shut down")

	// errRejected marks a request bounced by a stopping actor before it
	// touched any state. The dispatcher retries these on a fresh actor.
	errRejected = errors.New("request rejected by stopping actor")
)

// acquireAttempts bounds how many times a request chases a stopping actor
// before giving up with ErrStopped.
const acquireAttempts = 3

// Storer is the slice of the storage pool the vault needs.
type Storer interface {
	StoreSync(ctx context.Context, folder, key string, v any) error
	Load(ctx context.Context, folder, key string, out any) error
}

// RateSource converts amounts between currencies. *rates.Table implements
// it; tests substitute fixed tables.
type RateSource interface {
	Convert(amount int64, current, next money.Currency) (rates.Conversion, error)
}

// Config tunes actor behavior. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// IdleTimeout unloads an actor that received no request for this long.
	IdleTimeout time.Duration

	// DefaultCurrency and DefaultLimit shape accounts created on first
	// access. The limit applies to the default currency only; every other
	// currency floors at zero.
	DefaultCurrency money.Currency
	DefaultLimit    int64
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		IdleTimeout:     4 * time.Minute,
		DefaultCurrency: account.DefaultCurrency,
		DefaultLimit:    0,
	}
}

// Result is the outcome of a single-account mutation. Denied attempts are
// not errors: the attempt was recorded and persisted, Reason says why it
// did not move money, Balance is the operation currency's balance after.
type Result struct {
	AccountID int64
	Denied    bool
	Reason    string
	Balance   int64
	Op        *account.Operation
}

// TransferResult covers single and split transfers. LocalOps holds the
// sender-side records, one per recipient, or the single denied record.
// RecipientOps holds the credits that landed on the other side, in the
// order the recipients were given; on partial failure it is shorter than
// LocalOps and the call also returns an error.
type TransferResult struct {
	AccountID    int64
	Denied       bool
	Reason       string
	Balance      int64
	LocalOps     []*account.Operation
	RecipientOps []*account.Operation
}

// RefundResult carries the refund record and the balances after it. When
// the refund is refused the balances snapshot is still filled in so callers
// can render current state next to the error.
type RefundResult struct {
	AccountID int64
	Balances  map[money.Currency]int64
	Op        *account.Operation
}

// ExchangeResult reports the two touched balances after an exchange.
type ExchangeResult struct {
	AccountID int64
	Denied    bool
	Reason    string
	Balances  map[money.Currency]int64
	Op        *account.Operation
}

// Vault is the facade over the actor runtime. All methods are safe for
// concurrent use; operations on the same account serialize in arrival
// order at its actor.
type Vault struct {
	cfg      *Config
	store    Storer
	rates    RateSource
	sink     EventSink
	log      *zap.Logger
	registry *registry
}

// New wires a vault over a storage pool and a rates source. A nil sink
// discards events; a nil logger is replaced by a no-op one.
func New(cfg *Config, store Storer, rateSrc RateSource, sink EventSink, log *zap.Logger) *Vault {
	conf := *DefaultConfig()
	if cfg != nil {
		conf = *cfg
	}
	if conf.IdleTimeout <= 0 {
		conf.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if conf.DefaultCurrency == "" {
		conf.DefaultCurrency = account.DefaultCurrency
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	v := &Vault{
		cfg:   &conf,
		store: store,
		rates: rateSrc,
		sink:  sink,
		log:   log,
	}
	v.registry = newRegistry(v.newActor)
	return v
}

func (v *Vault) newActor(id int64) *actor {
	return &actor{
		id:       id,
		cfg:      v.cfg,
		store:    v.store,
		rates:    v.rates,
		peers:    v,
		sink:     v.sink,
		registry: v.registry,
		log:      v.log,
		mailbox:  make(chan message, mailboxSize),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// ActiveAccounts reports how many account actors are loaded right now.
func (v *Vault) ActiveAccounts() int {
	return v.registry.active()
}

// Stop unloads every actor and waits for their shutdown drains. Requests
// arriving afterwards fail with ErrShutdown.
func (v *Vault) Stop(ctx context.Context) error {
	return v.registry.close(ctx)
}

// dispatch routes one request to the account's actor and hands back its
// reply. A rejected delivery (the actor stopped between lookup and send) is
// retried on a fresh actor; rejection happens strictly before any state is
// touched, so a retry can never apply an operation twice.
func dispatch[R reply](ctx context.Context, v *Vault, accountID int64, build func() (message, chan R)) (R, error) {
	var zero R
	for attempt := 0; attempt < acquireAttempts; attempt++ {
		act, err := v.registry.acquire(accountID)
		if err != nil {
			return zero, err
		}
		m, ch := build()
		rep, err := await(ctx, act, m, ch)
		if err != nil {
			if errors.Is(err, errRejected) {
				continue
			}
			return zero, err
		}
		if errors.Is(rep.failure(), errRejected) {
			continue
		}
		return rep, nil
	}
	return zero, fmt.Errorf("account %d: %w", accountID, ErrStopped)
}

func (v *Vault) mutate(ctx context.Context, accountID int64, template mutateReq) (*Result, error) {
	rep, err := dispatch(ctx, v, accountID, func() (message, chan mutateReply) {
		req := template
		req.reply = make(chan mutateReply, 1)
		return &req, req.reply
	})
	if err != nil {
		return nil, err
	}
	return rep.res, rep.err
}

// Deposit credits the account. Deposits always succeed.
func (v *Vault) Deposit(ctx context.Context, accountID, amount int64, currency money.Currency, extra map[string]any) (*Result, error) {
	return v.mutate(ctx, accountID, mutateReq{
		op:       account.OpDeposit,
		amount:   amount,
		currency: currency,
		extra:    extra,
	})
}

// Withdraw debits the account, or records a denied attempt when the
// balance floor would break.
func (v *Vault) Withdraw(ctx context.Context, accountID, amount int64, currency money.Currency, extra map[string]any) (*Result, error) {
	return v.mutate(ctx, accountID, mutateReq{
		op:       account.OpWithdraw,
		amount:   amount,
		currency: currency,
		extra:    extra,
	})
}

// CardTransaction debits the account like Withdraw and records the card.
// It is the only operation a refund can later target.
func (v *Vault) CardTransaction(ctx context.Context, accountID, amount int64, currency money.Currency, cardID int64, extra map[string]any) (*Result, error) {
	return v.mutate(ctx, accountID, mutateReq{
		op:       account.OpCard,
		amount:   amount,
		currency: currency,
		cardID:   cardID,
		extra:    extra,
	})
}

// TransferIn credits a transfer received from senderID. Transfers between
// accounts of this vault call it internally; it is also the entry point
// for credits originated elsewhere.
func (v *Vault) TransferIn(ctx context.Context, accountID, amount int64, currency money.Currency, senderID int64, extra map[string]any) (*Result, error) {
	return v.mutate(ctx, accountID, mutateReq{
		op:       account.OpTransferIn,
		amount:   amount,
		currency: currency,
		senderID: senderID,
		extra:    extra,
	})
}

// Transfer moves amount from accountID to recipientID. The debit is
// persisted before the credit starts; when the credit leg fails the debit
// stands and the error is returned alongside the partial result.
func (v *Vault) Transfer(ctx context.Context, accountID, amount int64, currency money.Currency, recipientID int64, extra map[string]any) (*TransferResult, error) {
	rep, err := dispatch(ctx, v, accountID, func() (message, chan transferReply) {
		req := &transferReq{
			amount:      amount,
			currency:    currency,
			recipientID: recipientID,
			extra:       extra,
			reply:       make(chan transferReply, 1),
		}
		return req, req.reply
	})
	if err != nil {
		return nil, err
	}
	return rep.res, rep.err
}

// TransferSplit debits the full total once and credits every share's
// recipient with round(total * percentage). Percentages are taken as
// given: they are not normalized and need not sum to one, and rounding
// residue simply stays unassigned.
func (v *Vault) TransferSplit(ctx context.Context, accountID, total int64, currency money.Currency, shares []account.SplitShare, extra map[string]any) (*TransferResult, error) {
	rep, err := dispatch(ctx, v, accountID, func() (message, chan transferReply) {
		req := &splitReq{
			total:    total,
			currency: currency,
			shares:   shares,
			extra:    extra,
			reply:    make(chan transferReply, 1),
		}
		return req, req.reply
	})
	if err != nil {
		return nil, err
	}
	return rep.res, rep.err
}

// Refund reverses the card transaction with the given operation id. The
// target must exist and be a card transaction in status done; otherwise the
// error names the precondition and nothing is recorded.
func (v *Vault) Refund(ctx context.Context, accountID, operationID int64, extra map[string]any) (*RefundResult, error) {
	rep, err := dispatch(ctx, v, accountID, func() (message, chan refundReply) {
		req := &refundReq{
			refundID: operationID,
			extra:    extra,
			reply:    make(chan refundReply, 1),
		}
		return req, req.reply
	})
	if err != nil {
		return nil, err
	}
	return rep.res, rep.err
}

// Exchange converts amount from one currency to another inside the
// account, at the rate the vault's rate source quotes at execution time.
func (v *Vault) Exchange(ctx context.Context, accountID, amount int64, current, next money.Currency, extra map[string]any) (*ExchangeResult, error) {
	rep, err := dispatch(ctx, v, accountID, func() (message, chan exchangeReply) {
		req := &exchangeReq{
			amount:  amount,
			current: current,
			next:    next,
			extra:   extra,
			reply:   make(chan exchangeReply, 1),
		}
		return req, req.reply
	})
	if err != nil {
		return nil, err
	}
	return rep.res, rep.err
}

func (v *Vault) query(ctx context.Context, accountID int64, template queryReq) (queryReply, error) {
	rep, err := dispatch(ctx, v, accountID, func() (message, chan queryReply) {
		req := template
		req.reply = make(chan queryReply, 1)
		return &req, req.reply
	})
	if err != nil {
		return queryReply{}, err
	}
	return rep, rep.err
}

// Balance returns the balance for one currency. Currencies the account
// never held read as zero.
func (v *Vault) Balance(ctx context.Context, accountID int64, currency money.Currency) (int64, error) {
	rep, err := v.query(ctx, accountID, queryReq{kind: queryBalance, currency: currency})
	if err != nil {
		return 0, err
	}
	return rep.balance, nil
}

// Balances returns every currency the account holds.
func (v *Vault) Balances(ctx context.Context, accountID int64) (map[money.Currency]int64, error) {
	rep, err := v.query(ctx, accountID, queryReq{kind: queryBalances})
	if err != nil {
		return nil, err
	}
	return rep.balances, nil
}

// Operation looks up one recorded operation by id.
func (v *Vault) Operation(ctx context.Context, accountID, operationID int64) (*account.Operation, bool, error) {
	rep, err := v.query(ctx, accountID, queryReq{kind: queryOperation, opID: operationID})
	if err != nil {
		return nil, false, err
	}
	return rep.op, rep.found, nil
}

// OperationsOn lists the operations recorded on one calendar day, most
// recent first.
func (v *Vault) OperationsOn(ctx context.Context, accountID int64, day time.Time) ([]*account.Operation, error) {
	return v.OperationsBetween(ctx, accountID, day, day)
}

// OperationsBetween lists the operations recorded between two days, both
// inclusive, most recent first.
func (v *Vault) OperationsBetween(ctx context.Context, accountID int64, ini, fin time.Time) ([]*account.Operation, error) {
	rep, err := v.query(ctx, accountID, queryReq{kind: queryOperations, ini: ini, fin: fin})
	if err != nil {
		return nil, err
	}
	return rep.ops, nil
}
