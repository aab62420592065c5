package vault_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
	"github.com/contalabs/bankd/internal/core/rates"
	"github.com/contalabs/bankd/internal/core/vault"
	"github.com/contalabs/bankd/internal/storage/pool"
)

func testPool(t *testing.T) *pool.Pool {
	t.Helper()
	p, err := pool.New(&pool.Config{
		Backend:     "memory",
		Workers:     2,
		CacheSize:   64,
		Compressor:  "none",
		AsyncBuffer: 16,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testRates(t *testing.T) *rates.Table {
	t.Helper()
	table, err := rates.NewTable(map[money.Currency]decimal.Decimal{
		"BRL": decimal.NewFromInt(1),
		"USD": decimal.RequireFromString("0.18"),
		"EUR": decimal.RequireFromString("0.16"),
	})
	require.NoError(t, err)
	return table
}

func testVault(t *testing.T, store vault.Storer, opts ...func(*vault.Config)) *vault.Vault {
	t.Helper()
	cfg := vault.DefaultConfig()
	for _, o := range opts {
		o(cfg)
	}
	v := vault.New(cfg, store, testRates(t), nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = v.Stop(ctx)
	})
	return v
}

func TestDepositAndWithdraw(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	res, err := v.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.Equal(t, int64(1000), res.Balance)
	require.NotNil(t, res.Op)
	assert.Equal(t, int64(1), res.Op.ID)
	assert.Equal(t, account.OpDeposit, res.Op.Type)
	assert.Equal(t, account.StatusDone, res.Op.Status)

	res, err = v.Withdraw(ctx, 1, 200, "BRL", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(800), res.Balance)
	assert.Equal(t, int64(2), res.Op.ID)

	bal, err := v.Balance(ctx, 1, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal)
}

func TestWithdrawDeniedIsRecorded(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "BRL", nil)
	require.NoError(t, err)

	res, err := v.Withdraw(ctx, 1, 500, "BRL", nil)
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, "No BRL funds", res.Reason)
	assert.Equal(t, int64(100), res.Balance)
	require.NotNil(t, res.Op)
	assert.Equal(t, account.StatusDenied, res.Op.Status)
	assert.Equal(t, "No BRL funds", res.Op.Data[account.DataMessage])

	op, found, err := v.Operation(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, account.StatusDenied, op.Status)
}

func TestWithdrawWithinDefaultLimit(t *testing.T) {
	v := testVault(t, testPool(t), func(c *vault.Config) { c.DefaultLimit = -500 })
	ctx := context.Background()

	res, err := v.Withdraw(ctx, 1, 300, "BRL", nil)
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.Equal(t, int64(-300), res.Balance)

	res, err = v.Withdraw(ctx, 1, 250, "BRL", nil)
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, int64(-300), res.Balance)

	res, err = v.Withdraw(ctx, 1, 200, "BRL", nil)
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.Equal(t, int64(-500), res.Balance)
}

func TestForeignCurrencyFloorsAtZero(t *testing.T) {
	v := testVault(t, testPool(t), func(c *vault.Config) { c.DefaultLimit = -500 })
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "USD", nil)
	require.NoError(t, err)

	res, err := v.Withdraw(ctx, 1, 150, "USD", nil)
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, "No USD funds", res.Reason)

	res, err = v.Withdraw(ctx, 1, 100, "USD", nil)
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.Equal(t, int64(0), res.Balance)
}

func TestCardTransactionAndRefund(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)

	res, err := v.CardTransaction(ctx, 1, 250, "BRL", 4242, map[string]any{"merchant": "padaria"})
	require.NoError(t, err)
	assert.Equal(t, int64(750), res.Balance)
	assert.Equal(t, int64(4242), res.Op.Data[account.DataCardID])
	assert.Equal(t, "padaria", res.Op.Data["merchant"])

	rr, err := v.Refund(ctx, 1, res.Op.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), rr.Balances["BRL"])
	require.NotNil(t, rr.Op)
	assert.Equal(t, account.OpRefund, rr.Op.Type)
	assert.Equal(t, int64(2), rr.Op.Data[account.DataRefundOf])

	op, found, err := v.Operation(ctx, 1, 2)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, account.StatusRefunded, op.Status)
}

func TestRefundPreconditions(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)
	card, err := v.CardTransaction(ctx, 1, 100, "BRL", 7, nil)
	require.NoError(t, err)
	_, err = v.Refund(ctx, 1, card.Op.ID, nil)
	require.NoError(t, err)

	// Unknown id.
	rr, err := v.Refund(ctx, 1, 99, nil)
	require.EqualError(t, err, "operation does not exist")
	require.NotNil(t, rr)
	assert.Equal(t, int64(1000), rr.Balances["BRL"])

	// Already refunded.
	_, err = v.Refund(ctx, 1, card.Op.ID, nil)
	require.EqualError(t, err, "unrefundable operation")

	// Wrong type.
	_, err = v.Refund(ctx, 1, 1, nil)
	require.EqualError(t, err, "unrefundable operation")

	// None of the failed refunds left a record behind.
	ops, err := v.OperationsOn(ctx, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, ops, 3)
}

func TestExchange(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)

	// 550 BRL at rate 0.18/1 lands as 99 USD.
	res, err := v.Exchange(ctx, 1, 550, "BRL", "USD", nil)
	require.NoError(t, err)
	assert.False(t, res.Denied)
	assert.Equal(t, int64(450), res.Balances["BRL"])
	assert.Equal(t, int64(99), res.Balances["USD"])
	require.NotNil(t, res.Op)
	assert.Equal(t, account.OpExchange, res.Op.Type)
	assert.Equal(t, int64(99), res.Op.Data[account.DataNewAmount])
	assert.Equal(t, "0.18", res.Op.Data[account.DataExchangeRate])

	// 25 * 0.18 = 4.5 rounds half away from zero to 5.
	res, err = v.Exchange(ctx, 1, 25, "BRL", "USD", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(104), res.Balances["USD"])
}

func TestExchangeDenied(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "BRL", nil)
	require.NoError(t, err)

	res, err := v.Exchange(ctx, 1, 5000, "BRL", "USD", nil)
	require.NoError(t, err)
	assert.True(t, res.Denied)
	assert.Equal(t, "No BRL funds", res.Reason)
	assert.Equal(t, int64(100), res.Balances["BRL"])
	assert.Equal(t, int64(0), res.Balances["USD"])
	assert.Equal(t, account.StatusDenied, res.Op.Status)
}

func TestExchangeUnknownCurrency(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "BRL", nil)
	require.NoError(t, err)

	_, err = v.Exchange(ctx, 1, 50, "BRL", "XXX", nil)
	require.ErrorIs(t, err, rates.ErrUnknownCurrency)

	// Nothing was recorded.
	ops, err := v.OperationsOn(ctx, 1, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestTransferSingleRecipient(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)

	tr, err := v.Transfer(ctx, 1, 300, "BRL", 2, map[string]any{"memo": "rent"})
	require.NoError(t, err)
	assert.False(t, tr.Denied)
	assert.Equal(t, int64(700), tr.Balance)

	require.Len(t, tr.LocalOps, 1)
	out := tr.LocalOps[0]
	assert.Equal(t, account.OpTransferOut, out.Type)
	assert.Equal(t, int64(2), out.Data[account.DataRecipient])
	assert.Equal(t, "rent", out.Data["memo"])

	require.Len(t, tr.RecipientOps, 1)
	in := tr.RecipientOps[0]
	assert.Equal(t, account.OpTransferIn, in.Type)
	assert.Equal(t, int64(1), in.Data[account.DataSender])
	assert.Equal(t, int64(300), in.Data[account.DataAmount])
	assert.Equal(t, "rent", in.Data["memo"])

	bal, err := v.Balance(ctx, 2, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(300), bal)
}

func TestTransferDeniedLeavesRecipientUntouched(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	tr, err := v.Transfer(ctx, 5, 300, "BRL", 6, nil)
	require.NoError(t, err)
	assert.True(t, tr.Denied)
	assert.Equal(t, "No BRL funds", tr.Reason)
	require.Len(t, tr.LocalOps, 1)
	assert.Equal(t, account.StatusDenied, tr.LocalOps[0].Status)
	assert.Empty(t, tr.RecipientOps)

	ops, err := v.OperationsOn(ctx, 6, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestTransferToSelf(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 9, 500, "BRL", nil)
	require.NoError(t, err)

	tr, err := v.Transfer(ctx, 9, 200, "BRL", 9, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(300), tr.Balance) // after the debit leg
	require.Len(t, tr.RecipientOps, 1)

	bal, err := v.Balance(ctx, 9, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(500), bal)

	ops, err := v.OperationsOn(ctx, 9, time.Now().UTC())
	require.NoError(t, err)
	assert.Len(t, ops, 3)
}

func TestMutualTransfersDoNotDeadlock(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 21, 1000, "BRL", nil)
	require.NoError(t, err)
	_, err = v.Deposit(ctx, 22, 1000, "BRL", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, err := v.Transfer(ctx, 21, 400, "BRL", 22, nil)
		errs <- err
	}()
	go func() {
		defer wg.Done()
		_, err := v.Transfer(ctx, 22, 250, "BRL", 21, nil)
		errs <- err
	}()
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal21, err := v.Balance(ctx, 21, "BRL")
	require.NoError(t, err)
	bal22, err := v.Balance(ctx, 22, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(850), bal21)
	assert.Equal(t, int64(1150), bal22)
}

func TestTransferSplit(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 31, 1000, "BRL", nil)
	require.NoError(t, err)

	tr, err := v.TransferSplit(ctx, 31, 500, "BRL", []account.SplitShare{
		{AccountID: 32, Percentage: decimal.RequireFromString("0.7")},
		{AccountID: 33, Percentage: decimal.RequireFromString("0.3")},
	}, nil)
	require.NoError(t, err)
	assert.False(t, tr.Denied)
	assert.Equal(t, int64(500), tr.Balance)

	require.Len(t, tr.LocalOps, 2)
	amt0, _ := tr.LocalOps[0].Amount()
	amt1, _ := tr.LocalOps[1].Amount()
	assert.Equal(t, int64(350), amt0)
	assert.Equal(t, int64(150), amt1)
	assert.Equal(t, "0.7", tr.LocalOps[0].Data[account.DataPercentage])

	require.Len(t, tr.RecipientOps, 2)
	assert.Equal(t, int64(31), tr.RecipientOps[0].Data[account.DataSender])

	bal32, err := v.Balance(ctx, 32, "BRL")
	require.NoError(t, err)
	bal33, err := v.Balance(ctx, 33, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(350), bal32)
	assert.Equal(t, int64(150), bal33)
}

func TestTransferSplitRounding(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 41, 200, "BRL", nil)
	require.NoError(t, err)

	// Three thirds of 100 round to 33 each; the residual cent stays with
	// nobody, and the sender is still debited the full total.
	third := decimal.RequireFromString("0.333")
	tr, err := v.TransferSplit(ctx, 41, 100, "BRL", []account.SplitShare{
		{AccountID: 42, Percentage: third},
		{AccountID: 43, Percentage: third},
		{AccountID: 44, Percentage: third},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(100), tr.Balance)
	for _, op := range tr.LocalOps {
		amt, _ := op.Amount()
		assert.Equal(t, int64(33), amt)
	}

	// Percentages are applied as given, never normalized: shares summing
	// past one credit more than the debited total.
	tr, err = v.TransferSplit(ctx, 41, 100, "BRL", []account.SplitShare{
		{AccountID: 42, Percentage: decimal.RequireFromString("0.8")},
		{AccountID: 43, Percentage: decimal.RequireFromString("0.8")},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), tr.Balance)
	amt0, _ := tr.LocalOps[0].Amount()
	amt1, _ := tr.LocalOps[1].Amount()
	assert.Equal(t, int64(80), amt0)
	assert.Equal(t, int64(80), amt1)
}

func TestTransferSplitDenied(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.Deposit(ctx, 51, 100, "BRL", nil)
	require.NoError(t, err)

	tr, err := v.TransferSplit(ctx, 51, 500, "BRL", []account.SplitShare{
		{AccountID: 52, Percentage: decimal.RequireFromString("0.5")},
		{AccountID: 53, Percentage: decimal.RequireFromString("0.5")},
	}, nil)
	require.NoError(t, err)
	assert.True(t, tr.Denied)
	require.Len(t, tr.LocalOps, 1)
	assert.Equal(t, account.StatusDenied, tr.LocalOps[0].Status)
	assert.Len(t, tr.LocalOps[0].Data[account.DataRecipients], 2)
	assert.Empty(t, tr.RecipientOps)

	ops, err := v.OperationsOn(ctx, 52, time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestTransferSplitPreconditions(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	_, err := v.TransferSplit(ctx, 61, 100, "BRL", nil, nil)
	assert.ErrorIs(t, err, account.ErrNoRecipients)

	_, err = v.TransferSplit(ctx, 61, 0, "BRL", []account.SplitShare{
		{AccountID: 62, Percentage: decimal.RequireFromString("0.5")},
	}, nil)
	assert.ErrorIs(t, err, account.ErrInvalidAmount)

	_, err = v.TransferSplit(ctx, 61, 100, "BRL", []account.SplitShare{
		{AccountID: 62, Percentage: decimal.RequireFromString("-0.5")},
	}, nil)
	assert.ErrorIs(t, err, account.ErrInvalidPercentage)
}

type captureSink struct {
	mu  sync.Mutex
	evs []vault.Event
}

func (c *captureSink) Publish(ev vault.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evs = append(c.evs, ev)
}

func (c *captureSink) events() []vault.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]vault.Event(nil), c.evs...)
}

func TestEventsFollowOperations(t *testing.T) {
	sink := &captureSink{}
	v := vault.New(nil, testPool(t), testRates(t), sink, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = v.Stop(ctx)
	})
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)
	_, err = v.Withdraw(ctx, 1, 9999, "BRL", nil)
	require.NoError(t, err)
	card, err := v.CardTransaction(ctx, 1, 300, "BRL", 7, nil)
	require.NoError(t, err)
	_, err = v.Refund(ctx, 1, card.Op.ID, nil)
	require.NoError(t, err)

	evs := sink.events()
	require.Len(t, evs, 5)

	assert.Equal(t, account.OpDeposit, evs[0].Op.Type)
	assert.Equal(t, int64(1000), evs[0].Balances["BRL"])

	// Denied attempts are published too.
	assert.Equal(t, account.StatusDenied, evs[1].Op.Status)
	assert.Equal(t, int64(1000), evs[1].Balances["BRL"])

	assert.Equal(t, account.OpCard, evs[2].Op.Type)

	// A refund publishes its own record and re-publishes the flipped card
	// transaction.
	assert.Equal(t, account.OpRefund, evs[3].Op.Type)
	assert.Equal(t, account.OpCard, evs[4].Op.Type)
	assert.Equal(t, account.StatusRefunded, evs[4].Op.Status)
	assert.Equal(t, int64(1000), evs[4].Balances["BRL"])
}

func TestRestartRehydratesFromStorage(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	cfg := &pool.Config{
		Backend:     "file",
		BaseFolder:  dir,
		Workers:     2,
		Compressor:  "lz4",
		AsyncBuffer: 16,
	}

	p1, err := pool.New(cfg, zap.NewNop())
	require.NoError(t, err)
	v1 := vault.New(nil, p1, testRates(t), nil, zap.NewNop())

	_, err = v1.Deposit(ctx, 1, 1000, "BRL", nil)
	require.NoError(t, err)
	_, err = v1.CardTransaction(ctx, 1, 300, "BRL", 7, nil)
	require.NoError(t, err)
	_, err = v1.Withdraw(ctx, 1, 9000, "BRL", nil)
	require.NoError(t, err)

	require.NoError(t, v1.Stop(ctx))
	require.NoError(t, p1.Close())

	p2, err := pool.New(cfg, zap.NewNop())
	require.NoError(t, err)
	defer p2.Close()
	v2 := vault.New(nil, p2, testRates(t), nil, zap.NewNop())
	defer v2.Stop(ctx)

	bal, err := v2.Balance(ctx, 1, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(700), bal)

	op, found, err := v2.Operation(ctx, 1, 3)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, account.StatusDenied, op.Status)
	assert.Equal(t, "No BRL funds", op.Data[account.DataMessage])

	// Ids keep counting densely across the restart.
	res, err := v2.Deposit(ctx, 1, 50, "BRL", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Op.ID)
	assert.Equal(t, int64(750), res.Balance)
}

func TestIdleActorUnloadsAndRespawns(t *testing.T) {
	v := testVault(t, testPool(t), func(c *vault.Config) { c.IdleTimeout = 40 * time.Millisecond })
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "BRL", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return v.ActiveAccounts() == 0 },
		2*time.Second, 5*time.Millisecond)

	// The next request rehydrates the same state on a fresh actor.
	res, err := v.Deposit(ctx, 1, 50, "BRL", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(150), res.Balance)
	assert.Equal(t, int64(2), res.Op.ID)
}

func TestStopRejectsFurtherRequests(t *testing.T) {
	p := testPool(t)
	v := vault.New(nil, p, testRates(t), nil, zap.NewNop())
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "BRL", nil)
	require.NoError(t, err)

	require.NoError(t, v.Stop(ctx))
	require.NoError(t, v.Stop(ctx)) // idempotent

	_, err = v.Deposit(ctx, 1, 100, "BRL", nil)
	assert.ErrorIs(t, err, vault.ErrShutdown)
	_, err = v.Balance(ctx, 1, "BRL")
	assert.ErrorIs(t, err, vault.ErrShutdown)
}

func TestConcurrentDepositsSerialize(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := v.Deposit(ctx, 1, 10, "BRL", nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	bal, err := v.Balance(ctx, 1, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(250), bal)

	ops, err := v.OperationsOn(ctx, 1, time.Now().UTC())
	require.NoError(t, err)
	require.Len(t, ops, n)
	// Most recent first, ids dense from n down to 1.
	for i, op := range ops {
		assert.Equal(t, int64(n-i), op.ID)
	}
}

// flakyStore wraps a Storer and fails writes on demand.
type flakyStore struct {
	inner      vault.Storer
	failStores atomic.Bool
	failKey    string
}

func (f *flakyStore) StoreSync(ctx context.Context, folder, key string, v any) error {
	if f.failStores.Load() {
		return errors.New("disk full")
	}
	if f.failKey != "" && key == f.failKey {
		return errors.New("disk full")
	}
	return f.inner.StoreSync(ctx, folder, key, v)
}

func (f *flakyStore) Load(ctx context.Context, folder, key string, out any) error {
	return f.inner.Load(ctx, folder, key, out)
}

func TestPersistFailureKeepsPriorState(t *testing.T) {
	store := &flakyStore{inner: testPool(t)}
	v := testVault(t, store)
	ctx := context.Background()

	_, err := v.Deposit(ctx, 1, 100, "BRL", nil)
	require.NoError(t, err)

	store.failStores.Store(true)
	_, err = v.Withdraw(ctx, 1, 40, "BRL", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	// The failed attempt left the balance and the id counter untouched.
	store.failStores.Store(false)
	bal, err := v.Balance(ctx, 1, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal)

	res, err := v.Withdraw(ctx, 1, 40, "BRL", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(60), res.Balance)
	assert.Equal(t, int64(2), res.Op.ID)
}

func TestSplitPartialFailureKeepsDebit(t *testing.T) {
	store := &flakyStore{inner: testPool(t), failKey: "3"}
	v := testVault(t, store)
	ctx := context.Background()

	_, err := v.Deposit(ctx, 31, 1000, "BRL", nil)
	require.NoError(t, err)

	// Account 3 cannot be persisted, so its first-touch creation fails and
	// with it the credit leg of its share.
	tr, err := v.TransferSplit(ctx, 31, 200, "BRL", []account.SplitShare{
		{AccountID: 2, Percentage: decimal.RequireFromString("0.5")},
		{AccountID: 3, Percentage: decimal.RequireFromString("0.5")},
	}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "credit recipient 3")
	require.NotNil(t, tr)

	// The debit and the successful credit stand; there is no rollback.
	assert.Equal(t, int64(800), tr.Balance)
	assert.Len(t, tr.LocalOps, 2)
	require.Len(t, tr.RecipientOps, 1)
	assert.Equal(t, int64(31), tr.RecipientOps[0].Data[account.DataSender])

	bal2, err := v.Balance(ctx, 2, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(100), bal2)
	bal31, err := v.Balance(ctx, 31, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(800), bal31)
}

func TestOperationsDateRange(t *testing.T) {
	v := testVault(t, testPool(t))
	ctx := context.Background()
	today := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := v.Deposit(ctx, 1, 10, "BRL", nil)
		require.NoError(t, err)
	}

	ops, err := v.OperationsOn(ctx, 1, today)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	assert.Equal(t, int64(3), ops[0].ID)
	assert.Equal(t, int64(1), ops[2].ID)

	ops, err = v.OperationsBetween(ctx, 1, today.AddDate(0, 0, -1), today)
	require.NoError(t, err)
	assert.Len(t, ops, 3)

	ops, err = v.OperationsOn(ctx, 1, today.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Empty(t, ops)

	_, found, err := v.Operation(ctx, 1, 99)
	require.NoError(t, err)
	assert.False(t, found)
}
