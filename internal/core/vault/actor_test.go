package vault

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/contalabs/bankd/internal/core/account"
	"github.com/contalabs/bankd/internal/core/money"
	"github.com/contalabs/bankd/internal/core/rates"
	"github.com/contalabs/bankd/internal/storage/pool"
)

// memStore is a Storer good enough for actor lifecycle tests.
type memStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) StoreSync(_ context.Context, folder, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[folder+"/"+key] = b
	return nil
}

func (s *memStore) Load(_ context.Context, folder, key string, out any) error {
	s.mu.Lock()
	b, ok := s.data[folder+"/"+key]
	s.mu.Unlock()
	if !ok {
		return pool.ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (s *memStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

func lifecycleVault(t *testing.T) *Vault {
	t.Helper()
	table, err := rates.NewTable(map[money.Currency]decimal.Decimal{
		"BRL": decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	v := New(&Config{IdleTimeout: time.Minute}, newMemStore(), table, nil, zap.NewNop())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = v.Stop(ctx)
	})
	return v
}

func waitDone(t *testing.T, a *actor) {
	t.Helper()
	select {
	case <-a.done:
	case <-time.After(2 * time.Second):
		t.Fatal("actor did not stop in time")
	}
}

func TestRegistrySpawnsOncePerAccount(t *testing.T) {
	v := lifecycleVault(t)

	a1, err := v.registry.acquire(1)
	require.NoError(t, err)
	a2, err := v.registry.acquire(1)
	require.NoError(t, err)
	assert.Same(t, a1, a2)

	b, err := v.registry.acquire(2)
	require.NoError(t, err)
	assert.NotSame(t, a1, b)
	assert.Equal(t, 2, v.registry.active())
}

func TestRegistryEvictsExactInstanceOnly(t *testing.T) {
	v := lifecycleVault(t)

	a1, err := v.registry.acquire(1)
	require.NoError(t, err)
	a1.stop()
	waitDone(t, a1)

	a2, err := v.registry.acquire(1)
	require.NoError(t, err)
	assert.NotSame(t, a1, a2)

	// A stale eviction of the dead instance must not unregister the
	// successor.
	v.registry.evict(a1)
	a3, err := v.registry.acquire(1)
	require.NoError(t, err)
	assert.Same(t, a2, a3)
}

func TestStoppedActorRejectsDelivery(t *testing.T) {
	v := lifecycleVault(t)
	ctx := context.Background()

	a, err := v.registry.acquire(1)
	require.NoError(t, err)
	a.stop()
	waitDone(t, a)

	req := &queryReq{kind: queryBalances, reply: make(chan queryReply, 1)}
	_, err = await(ctx, a, req, req.reply)
	assert.ErrorIs(t, err, errRejected)

	// The facade recovers by spawning a successor.
	bal, err := v.Balance(ctx, 1, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)
}

func TestDrainFailBouncesQueuedRequests(t *testing.T) {
	v := lifecycleVault(t)

	a := v.newActor(9) // never started
	m1 := &queryReq{kind: queryBalances, reply: make(chan queryReply, 1)}
	m2 := &refundReq{refundID: 1, reply: make(chan refundReply, 1)}
	a.mailbox <- m1
	a.mailbox <- m2

	a.drainFail(errRejected)

	assert.ErrorIs(t, (<-m1.reply).err, errRejected)
	assert.ErrorIs(t, (<-m2.reply).err, errRejected)
	select {
	case <-a.mailbox:
		t.Fatal("mailbox should be empty after drain")
	default:
	}
}

func TestRegistryCloseStopsEveryActor(t *testing.T) {
	v := lifecycleVault(t)
	ctx := context.Background()

	a1, err := v.registry.acquire(1)
	require.NoError(t, err)
	a2, err := v.registry.acquire(2)
	require.NoError(t, err)

	require.NoError(t, v.registry.close(ctx))
	waitDone(t, a1)
	waitDone(t, a2)

	_, err = v.registry.acquire(3)
	assert.ErrorIs(t, err, ErrShutdown)
	require.NoError(t, v.registry.close(ctx)) // idempotent
}

func TestFirstTouchPersistsFreshAccount(t *testing.T) {
	v := lifecycleVault(t)
	ctx := context.Background()

	bal, err := v.Balance(ctx, 7, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal)

	// Creation is written through even though no operation ever ran.
	assert.True(t, v.store.(*memStore).has("accounts/7"))
}

func TestNewCopiesAndFillsConfig(t *testing.T) {
	cfg := &Config{}
	table, err := rates.NewTable(nil)
	require.NoError(t, err)

	v := New(cfg, newMemStore(), table, nil, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = v.Stop(ctx)
	})

	assert.Equal(t, DefaultConfig().IdleTimeout, v.cfg.IdleTimeout)
	assert.Equal(t, account.DefaultCurrency, v.cfg.DefaultCurrency)

	// The caller's struct is left alone.
	assert.Zero(t, cfg.IdleTimeout)
	assert.Empty(t, cfg.DefaultCurrency)
}
