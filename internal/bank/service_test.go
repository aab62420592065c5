package bank

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contalabs/bankd/internal/config"
	"github.com/contalabs/bankd/internal/core/money"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.ListenAddress = "127.0.0.1:0"
	cfg.Storage.Backend = "memory"
	cfg.Storage.Compression = "none"
	cfg.Storage.CacheSize = 0
	cfg.Actor.IdleTimeout = time.Minute
	return cfg
}

func TestServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, testConfig(t), nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	res, err := svc.Vault().Deposit(ctx, 1, 5000, "BRL", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(5000), res.Balance)

	resp, err := http.Get(fmt.Sprintf("http://%s/health", svc.Addr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status  string `json:"status"`
		Service string `json:"service"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "bankd", health.Service)

	require.NoError(t, svc.Stop(ctx))
}

func TestServiceWithArchive(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Archive.Driver = "sqlite"
	cfg.Archive.DSN = ":memory:"
	cfg.Archive.BatchSize = 1
	cfg.Archive.FlushInterval = 10 * time.Millisecond

	svc, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	_, err = svc.Vault().Deposit(ctx, 9, 100, "BRL", nil)
	require.NoError(t, err)
	_, err = svc.Vault().Withdraw(ctx, 9, 40, "BRL", nil)
	require.NoError(t, err)

	// Stop flushes the archive writer before closing the store.
	require.NoError(t, svc.Stop(ctx))
}

func TestServiceRestartRehydrates(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Storage.Backend = "file"
	cfg.Storage.BaseFolder = t.TempDir()

	svc, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	_, err = svc.Vault().Deposit(ctx, 7, 1234, "BRL", nil)
	require.NoError(t, err)
	_, err = svc.Vault().Withdraw(ctx, 7, 234, "BRL", nil)
	require.NoError(t, err)
	require.NoError(t, svc.Stop(ctx))

	svc, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, svc.Start(ctx))

	balance, err := svc.Vault().Balance(ctx, 7, "BRL")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), balance)

	ops, err := svc.Vault().OperationsOn(ctx, 7, time.Now())
	require.NoError(t, err)
	assert.Len(t, ops, 2)

	require.NoError(t, svc.Stop(ctx))
}

func TestSeedDecimals(t *testing.T) {
	seed := SeedDecimals(map[string]float64{"USD": 1, "BRL": 5.45})
	assert.Equal(t, "5.45", seed[money.Currency("BRL")].String())
	assert.Equal(t, "1", seed[money.Currency("USD")].String())
}
