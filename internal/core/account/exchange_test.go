package account

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/contalabs/bankd/internal/core/money"
)

func TestExchangeSwapsCurrencies(t *testing.T) {
	a := mustAccount(t, Options{
		DefaultCurrency: "USD",
		Balances:        map[money.Currency]int64{"USD": 1000},
	})

	// USD -> BRL at 5.45: 100 USD becomes 545 BRL.
	rate := decimal.RequireFromString("5.45")
	ap, err := a.Exchange(100, "USD", "BRL", 545, rate, time.Time{}, nil)
	require.NoError(t, err)
	require.False(t, ap.Denied)

	got := ap.Account
	assert.Equal(t, int64(900), got.Balance("USD"))
	assert.Equal(t, int64(545), got.Balance("BRL"))

	op := ap.Op()
	assert.Equal(t, OpExchange, op.Type)
	assert.Equal(t, StatusDone, op.Status)
	assert.Equal(t, int64(100), op.Data[DataCurrentAmount])
	assert.Equal(t, "USD", op.Data[DataCurrentCurrency])
	assert.Equal(t, int64(545), op.Data[DataNewAmount])
	assert.Equal(t, "BRL", op.Data[DataNewCurrency])
	assert.Equal(t, "5.45", op.Data[DataExchangeRate])
}

func TestExchangeDeniedKeepsBalances(t *testing.T) {
	a := mustAccount(t, Options{
		DefaultCurrency: "USD",
		Balances:        map[money.Currency]int64{"USD": 50},
	})

	ap, err := a.Exchange(100, "USD", "BRL", 545, decimal.RequireFromString("5.45"), time.Time{}, nil)
	require.NoError(t, err)
	require.True(t, ap.Denied)
	assert.Equal(t, "No USD funds", ap.Reason)

	got := ap.Account
	assert.Equal(t, int64(50), got.Balance("USD"))
	assert.Equal(t, int64(0), got.Balance("BRL"))

	op := ap.Op()
	assert.Equal(t, StatusDenied, op.Status)
	assert.Equal(t, "No USD funds", op.Data[DataMessage])
	assert.Len(t, got.Operations, 1)
}

func TestExchangeValidation(t *testing.T) {
	a := mustAccount(t, Options{})

	_, err := a.Exchange(0, "USD", "BRL", 0, decimal.New(1, 0), time.Time{}, nil)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = a.Exchange(100, "us d", "BRL", 545, decimal.New(1, 0), time.Time{}, nil)
	assert.Error(t, err)

	assert.Empty(t, a.Operations)
}
