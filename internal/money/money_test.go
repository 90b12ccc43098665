package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestToUSDFromRub(t *testing.T) {
	rate := decimal.NewFromInt(90)

	price := New(decimal.NewFromInt(399), RUB)
	usd, err := price.ToUSD(rate)
	require.NoError(t, err)
	require.Equal(t, USD, usd.Currency)
	require.Equal(t, "4.4333", usd.Amount.String())

	balance := New(decimal.NewFromInt(100), USD)
	remaining, err := balance.Sub(usd)
	require.NoError(t, err)
	require.Equal(t, "95.5667", remaining.Amount.String())
}

func TestToUSDPassthrough(t *testing.T) {
	m := FromFloat(12.5, USD)
	usd, err := m.ToUSD(decimal.Zero)
	require.NoError(t, err)
	require.True(t, usd.Amount.Equal(decimal.NewFromFloat(12.5)))
}

func TestToUSDBadRate(t *testing.T) {
	m := New(decimal.NewFromInt(100), RUB)
	_, err := m.ToUSD(decimal.Zero)
	require.Error(t, err)
}

func TestToUSDUnknownCurrency(t *testing.T) {
	m := New(decimal.NewFromInt(10), "EUR")
	_, err := m.ToUSD(decimal.NewFromInt(90))
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestApplyDiscount(t *testing.T) {
	total := New(decimal.NewFromInt(30), USD)
	discounted, discount := total.ApplyDiscount(decimal.NewFromInt(50))
	require.Equal(t, "15", discounted.Amount.String())
	require.Equal(t, "15", discount.Amount.String())

	discounted, discount = total.ApplyDiscount(decimal.Zero)
	require.True(t, discounted.Amount.Equal(total.Amount))
	require.True(t, discount.IsZero())
}

func TestCurrencyMismatch(t *testing.T) {
	usd := New(decimal.NewFromInt(1), USD)
	rub := New(decimal.NewFromInt(1), RUB)

	_, err := usd.Add(rub)
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = usd.Sub(rub)
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestMulInt(t *testing.T) {
	m := FromFloat(19.99, USD).MulInt(3)
	require.Equal(t, "59.97", m.Amount.StringFixed(2))
}
