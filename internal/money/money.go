package money

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	USD = "USD"
	RUB = "RUB"
)

// balancePrecision is the number of fraction digits kept on every amount that
// touches the user balance. Native-currency prices are stored as quoted.
const balancePrecision = 4

var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money pairs an amount with its currency so call sites can never confuse
// which unit a numeric value is in.
type Money struct {
	Amount   decimal.Decimal
	Currency string
}

func New(amount decimal.Decimal, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

func FromFloat(amount float64, currency string) Money {
	return Money{Amount: decimal.NewFromFloat(amount), Currency: currency}
}

func Zero(currency string) Money {
	return Money{Amount: decimal.Zero, Currency: currency}
}

func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

func (m Money) IsPositive() bool {
	return m.Amount.IsPositive()
}

func (m Money) Mul(factor decimal.Decimal) Money {
	return Money{Amount: m.Amount.Mul(factor).Round(balancePrecision), Currency: m.Currency}
}

func (m Money) MulInt(n int) Money {
	return Money{Amount: m.Amount.Mul(decimal.NewFromInt(int64(n))), Currency: m.Currency}
}

func (m Money) Add(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("add %s to %s: %w", other.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

func (m Money) Sub(other Money) (Money, error) {
	if m.Currency != other.Currency {
		return Money{}, fmt.Errorf("subtract %s from %s: %w", other.Currency, m.Currency, ErrCurrencyMismatch)
	}
	return Money{Amount: m.Amount.Sub(other.Amount), Currency: m.Currency}, nil
}

// ToUSD converts the amount to USD using the given USD->RUB rate. USD amounts
// pass through unchanged; the result is rounded to the balance precision.
func (m Money) ToUSD(usdToRubRate decimal.Decimal) (Money, error) {
	switch m.Currency {
	case USD:
		return Money{Amount: m.Amount.Round(balancePrecision), Currency: USD}, nil
	case RUB:
		if !usdToRubRate.IsPositive() {
			return Money{}, fmt.Errorf("invalid usd_to_rub rate %s", usdToRubRate)
		}
		return Money{Amount: m.Amount.Div(usdToRubRate).Round(balancePrecision), Currency: USD}, nil
	default:
		return Money{}, fmt.Errorf("convert %s to USD: %w", m.Currency, ErrCurrencyMismatch)
	}
}

// ApplyDiscount returns the amount reduced by percent (0-100) and the
// discounted-off portion, both rounded to the balance precision.
func (m Money) ApplyDiscount(percent decimal.Decimal) (discounted Money, discount Money) {
	d := m.Amount.Mul(percent).Div(decimal.NewFromInt(100)).Round(balancePrecision)
	return Money{Amount: m.Amount.Sub(d), Currency: m.Currency}, Money{Amount: d, Currency: m.Currency}
}

func (m Money) String() string {
	return m.Amount.StringFixed(2) + " " + m.Currency
}
