package money

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrCurrencyMismatch is returned when two Money values with different
// currency tags are combined.
var ErrCurrencyMismatch = errors.New("money: currency mismatch")

// ErrInvalidWeights is returned when a proportional allocation receives an
// empty or non-positive weight vector.
var ErrInvalidWeights = errors.New("money: invalid allocation weights")

// Money is a monetary value stored as integer minor units plus a currency
// tag. Arithmetic never loses sub-unit precision: percentage and tier math
// run through decimals and round half-up only when the result is finalised
// back into minor units.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// New constructs a Money value from minor units.
func New(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: normaliseCurrency(currency)}
}

// Zero returns the zero value for the provided currency.
func Zero(currency string) Money {
	return New(0, currency)
}

// IsZero reports whether the amount is exactly zero.
func (m Money) IsZero() bool { return m.Amount == 0 }

// IsNegative reports whether the amount is below zero.
func (m Money) IsNegative() bool { return m.Amount < 0 }

// Add returns m + other.
func (m Money) Add(other Money) (Money, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount + other.Amount, Currency: m.Currency}, nil
}

// Subtract returns m - other.
func (m Money) Subtract(other Money) (Money, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return Money{}, err
	}
	return Money{Amount: m.Amount - other.Amount, Currency: m.Currency}, nil
}

// MultiplyByQuantity returns m scaled by an integer quantity.
func (m Money) MultiplyByQuantity(qty int) Money {
	return Money{Amount: m.Amount * int64(qty), Currency: m.Currency}
}

// ApplyPercentage applies a rate expressed in basis points (10000 = 100%).
// The intermediate product is exact; the result is rounded half-up to the
// minor unit.
func (m Money) ApplyPercentage(bps int32) Money {
	if bps <= 0 || m.Amount == 0 {
		return Zero(m.Currency)
	}
	amount := decimal.NewFromInt(m.Amount).
		Mul(decimal.NewFromInt32(bps)).
		Div(decimal.NewFromInt(10000)).
		Round(0)
	return Money{Amount: amount.IntPart(), Currency: m.Currency}
}

// Min returns the smaller of m and other.
func (m Money) Min(other Money) (Money, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return Money{}, err
	}
	if other.Amount < m.Amount {
		return other, nil
	}
	return m, nil
}

// Cmp compares two amounts, returning -1, 0 or +1.
func (m Money) Cmp(other Money) (int, error) {
	if err := m.assertSameCurrency(other); err != nil {
		return 0, err
	}
	switch {
	case m.Amount < other.Amount:
		return -1, nil
	case m.Amount > other.Amount:
		return 1, nil
	default:
		return 0, nil
	}
}

// AllocateProportionally splits m across the provided weights using the
// largest-remainder method. The parts always sum exactly to m: floor shares
// are handed out first and the residual minor units go to the largest
// remainders, ties broken by position.
func (m Money) AllocateProportionally(weights []int64) ([]Money, error) {
	if len(weights) == 0 {
		return nil, ErrInvalidWeights
	}
	var totalWeight int64
	for _, w := range weights {
		if w < 0 {
			return nil, ErrInvalidWeights
		}
		totalWeight += w
	}
	if totalWeight <= 0 {
		return nil, ErrInvalidWeights
	}

	amount := decimal.NewFromInt(m.Amount)
	divisor := decimal.NewFromInt(totalWeight)

	parts := make([]Money, len(weights))
	remainders := make([]decimal.Decimal, len(weights))
	var assigned int64
	for i, w := range weights {
		quotient, remainder := amount.Mul(decimal.NewFromInt(w)).QuoRem(divisor, 0)
		parts[i] = Money{Amount: quotient.IntPart(), Currency: m.Currency}
		remainders[i] = remainder
		assigned += quotient.IntPart()
	}

	residual := m.Amount - assigned
	if residual > 0 {
		order := make([]int, len(weights))
		for i := range order {
			order[i] = i
		}
		sort.SliceStable(order, func(a, b int) bool {
			return remainders[order[a]].Cmp(remainders[order[b]]) > 0
		})
		for i := int64(0); i < residual; i++ {
			parts[order[i%int64(len(order))]].Amount++
		}
	}
	return parts, nil
}

// String renders the amount in major units using the currency's exponent,
// for display only. All arithmetic stays in minor units.
func (m Money) String() string {
	exp := minorDigits(m.Currency)
	if exp == 0 {
		return fmt.Sprintf("%d %s", m.Amount, m.Currency)
	}
	return fmt.Sprintf("%s %s", decimal.New(m.Amount, -exp).StringFixed(exp), m.Currency)
}

func (m Money) assertSameCurrency(other Money) error {
	if m.Currency != other.Currency {
		return fmt.Errorf("%w: %s vs %s", ErrCurrencyMismatch, m.Currency, other.Currency)
	}
	return nil
}

func normaliseCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// zeroDecimalCurrencies lists currencies without a minor unit.
var zeroDecimalCurrencies = map[string]struct{}{
	"IDR": {}, "JPY": {}, "KRW": {}, "VND": {},
}

func minorDigits(currency string) int32 {
	if _, ok := zeroDecimalCurrencies[currency]; ok {
		return 0
	}
	return 2
}
