package promo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/money"
)

func line(t *testing.T, unitPrice int64, qty int) Line {
	t.Helper()
	return Line{
		ID:        uuid.New(),
		ProductID: uuid.New(),
		UnitPrice: money.New(unitPrice, "USD"),
		Quantity:  qty,
	}
}

func TestPercentOff(t *testing.T) {
	l := line(t, 1000, 3)
	amounts, err := Compute(DiscountSpec{Kind: DiscountPercent, PercentBps: 1000}, []Line{l}, "USD")
	require.NoError(t, err)
	require.Equal(t, int64(300), amounts.Total("USD").Amount)
	require.Equal(t, int64(300), amounts[l.ID].Amount)
}

func TestPercentOffNeverExceedsSubtotal(t *testing.T) {
	l := line(t, 1000, 1)
	amounts, err := Compute(DiscountSpec{Kind: DiscountPercent, PercentBps: 10000}, []Line{l}, "USD")
	require.NoError(t, err)
	require.Equal(t, int64(1000), amounts.Total("USD").Amount)
}

func TestFixedOffCappedAtSubtotal(t *testing.T) {
	l := line(t, 400, 1)
	amounts, err := Compute(DiscountSpec{Kind: DiscountFixed, Amount: 500}, []Line{l}, "USD")
	require.NoError(t, err)
	require.Equal(t, int64(400), amounts.Total("USD").Amount)
}

func TestFixedOffAllocatesAcrossLines(t *testing.T) {
	a := line(t, 1000, 1) // 10.00
	b := line(t, 3000, 1) // 30.00
	amounts, err := Compute(DiscountSpec{Kind: DiscountFixed, Amount: 400}, []Line{a, b}, "USD")
	require.NoError(t, err)
	require.Equal(t, int64(100), amounts[a.ID].Amount)
	require.Equal(t, int64(300), amounts[b.ID].Amount)
}

func TestTieredSelectsHighestSatisfiedTier(t *testing.T) {
	l := line(t, 1000, 6)
	spec := DiscountSpec{
		Kind: DiscountTiered,
		Tiers: []Tier{
			{MinQuantity: 2, PercentBps: 500},
			{MinQuantity: 5, PercentBps: 1500},
			{MinQuantity: 10, PercentBps: 3000},
		},
	}
	amounts, err := Compute(spec, []Line{l}, "USD")
	require.NoError(t, err)
	// 15% of 60.00
	require.Equal(t, int64(900), amounts.Total("USD").Amount)
}

func TestTieredNoTierSatisfied(t *testing.T) {
	l := line(t, 1000, 1)
	spec := DiscountSpec{Kind: DiscountTiered, Tiers: []Tier{{MinQuantity: 5, PercentBps: 1000}}}
	amounts, err := Compute(spec, []Line{l}, "USD")
	require.NoError(t, err)
	require.Empty(t, amounts)
}

func TestBuyTwoGetOneWithFiveUnits(t *testing.T) {
	// Five qualifying units form exactly two complete groups, so two units
	// are discounted at the configured rate and the fifth stays untouched.
	l := line(t, 1000, 5)
	spec := DiscountSpec{Kind: DiscountBuyNGetM, BuyN: 2, GetM: 1}
	amounts, err := Compute(spec, []Line{l}, "USD")
	require.NoError(t, err)
	require.Equal(t, int64(2000), amounts.Total("USD").Amount)
}

func TestBuyNGetMDiscountsCheapestUnits(t *testing.T) {
	cheap := line(t, 500, 2)
	dear := line(t, 2000, 2)
	spec := DiscountSpec{Kind: DiscountBuyNGetM, BuyN: 2, GetM: 1}
	amounts, err := Compute(spec, []Line{cheap, dear}, "USD")
	require.NoError(t, err)
	// Two groups of two, two free units, both taken from the cheap line.
	require.Equal(t, int64(1000), amounts[cheap.ID].Amount)
	require.Zero(t, amounts[dear.ID].Amount)
}

func TestBuyNGetMPartialRate(t *testing.T) {
	l := line(t, 1000, 2)
	spec := DiscountSpec{Kind: DiscountBuyNGetM, BuyN: 2, GetM: 1, PercentBps: 5000}
	amounts, err := Compute(spec, []Line{l}, "USD")
	require.NoError(t, err)
	require.Equal(t, int64(500), amounts.Total("USD").Amount)
}

func TestBuyNGetMIncompleteGroup(t *testing.T) {
	l := line(t, 1000, 1)
	spec := DiscountSpec{Kind: DiscountBuyNGetM, BuyN: 2, GetM: 1}
	amounts, err := Compute(spec, []Line{l}, "USD")
	require.NoError(t, err)
	require.Empty(t, amounts)
}

func TestUnsupportedKind(t *testing.T) {
	_, err := Compute(DiscountSpec{Kind: "mystery"}, []Line{line(t, 100, 1)}, "USD")
	require.ErrorIs(t, err, ErrUnsupportedDiscount)
}
