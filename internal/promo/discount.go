package promo

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/money"
)

// ErrUnsupportedDiscount is returned for a discount kind the calculator does
// not know.
var ErrUnsupportedDiscount = errors.New("promo: unsupported discount kind")

// LineAmounts maps line ids to the discount amount carried by that line.
type LineAmounts map[uuid.UUID]money.Money

// Total sums all per-line amounts.
func (a LineAmounts) Total(currency string) money.Money {
	total := money.Zero(currency)
	for _, amt := range a {
		total.Amount += amt.Amount
	}
	return total
}

// Compute prices a discount spec against the target lines. The returned
// amounts never exceed the target subtotal and no single line's share exceeds
// that line's subtotal. Rounding happens once, when each amount is finalised.
func Compute(spec DiscountSpec, lines []Line, currency string) (LineAmounts, error) {
	if len(lines) == 0 {
		return LineAmounts{}, nil
	}
	switch spec.Kind {
	case DiscountPercent:
		return percentOff(lines, spec.PercentBps, currency)
	case DiscountFixed:
		return fixedOff(lines, spec.Amount, currency)
	case DiscountTiered:
		return tiered(spec.Tiers, lines, currency)
	case DiscountBuyNGetM:
		return buyNGetM(spec, lines, currency)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDiscount, spec.Kind)
	}
}

func percentOff(lines []Line, bps int32, currency string) (LineAmounts, error) {
	target := subtotalOf(lines, currency)
	discount := target.ApplyPercentage(bps)
	if discount.Amount > target.Amount {
		discount = target
	}
	return allocateAcross(discount, lines)
}

func fixedOff(lines []Line, amount int64, currency string) (LineAmounts, error) {
	if amount <= 0 {
		return LineAmounts{}, nil
	}
	target := subtotalOf(lines, currency)
	discount, err := money.New(amount, currency).Min(target)
	if err != nil {
		return nil, err
	}
	return allocateAcross(discount, lines)
}

// tiered picks the highest satisfied tier and applies it as a percentage or
// fixed discount over the target lines.
func tiered(tiers []Tier, lines []Line, currency string) (LineAmounts, error) {
	qty := 0
	for _, l := range lines {
		qty += l.Quantity
	}
	subtotal := subtotalOf(lines, currency)

	best := -1
	for i, tier := range tiers {
		if tier.MinQuantity > 0 && qty < tier.MinQuantity {
			continue
		}
		if tier.MinSubtotal > 0 && subtotal.Amount < tier.MinSubtotal {
			continue
		}
		if best < 0 || tierThresholdLess(tiers[best], tier) {
			best = i
		}
	}
	if best < 0 {
		return LineAmounts{}, nil
	}
	tier := tiers[best]
	if tier.PercentBps > 0 {
		return percentOff(lines, tier.PercentBps, currency)
	}
	return fixedOff(lines, tier.Amount, currency)
}

func tierThresholdLess(a, b Tier) bool {
	if a.MinQuantity != b.MinQuantity {
		return a.MinQuantity < b.MinQuantity
	}
	return a.MinSubtotal < b.MinSubtotal
}

// buyNGetM discounts, for every complete group of N qualifying units, the M
// cheapest units at the configured rate (defaults to 100%). Choosing the
// cheapest units bounds the discount conservatively.
func buyNGetM(spec DiscountSpec, lines []Line, currency string) (LineAmounts, error) {
	if spec.BuyN <= 0 || spec.GetM <= 0 {
		return LineAmounts{}, nil
	}
	rate := spec.PercentBps
	if rate <= 0 {
		rate = 10000
	}

	type unit struct {
		lineID uuid.UUID
		price  money.Money
	}
	var units []unit
	for _, l := range lines {
		for i := 0; i < l.Quantity; i++ {
			units = append(units, unit{lineID: l.ID, price: l.UnitPrice})
		}
	}
	groups := len(units) / spec.BuyN
	if groups == 0 {
		return LineAmounts{}, nil
	}
	sort.SliceStable(units, func(i, j int) bool {
		return units[i].price.Amount < units[j].price.Amount
	})

	discounted := groups * spec.GetM
	if discounted > len(units) {
		discounted = len(units)
	}
	amounts := LineAmounts{}
	for _, u := range units[:discounted] {
		unitDiscount := u.price.ApplyPercentage(rate)
		current, ok := amounts[u.lineID]
		if !ok {
			current = money.Zero(currency)
		}
		current.Amount += unitDiscount.Amount
		amounts[u.lineID] = current
	}
	return amounts, nil
}

func subtotalOf(lines []Line, currency string) money.Money {
	total := money.Zero(currency)
	for _, l := range lines {
		total.Amount += l.Subtotal().Amount
	}
	return total
}

// allocateAcross splits a target-level discount over the lines proportionally
// to their subtotals so the parts sum exactly to the discount.
func allocateAcross(discount money.Money, lines []Line) (LineAmounts, error) {
	amounts := LineAmounts{}
	if discount.Amount <= 0 {
		return amounts, nil
	}
	weights := make([]int64, len(lines))
	for i, l := range lines {
		weights[i] = l.Subtotal().Amount
	}
	parts, err := discount.AllocateProportionally(weights)
	if err != nil {
		return nil, err
	}
	for i, l := range lines {
		if parts[i].Amount == 0 {
			continue
		}
		amounts[l.ID] = parts[i]
	}
	return amounts, nil
}
