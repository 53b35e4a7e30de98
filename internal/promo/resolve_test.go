package promo

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func resolveSnapshot(t *testing.T) (Snapshot, Line) {
	t.Helper()
	l := line(t, 1000, 3)
	return snapshotWith(l), l
}

func evaluateAndResolve(t *testing.T, snap Snapshot, rules []Rule, coupons []string) (Resolution, ApplicationResult) {
	t.Helper()
	cands, err := Evaluate(snap, rules, coupons, evalTime)
	require.NoError(t, err)
	res := Resolve(snap, cands)
	return res, BuildResult(snap, res)
}

func TestResolveSingleAutomaticRule(t *testing.T) {
	// Scenario: 3 x 10.00 with an automatic 10%-off (min subtotal 20.00)
	// yields a 3.00 discount and a 27.00 total.
	snap, _ := resolveSnapshot(t)
	_, result := evaluateAndResolve(t, snap, []Rule{autoPercentRule(1000, 1, 2000)}, nil)

	require.Equal(t, int64(3000), result.Subtotal.Amount)
	require.Equal(t, int64(300), result.DiscountTotal.Amount)
	require.Equal(t, int64(2700), result.Total.Amount)
	require.Empty(t, result.Rejected)
}

func TestResolveExclusiveCouponBeatsAutomatic(t *testing.T) {
	// Scenario: the same cart plus an exclusive fixed 5.00-off coupon at
	// priority 0. The exclusive rule wins and the automatic rule is rejected.
	snap, _ := resolveSnapshot(t)
	auto := autoPercentRule(1000, 1, 2000)
	exclusive := Rule{
		ID:         uuid.New(),
		Tenant:     "acme",
		Name:       "five off",
		Priority:   0,
		Exclusive:  true,
		CouponCode: "FIVER",
		Condition:  Condition{Kind: CondAlways},
		Discount:   DiscountSpec{Kind: DiscountFixed, Amount: 500},
	}

	_, result := evaluateAndResolve(t, snap, []Rule{auto, exclusive}, []string{"FIVER"})

	require.Equal(t, int64(500), result.DiscountTotal.Amount)
	require.Equal(t, int64(2500), result.Total.Amount)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, auto.ID, result.Rejected[0].RuleID)
	require.Equal(t, ReasonExcludedByExclusiveRule, result.Rejected[0].Reason)
}

func TestResolveExclusivityInvariant(t *testing.T) {
	// Once an exclusive rule holds a line, no other rule's discount may
	// appear on that line.
	snap, l := resolveSnapshot(t)
	exclusive := autoPercentRule(1000, 0, 0)
	exclusive.Exclusive = true
	exclusive.Stackable = false
	other := autoPercentRule(500, 1, 0)

	_, result := evaluateAndResolve(t, snap, []Rule{exclusive, other}, nil)

	for _, lr := range result.Lines {
		if lr.LineID != l.ID {
			continue
		}
		require.Len(t, lr.Discounts, 1)
		require.Equal(t, exclusive.ID, lr.Discounts[0].RuleID)
	}
}

func TestResolveExclusiveEvictsWeakerDiscount(t *testing.T) {
	// A later exclusive candidate with a bigger saving evicts the weaker
	// non-exclusive discount already applied to its lines.
	snap, _ := resolveSnapshot(t)
	weak := autoPercentRule(500, 0, 0) // 1.50 applied first
	strong := autoPercentRule(2000, 1, 0)
	strong.Exclusive = true // 6.00 arrives second

	_, result := evaluateAndResolve(t, snap, []Rule{weak, strong}, nil)

	require.Equal(t, int64(600), result.DiscountTotal.Amount)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, weak.ID, result.Rejected[0].RuleID)
	require.Equal(t, ReasonSupersededByExclusiveRule, result.Rejected[0].Reason)
}

func TestResolveExclusiveBlockedByStrongerDiscount(t *testing.T) {
	snap, _ := resolveSnapshot(t)
	strong := autoPercentRule(2000, 0, 0) // 6.00 applied first
	exclusive := autoPercentRule(1000, 1, 0)
	exclusive.Exclusive = true // 3.00, weaker

	_, result := evaluateAndResolve(t, snap, []Rule{strong, exclusive}, nil)

	require.Equal(t, int64(600), result.DiscountTotal.Amount)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, exclusive.ID, result.Rejected[0].RuleID)
	require.Equal(t, ReasonCannotBeExclusiveOverExistingDiscount, result.Rejected[0].Reason)
}

func TestResolveOnlyBestOfFamilyApplies(t *testing.T) {
	snap, _ := resolveSnapshot(t)
	big := autoPercentRule(2000, 1, 0)
	big.Stackable = false
	big.Family = "seasonal"
	small := autoPercentRule(500, 1, 0)
	small.Stackable = false
	small.Family = "seasonal"

	_, result := evaluateAndResolve(t, snap, []Rule{small, big}, nil)

	require.Equal(t, int64(600), result.DiscountTotal.Amount)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, small.ID, result.Rejected[0].RuleID)
	require.Equal(t, ReasonOnlyBestOfGroupApplies, result.Rejected[0].Reason)
}

func TestResolveStackableRulesAccumulate(t *testing.T) {
	snap, _ := resolveSnapshot(t)
	a := autoPercentRule(1000, 1, 0)
	b := autoPercentRule(500, 2, 0)

	_, result := evaluateAndResolve(t, snap, []Rule{a, b}, nil)
	require.Equal(t, int64(450), result.DiscountTotal.Amount)
	require.Empty(t, result.Rejected)
}

func TestResolveClampsLineToSubtotal(t *testing.T) {
	snap, l := resolveSnapshot(t)
	full := autoPercentRule(10000, 1, 0) // 100% off
	extra := autoPercentRule(5000, 2, 0) // nothing left for this one

	_, result := evaluateAndResolve(t, snap, []Rule{full, extra}, nil)

	require.Equal(t, int64(3000), result.DiscountTotal.Amount)
	require.Equal(t, int64(0), result.Total.Amount)
	require.Len(t, result.Rejected, 1)
	require.Equal(t, ReasonNoEligibleAmount, result.Rejected[0].Reason)

	for _, lr := range result.Lines {
		require.Equal(t, l.ID, lr.LineID)
		require.GreaterOrEqual(t, lr.Total.Amount, int64(0))
	}
}

func TestResolveConservation(t *testing.T) {
	a := line(t, 1234, 3)
	b := line(t, 799, 5)
	c := line(t, 50, 7)
	snap := snapshotWith(a, b, c)
	rules := []Rule{
		autoPercentRule(1000, 1, 0),
		autoPercentRule(2500, 2, 0),
		{
			ID: uuid.New(), Tenant: "acme", Priority: 3, Stackable: true,
			Condition: Condition{Kind: CondAlways},
			Discount:  DiscountSpec{Kind: DiscountFixed, Amount: 421},
		},
	}
	_, result := evaluateAndResolve(t, snap, rules, nil)

	require.Equal(t, result.Subtotal.Amount-result.DiscountTotal.Amount, result.Total.Amount)
	require.GreaterOrEqual(t, result.Total.Amount, int64(0))
	var lineDiscounts int64
	for _, lr := range result.Lines {
		var sum int64
		for _, d := range lr.Discounts {
			sum += d.Amount.Amount
		}
		require.LessOrEqual(t, sum, lr.Subtotal.Amount)
		lineDiscounts += sum
	}
	require.Equal(t, result.DiscountTotal.Amount, lineDiscounts)
}

func TestResolveIdempotent(t *testing.T) {
	snap, _ := resolveSnapshot(t)
	rules := []Rule{autoPercentRule(1000, 1, 0), autoPercentRule(500, 2, 0)}

	first, firstResult := evaluateAndResolve(t, snap, rules, nil)
	second, secondResult := evaluateAndResolve(t, snap, rules, nil)

	require.Equal(t, first, second)
	require.Equal(t, firstResult, secondResult)
}

func TestResolveEqualPriorityTieBreak(t *testing.T) {
	snap, _ := resolveSnapshot(t)
	// Equal priority and equal value: the smaller rule id wins the first
	// slot. Both are non-stackable in the same family so only one survives.
	a := autoPercentRule(1000, 1, 0)
	b := autoPercentRule(1000, 1, 0)
	a.Stackable = false
	b.Stackable = false
	a.Family = "tie"
	b.Family = "tie"

	winner := a
	if b.ID.String() < a.ID.String() {
		winner = b
	}

	_, result := evaluateAndResolve(t, snap, []Rule{a, b}, nil)
	require.Len(t, result.Rejected, 1)
	require.NotEqual(t, winner.ID, result.Rejected[0].RuleID)
}
