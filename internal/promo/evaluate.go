package promo

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/money"
)

// Candidate is a provisional discount produced by rule matching, before
// conflict resolution decides whether it survives.
type Candidate struct {
	Rule Rule
	// CouponCode is set when the rule was unlocked by a presented coupon.
	CouponCode string
	// Lines carries the per-line discount amounts; cart-wide discounts are
	// already allocated across the touched lines.
	Lines LineAmounts
	Total money.Money
}

// Touches reports whether the candidate discounts the given line.
func (c Candidate) Touches(id uuid.UUID) bool {
	_, ok := c.Lines[id]
	return ok
}

// Evaluate matches the active rules against the cart snapshot and computes a
// candidate discount for every matching rule. Automatic rules always
// participate; coupon-gated rules participate only when their code appears in
// unlockedCoupons (codes already validated by the coupon validator). The
// result is deterministic: no wall-clock reads beyond the supplied asOf.
func Evaluate(snap Snapshot, rules []Rule, unlockedCoupons []string, asOf time.Time) ([]Candidate, error) {
	unlocked := make(map[string]struct{}, len(unlockedCoupons))
	for _, code := range unlockedCoupons {
		unlocked[canonicalCode(code)] = struct{}{}
	}

	var candidates []Candidate
	for _, rule := range rules {
		if !rule.ActiveAt(asOf) {
			continue
		}
		couponCode := ""
		if !rule.Automatic() {
			code := canonicalCode(rule.CouponCode)
			if _, ok := unlocked[code]; !ok {
				continue
			}
			couponCode = code
		}
		if !rule.Condition.Matches(snap) {
			continue
		}
		target := rule.Condition.QualifyingLines(snap)
		if len(target) == 0 {
			continue
		}
		amounts, err := Compute(rule.Discount, target, snap.Currency)
		if err != nil {
			return nil, err
		}
		total := amounts.Total(snap.Currency)
		if total.Amount <= 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Rule:       rule,
			CouponCode: couponCode,
			Lines:      amounts,
			Total:      total,
		})
	}

	// Stable candidate order keeps evaluation reproducible regardless of the
	// catalog's iteration order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidateLess(candidates[i], candidates[j])
	})
	return candidates, nil
}

// candidateLess orders by priority ascending, then larger saving first, then
// rule id as the final deterministic tie-break.
func candidateLess(a, b Candidate) bool {
	if a.Rule.Priority != b.Rule.Priority {
		return a.Rule.Priority < b.Rule.Priority
	}
	if a.Total.Amount != b.Total.Amount {
		return a.Total.Amount > b.Total.Amount
	}
	return a.Rule.ID.String() < b.Rule.ID.String()
}

func canonicalCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
