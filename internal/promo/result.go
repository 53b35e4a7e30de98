package promo

import (
	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/money"
)

// AppliedDiscount records one rule's contribution to one line.
type AppliedDiscount struct {
	RuleID     uuid.UUID   `json:"ruleId"`
	CouponCode string      `json:"couponCode,omitempty"`
	Amount     money.Money `json:"amount"`
}

// LineResult is the priced view of one cart line after promotion resolution.
type LineResult struct {
	LineID    uuid.UUID         `json:"lineId"`
	Subtotal  money.Money       `json:"subtotal"`
	Discounts []AppliedDiscount `json:"discounts,omitempty"`
	Total     money.Money       `json:"total"`
}

// ApplicationResult is the immutable outcome of one evaluation pass. It is
// recomputed on every cart mutation and never persisted apart from the
// session version that produced it.
type ApplicationResult struct {
	Lines         []LineResult        `json:"lines"`
	Rejected      []RejectedCandidate `json:"rejected,omitempty"`
	Subtotal      money.Money         `json:"subtotal"`
	DiscountTotal money.Money         `json:"discountTotal"`
	Total         money.Money         `json:"total"`
}

// BuildResult folds a resolution back into per-line results and grand totals.
// By construction subtotal - discount total == total and no line goes
// negative.
func BuildResult(snap Snapshot, res Resolution) ApplicationResult {
	out := ApplicationResult{
		Rejected:      res.Rejected,
		Subtotal:      snap.Subtotal(),
		DiscountTotal: money.Zero(snap.Currency),
	}

	for _, line := range snap.Lines {
		lr := LineResult{
			LineID:   line.ID,
			Subtotal: line.Subtotal(),
		}
		lineDiscount := money.Zero(snap.Currency)
		for _, cand := range res.Applied {
			amt, ok := cand.Lines[line.ID]
			if !ok || amt.Amount <= 0 {
				continue
			}
			lr.Discounts = append(lr.Discounts, AppliedDiscount{
				RuleID:     cand.Rule.ID,
				CouponCode: cand.CouponCode,
				Amount:     amt,
			})
			lineDiscount.Amount += amt.Amount
		}
		lr.Total = money.New(lr.Subtotal.Amount-lineDiscount.Amount, snap.Currency)
		out.DiscountTotal.Amount += lineDiscount.Amount
		out.Lines = append(out.Lines, lr)
	}

	out.Total = money.New(out.Subtotal.Amount-out.DiscountTotal.Amount, snap.Currency)
	return out
}
