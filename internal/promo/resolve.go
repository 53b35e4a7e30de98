package promo

import (
	"sort"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/money"
)

// RejectReason explains why a candidate was not applied. Rejections are
// normal, explainable outcomes, not errors.
type RejectReason string

const (
	// ReasonExcludedByExclusiveRule marks candidates touching a line already
	// locked by an exclusive rule.
	ReasonExcludedByExclusiveRule RejectReason = "EXCLUDED_BY_EXCLUSIVE_RULE"
	// ReasonCannotBeExclusiveOverExistingDiscount marks exclusive candidates
	// that arrived after a stronger discount already claimed a touched line.
	ReasonCannotBeExclusiveOverExistingDiscount RejectReason = "CANNOT_BE_EXCLUSIVE_OVER_EXISTING_DISCOUNT"
	// ReasonSupersededByExclusiveRule marks previously-applied discounts
	// evicted when an exclusive rule claimed their lines.
	ReasonSupersededByExclusiveRule RejectReason = "SUPERSEDED_BY_EXCLUSIVE_RULE"
	// ReasonOnlyBestOfGroupApplies marks non-stackable candidates beaten by a
	// stronger candidate from the same promotion family.
	ReasonOnlyBestOfGroupApplies RejectReason = "ONLY_BEST_OF_GROUP_APPLIES"
	// ReasonNoEligibleAmount marks candidates whose value was fully consumed
	// by discounts already applied to their lines.
	ReasonNoEligibleAmount RejectReason = "NO_ELIGIBLE_AMOUNT"
)

// RejectedCandidate pairs a pruned candidate with its machine-readable reason.
type RejectedCandidate struct {
	RuleID     uuid.UUID    `json:"ruleId"`
	CouponCode string       `json:"couponCode,omitempty"`
	Reason     RejectReason `json:"reason"`
}

// Resolution is the outcome of conflict resolution: the surviving candidates
// in application order plus every pruned candidate with its reason.
type Resolution struct {
	Applied  []Candidate
	Rejected []RejectedCandidate
}

// Resolve prunes and orders candidates according to the stacking policy:
// priority ascending, larger saving first on ties, rule id as final
// tie-break. Exclusive rules lock their lines; non-stackable rules keep only
// the best candidate per promotion family on overlapping lines. Per-line
// discounts are clamped so no line's accumulated discount exceeds its
// subtotal.
func Resolve(snap Snapshot, candidates []Candidate) Resolution {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return candidateLess(sorted[i], sorted[j])
	})

	var res Resolution
	lockedBy := make(map[uuid.UUID]uuid.UUID)  // line -> exclusive rule id
	applied := make(map[uuid.UUID]money.Money) // line -> accumulated discount
	familyTaken := make(map[string][]int)      // family key -> indexes into res.Applied

	reject := func(c Candidate, reason RejectReason) {
		res.Rejected = append(res.Rejected, RejectedCandidate{
			RuleID:     c.Rule.ID,
			CouponCode: c.CouponCode,
			Reason:     reason,
		})
	}

	for _, cand := range sorted {
		if touchesLocked(cand, lockedBy) {
			reject(cand, ReasonExcludedByExclusiveRule)
			continue
		}

		if cand.Rule.Exclusive {
			if blocked, evicted := claimExclusive(&res, cand, applied); blocked {
				reject(cand, ReasonCannotBeExclusiveOverExistingDiscount)
				continue
			} else if evicted {
				rebuildState(res.Applied, applied, familyTaken)
			}
		}

		if !cand.Rule.Stackable && beatenWithinFamily(cand, res.Applied, familyTaken) {
			reject(cand, ReasonOnlyBestOfGroupApplies)
			continue
		}

		clamped, ok := clampToRemaining(snap, cand, applied)
		if !ok {
			reject(cand, ReasonNoEligibleAmount)
			continue
		}

		for lineID, amt := range clamped.Lines {
			current := applied[lineID]
			current.Currency = amt.Currency
			current.Amount += amt.Amount
			applied[lineID] = current
			if cand.Rule.Exclusive {
				lockedBy[lineID] = cand.Rule.ID
			}
		}
		familyTaken[cand.Rule.FamilyKey()] = append(familyTaken[cand.Rule.FamilyKey()], len(res.Applied))
		res.Applied = append(res.Applied, clamped)
	}
	return res
}

func touchesLocked(c Candidate, lockedBy map[uuid.UUID]uuid.UUID) bool {
	for lineID := range c.Lines {
		if _, ok := lockedBy[lineID]; ok {
			return true
		}
	}
	return false
}

// claimExclusive enforces the exclusivity policy for an arriving exclusive
// candidate. Weaker non-exclusive discounts on touched lines are evicted
// (rejected as superseded); if any touched line carries a discount at least
// as strong, the exclusive candidate itself is blocked.
func claimExclusive(res *Resolution, cand Candidate, applied map[uuid.UUID]money.Money) (blocked, evicted bool) {
	var evict []int
	for i, prev := range res.Applied {
		if !overlaps(prev, cand) {
			continue
		}
		if prev.Total.Amount >= cand.Total.Amount {
			return true, false
		}
		evict = append(evict, i)
	}
	if len(evict) == 0 {
		return false, false
	}
	kept := res.Applied[:0]
	for i, prev := range res.Applied {
		if containsInt(evict, i) {
			res.Rejected = append(res.Rejected, RejectedCandidate{
				RuleID:     prev.Rule.ID,
				CouponCode: prev.CouponCode,
				Reason:     ReasonSupersededByExclusiveRule,
			})
			continue
		}
		kept = append(kept, prev)
	}
	res.Applied = kept
	return false, true
}

// rebuildState recomputes per-line accumulators and family slots after an
// eviction changed the applied set.
func rebuildState(appliedList []Candidate, applied map[uuid.UUID]money.Money, familyTaken map[string][]int) {
	for k := range applied {
		delete(applied, k)
	}
	for k := range familyTaken {
		delete(familyTaken, k)
	}
	for i, c := range appliedList {
		for lineID, amt := range c.Lines {
			current := applied[lineID]
			current.Currency = amt.Currency
			current.Amount += amt.Amount
			applied[lineID] = current
		}
		familyTaken[c.Rule.FamilyKey()] = append(familyTaken[c.Rule.FamilyKey()], i)
	}
}

func beatenWithinFamily(cand Candidate, appliedList []Candidate, familyTaken map[string][]int) bool {
	for _, idx := range familyTaken[cand.Rule.FamilyKey()] {
		prev := appliedList[idx]
		if prev.Rule.Stackable {
			continue
		}
		if overlaps(prev, cand) {
			return true
		}
	}
	return false
}

func overlaps(a, b Candidate) bool {
	for lineID := range a.Lines {
		if _, ok := b.Lines[lineID]; ok {
			return true
		}
	}
	return false
}

// clampToRemaining trims the candidate's per-line amounts so that no line's
// total discount exceeds its subtotal. Candidates with nothing left to give
// are dropped.
func clampToRemaining(snap Snapshot, cand Candidate, applied map[uuid.UUID]money.Money) (Candidate, bool) {
	clamped := Candidate{
		Rule:       cand.Rule,
		CouponCode: cand.CouponCode,
		Lines:      LineAmounts{},
	}
	total := money.Zero(snapCurrency(snap, cand))
	for lineID, amt := range cand.Lines {
		line, ok := snap.LineByID(lineID)
		if !ok {
			continue
		}
		remaining := line.Subtotal().Amount - applied[lineID].Amount
		if remaining <= 0 {
			continue
		}
		if amt.Amount > remaining {
			amt.Amount = remaining
		}
		clamped.Lines[lineID] = amt
		total.Amount += amt.Amount
	}
	if total.Amount <= 0 {
		return Candidate{}, false
	}
	clamped.Total = total
	return clamped, true
}

func snapCurrency(snap Snapshot, cand Candidate) string {
	if snap.Currency != "" {
		return snap.Currency
	}
	return cand.Total.Currency
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
