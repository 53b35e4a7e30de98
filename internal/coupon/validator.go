package coupon

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/noah-isme/backend-promo/internal/promo"
)

// Reason classifies why a presented coupon code was rejected. Rejections are
// embedded in a successful cart result, never surfaced as errors.
type Reason string

const (
	// ReasonNotFound means no rule is gated by the presented code.
	ReasonNotFound Reason = "NOT_FOUND"
	// ReasonExpired means the gating rule's validity window does not contain
	// the evaluation instant.
	ReasonExpired Reason = "EXPIRED"
	// ReasonUsageCapExceeded means a global or per-customer usage cap is
	// exhausted.
	ReasonUsageCapExceeded Reason = "USAGE_CAP_EXCEEDED"
	// ReasonConditionNotMet means the cart does not satisfy the rule's
	// condition, e.g. a minimum subtotal.
	ReasonConditionNotMet Reason = "CONDITION_NOT_MET"
	// ReasonAlreadyApplied means the same code is already attached to the
	// session.
	ReasonAlreadyApplied Reason = "ALREADY_APPLIED"
)

// Rejection pairs a rejected code with its reason.
type Rejection struct {
	Code   string `json:"code"`
	Reason Reason `json:"reason"`
}

// RuleFinder locates the promotion rule a coupon code unlocks, regardless of
// the rule's validity window: the validator owns the window check so an
// expired code can be reported as such rather than unknown.
type RuleFinder interface {
	FindByCoupon(ctx context.Context, tenant, code string) (*promo.Rule, error)
}

// UsageReader exposes redemption counters. The counters are owned externally;
// this core only reads them and never increments. Settlement happens at
// checkout, outside this engine.
type UsageReader interface {
	GlobalUses(ctx context.Context, tenant string, ruleID string) (int64, error)
	CustomerUses(ctx context.Context, tenant string, ruleID string, customerID string) (int64, error)
}

// Validator checks presented coupon codes against the rules they unlock.
type Validator struct {
	Rules RuleFinder
	Usage UsageReader
	Now   func() time.Time
}

// Canonical normalises a code for matching: trimmed and upper-cased.
func Canonical(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks a single code against the cart snapshot. It returns the
// unlocked rule on success or a rejection with the first failing check, in
// order: NotFound, Expired, UsageCapExceeded, ConditionNotMet,
// AlreadyApplied. Validation never mutates usage counters.
func (v *Validator) Validate(ctx context.Context, tenant, code, customerID string, snap promo.Snapshot, alreadyApplied []string) (promo.Rule, *Rejection, error) {
	if v == nil || v.Rules == nil {
		return promo.Rule{}, nil, errors.New("coupon validator not configured")
	}
	canonical := Canonical(code)
	if canonical == "" {
		return promo.Rule{}, &Rejection{Code: code, Reason: ReasonNotFound}, nil
	}

	rule, err := v.Rules.FindByCoupon(ctx, tenant, canonical)
	if err != nil {
		return promo.Rule{}, nil, err
	}
	if rule == nil {
		return promo.Rule{}, &Rejection{Code: canonical, Reason: ReasonNotFound}, nil
	}

	if !rule.ActiveAt(v.now()) {
		return promo.Rule{}, &Rejection{Code: canonical, Reason: ReasonExpired}, nil
	}

	if exceeded, err := v.capExceeded(ctx, tenant, *rule, customerID); err != nil {
		return promo.Rule{}, nil, err
	} else if exceeded {
		return promo.Rule{}, &Rejection{Code: canonical, Reason: ReasonUsageCapExceeded}, nil
	}

	if !rule.Condition.Matches(snap) {
		return promo.Rule{}, &Rejection{Code: canonical, Reason: ReasonConditionNotMet}, nil
	}

	for _, existing := range alreadyApplied {
		if Canonical(existing) == canonical {
			return promo.Rule{}, &Rejection{Code: canonical, Reason: ReasonAlreadyApplied}, nil
		}
	}

	return *rule, nil, nil
}

func (v *Validator) capExceeded(ctx context.Context, tenant string, rule promo.Rule, customerID string) (bool, error) {
	if v.Usage == nil {
		return false, nil
	}
	if rule.UsageLimit != nil && *rule.UsageLimit >= 0 {
		used, err := v.Usage.GlobalUses(ctx, tenant, rule.ID.String())
		if err != nil {
			return false, err
		}
		if used >= int64(*rule.UsageLimit) {
			return true, nil
		}
	}
	if rule.PerCustomerLimit != nil && *rule.PerCustomerLimit > 0 && customerID != "" {
		used, err := v.Usage.CustomerUses(ctx, tenant, rule.ID.String(), customerID)
		if err != nil {
			return false, err
		}
		if used >= int64(*rule.PerCustomerLimit) {
			return true, nil
		}
	}
	return false, nil
}

func (v *Validator) now() time.Time {
	if v != nil && v.Now != nil {
		return v.Now()
	}
	return time.Now()
}
