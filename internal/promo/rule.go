package promo

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConditionKind enumerates the closed set of rule predicates. Conditions are
// tagged variants rather than an open expression language so evaluation stays
// total and side-effect free.
type ConditionKind string

const (
	// CondAlways matches every cart.
	CondAlways ConditionKind = "always"
	// CondMinQuantity requires a minimum unit count within the condition scope.
	CondMinQuantity ConditionKind = "min_quantity"
	// CondMinSubtotal requires a minimum subtotal (minor units) within the scope.
	CondMinSubtotal ConditionKind = "min_subtotal"
	// CondProductIn scopes the rule to specific products.
	CondProductIn ConditionKind = "product_in"
	// CondCategoryIn scopes the rule to specific categories.
	CondCategoryIn ConditionKind = "category_in"
	// CondAllOf matches when every child condition matches.
	CondAllOf ConditionKind = "all_of"
	// CondAnyOf matches when at least one child condition matches.
	CondAnyOf ConditionKind = "any_of"
)

// Condition is one node of a rule predicate. Only the fields relevant to its
// Kind are populated.
type Condition struct {
	Kind        ConditionKind `json:"kind"`
	MinQuantity int           `json:"minQuantity,omitempty"`
	MinSubtotal int64         `json:"minSubtotal,omitempty"`
	ProductIDs  []uuid.UUID   `json:"productIds,omitempty"`
	CategoryIDs []uuid.UUID   `json:"categoryIds,omitempty"`
	Children    []Condition   `json:"children,omitempty"`
}

// Matches reports whether the snapshot satisfies the condition.
func (c Condition) Matches(snap Snapshot) bool {
	switch c.Kind {
	case CondAlways, "":
		return true
	case CondMinQuantity:
		return snap.TotalQuantity() >= c.MinQuantity
	case CondMinSubtotal:
		return snap.Subtotal().Amount >= c.MinSubtotal
	case CondProductIn, CondCategoryIn:
		return len(c.scopedLines(snap)) > 0
	case CondAllOf:
		for _, child := range c.Children {
			if !child.Matches(snap) {
				return false
			}
		}
		return true
	case CondAnyOf:
		for _, child := range c.Children {
			if child.Matches(snap) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// QualifyingLines returns the lines the discount should target. Membership
// conditions narrow the scope; threshold conditions leave it cart-wide. For
// composites the children's scopes are intersected (all_of) or united (any_of).
func (c Condition) QualifyingLines(snap Snapshot) []Line {
	switch c.Kind {
	case CondProductIn, CondCategoryIn:
		return c.scopedLines(snap)
	case CondAllOf:
		lines := snap.Lines
		for _, child := range c.Children {
			lines = intersectLines(lines, child.QualifyingLines(snap))
		}
		return lines
	case CondAnyOf:
		seen := make(map[uuid.UUID]struct{})
		var out []Line
		for _, child := range c.Children {
			if !child.Matches(snap) {
				continue
			}
			for _, l := range child.QualifyingLines(snap) {
				if _, ok := seen[l.ID]; ok {
					continue
				}
				seen[l.ID] = struct{}{}
				out = append(out, l)
			}
		}
		return out
	default:
		return snap.Lines
	}
}

func (c Condition) scopedLines(snap Snapshot) []Line {
	var out []Line
	for _, l := range snap.Lines {
		if c.lineInScope(l) {
			out = append(out, l)
		}
	}
	return out
}

func (c Condition) lineInScope(l Line) bool {
	switch c.Kind {
	case CondProductIn:
		for _, id := range c.ProductIDs {
			if id == l.ProductID {
				return true
			}
		}
	case CondCategoryIn:
		if l.CategoryID == nil {
			return false
		}
		for _, id := range c.CategoryIDs {
			if id == *l.CategoryID {
				return true
			}
		}
	}
	return false
}

func intersectLines(a, b []Line) []Line {
	keep := make(map[uuid.UUID]struct{}, len(b))
	for _, l := range b {
		keep[l.ID] = struct{}{}
	}
	var out []Line
	for _, l := range a {
		if _, ok := keep[l.ID]; ok {
			out = append(out, l)
		}
	}
	return out
}

// DiscountKind enumerates supported discount computations.
type DiscountKind string

const (
	// DiscountPercent takes a basis-point rate off the target subtotal.
	DiscountPercent DiscountKind = "percent"
	// DiscountFixed takes a fixed amount off the target subtotal.
	DiscountFixed DiscountKind = "fixed"
	// DiscountTiered selects a rate or amount by the highest satisfied tier.
	DiscountTiered DiscountKind = "tiered"
	// DiscountBuyNGetM discounts the cheapest M units per complete group of N.
	DiscountBuyNGetM DiscountKind = "buy_n_get_m"
)

// Tier is one step of a tiered discount. A tier is satisfied when the target
// quantity or subtotal reaches its threshold; the highest satisfied tier wins.
type Tier struct {
	MinQuantity int   `json:"minQuantity,omitempty"`
	MinSubtotal int64 `json:"minSubtotal,omitempty"`
	PercentBps  int32 `json:"percentBps,omitempty"`
	Amount      int64 `json:"amount,omitempty"`
}

// DiscountSpec describes how a rule's discount is computed. Only the fields
// matching Kind are used.
type DiscountSpec struct {
	Kind       DiscountKind `json:"kind"`
	PercentBps int32        `json:"percentBps,omitempty"`
	Amount     int64        `json:"amount,omitempty"`
	Tiers      []Tier       `json:"tiers,omitempty"`
	BuyN       int          `json:"buyN,omitempty"`
	GetM       int          `json:"getM,omitempty"`
}

// Rule is a tenant-scoped promotion definition. Rules are immutable once
// loaded into an evaluation; the catalog owns refresh and invalidation.
type Rule struct {
	ID               uuid.UUID    `json:"id"`
	Tenant           string       `json:"tenant"`
	Name             string       `json:"name"`
	Priority         int          `json:"priority"`
	Exclusive        bool         `json:"exclusive"`
	Stackable        bool         `json:"stackable"`
	Family           string       `json:"family,omitempty"`
	CouponCode       string       `json:"couponCode,omitempty"`
	ValidFrom        time.Time    `json:"validFrom"`
	ValidTo          time.Time    `json:"validTo"`
	Condition        Condition    `json:"condition"`
	Discount         DiscountSpec `json:"discount"`
	UsageLimit       *int32       `json:"usageLimit,omitempty"`
	PerCustomerLimit *int32       `json:"perCustomerLimit,omitempty"`
}

// Automatic reports whether the rule applies without a coupon code.
func (r Rule) Automatic() bool { return strings.TrimSpace(r.CouponCode) == "" }

// ActiveAt reports whether asOf falls inside the validity window [from, to).
func (r Rule) ActiveAt(asOf time.Time) bool {
	if !r.ValidFrom.IsZero() && asOf.Before(r.ValidFrom) {
		return false
	}
	if !r.ValidTo.IsZero() && !asOf.Before(r.ValidTo) {
		return false
	}
	return true
}

// FamilyKey groups non-stackable rules: rules sharing a family compete for a
// single slot, a rule without a family competes only with itself.
func (r Rule) FamilyKey() string {
	if r.Family != "" {
		return r.Family
	}
	return r.ID.String()
}
