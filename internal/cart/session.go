package cart

import (
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/coupon"
	"github.com/noah-isme/backend-promo/internal/money"
	"github.com/noah-isme/backend-promo/internal/promo"
)

// Status is the session lifecycle state. Clear keeps the session usable;
// Finalized is terminal and every later mutation answers not found.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCleared   Status = "cleared"
	StatusFinalized Status = "finalized"
)

// Item is one cart line. Unit price and category are captured at add time so
// evaluation never re-reads the product catalog.
type Item struct {
	ID         uuid.UUID   `json:"id"`
	ProductID  uuid.UUID   `json:"productId"`
	CategoryID *uuid.UUID  `json:"categoryId,omitempty"`
	Name       string      `json:"name"`
	UnitPrice  money.Money `json:"unitPrice"`
	Quantity   int         `json:"quantity"`
}

// Session is the mutable cart aggregate. Version increments on every
// committed mutation and doubles as the optimistic concurrency token.
type Session struct {
	ID       uuid.UUID `json:"id"`
	Tenant   string    `json:"tenant"`
	Status   Status    `json:"status"`
	Currency string    `json:"currency"`
	Items    []Item    `json:"items"`
	Coupons  []string  `json:"coupons"`
	// CustomerID is bound when an authenticated customer applies a coupon, so
	// later re-validation keeps enforcing per-customer usage caps.
	CustomerID string                   `json:"customerId,omitempty"`
	Result     *promo.ApplicationResult `json:"result,omitempty"`
	Version    int64                    `json:"version"`
	CreatedAt  time.Time                `json:"createdAt"`
	UpdatedAt  time.Time                `json:"updatedAt"`
}

// PromoSnapshot projects the session's lines into the evaluator's input form.
func (s *Session) PromoSnapshot() promo.Snapshot {
	snap := promo.Snapshot{
		Tenant:   s.Tenant,
		Currency: s.Currency,
		Lines:    make([]promo.Line, 0, len(s.Items)),
	}
	for _, it := range s.Items {
		snap.Lines = append(snap.Lines, promo.Line{
			ID:         it.ID,
			ProductID:  it.ProductID,
			CategoryID: it.CategoryID,
			UnitPrice:  it.UnitPrice,
			Quantity:   it.Quantity,
		})
	}
	return snap
}

func (s *Session) itemByID(id uuid.UUID) *Item {
	for i := range s.Items {
		if s.Items[i].ID == id {
			return &s.Items[i]
		}
	}
	return nil
}

func (s *Session) removeItem(id uuid.UUID) bool {
	for i := range s.Items {
		if s.Items[i].ID == id {
			s.Items = append(s.Items[:i], s.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (s *Session) hasCoupon(code string) bool {
	canonical := coupon.Canonical(code)
	for _, c := range s.Coupons {
		if coupon.Canonical(c) == canonical {
			return true
		}
	}
	return false
}

// Snapshot is the session view returned by every operation: the persisted
// state plus the coupon outcomes of the triggering call.
type Snapshot struct {
	ID               uuid.UUID               `json:"id"`
	Status           Status                  `json:"status"`
	Currency         string                  `json:"currency"`
	Version          int64                   `json:"version"`
	Items            []Item                  `json:"items"`
	AppliedCoupons   []string                `json:"appliedCoupons"`
	CouponRejections []coupon.Rejection      `json:"couponRejections,omitempty"`
	Result           promo.ApplicationResult `json:"result"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

func (s *Session) snapshot(rejections []coupon.Rejection) Snapshot {
	out := Snapshot{
		ID:               s.ID,
		Status:           s.Status,
		Currency:         s.Currency,
		Version:          s.Version,
		Items:            s.Items,
		AppliedCoupons:   s.Coupons,
		CouponRejections: rejections,
		UpdatedAt:        s.UpdatedAt,
	}
	if out.Items == nil {
		out.Items = []Item{}
	}
	if out.AppliedCoupons == nil {
		out.AppliedCoupons = []string{}
	}
	if s.Result != nil {
		out.Result = *s.Result
	}
	return out
}
