package promo

import (
	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/money"
)

// Line is one cart line as seen by the evaluator: the unit price is the
// price captured when the item was added, not the live catalog price.
type Line struct {
	ID         uuid.UUID
	ProductID  uuid.UUID
	CategoryID *uuid.UUID
	UnitPrice  money.Money
	Quantity   int
}

// Subtotal returns unit price times quantity.
func (l Line) Subtotal() money.Money {
	return l.UnitPrice.MultiplyByQuantity(l.Quantity)
}

// Snapshot is an immutable view of a cart used for one evaluation pass.
// Evaluation over a snapshot is a pure function: the same snapshot, rule set
// and coupon list always produce the same result.
type Snapshot struct {
	Tenant   string
	Currency string
	Lines    []Line
}

// Subtotal sums all line subtotals.
func (s Snapshot) Subtotal() money.Money {
	total := money.Zero(s.Currency)
	for _, l := range s.Lines {
		total.Amount += l.Subtotal().Amount
	}
	return total
}

// TotalQuantity sums all line quantities.
func (s Snapshot) TotalQuantity() int {
	var qty int
	for _, l := range s.Lines {
		qty += l.Quantity
	}
	return qty
}

// LineByID returns the line with the given id, if present.
func (s Snapshot) LineByID(id uuid.UUID) (Line, bool) {
	for _, l := range s.Lines {
		if l.ID == id {
			return l, true
		}
	}
	return Line{}, false
}
