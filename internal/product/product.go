package product

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/money"
)

// ErrNotFound is returned when a product id does not exist for the tenant.
var ErrNotFound = errors.New("product not found")

// Product is the slice of catalog data pricing needs: a unit price and an
// optional category for rule scoping.
type Product struct {
	ID         uuid.UUID   `json:"id"`
	Tenant     string      `json:"tenant"`
	Name       string      `json:"name"`
	CategoryID *uuid.UUID  `json:"categoryId,omitempty"`
	UnitPrice  money.Money `json:"unitPrice"`
	Active     bool        `json:"active"`
}

// Lookup resolves products by id.
type Lookup interface {
	Get(ctx context.Context, tenant string, id uuid.UUID) (Product, error)
}
