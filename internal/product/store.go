package product

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-promo/internal/money"
)

// Store reads products from Postgres.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

func (s *Store) Get(ctx context.Context, tenant string, id uuid.UUID) (Product, error) {
	const q = `SELECT id, tenant, name, category_id, unit_price, currency, active
		FROM products WHERE tenant = $1 AND id = $2`
	var (
		p        Product
		amount   int64
		currency string
	)
	err := s.Pool.QueryRow(ctx, q, tenant, id).Scan(
		&p.ID, &p.Tenant, &p.Name, &p.CategoryID, &amount, &currency, &p.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, fmt.Errorf("get product: %w", err)
	}
	p.UnitPrice = money.Money{Amount: amount, Currency: currency}
	return p, nil
}
