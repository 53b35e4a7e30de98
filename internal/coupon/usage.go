package coupon

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGUsage reads redemption counters from the coupon_usage ledger. Rows are
// written by the checkout pipeline at settlement time; this side only counts.
type PGUsage struct {
	Pool *pgxpool.Pool
}

func NewPGUsage(pool *pgxpool.Pool) *PGUsage {
	return &PGUsage{Pool: pool}
}

func (u *PGUsage) GlobalUses(ctx context.Context, tenant string, ruleID string) (int64, error) {
	const q = `SELECT count(*) FROM coupon_usage WHERE tenant = $1 AND rule_id = $2`
	var n int64
	if err := u.Pool.QueryRow(ctx, q, tenant, ruleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count coupon uses: %w", err)
	}
	return n, nil
}

func (u *PGUsage) CustomerUses(ctx context.Context, tenant string, ruleID string, customerID string) (int64, error) {
	const q = `SELECT count(*) FROM coupon_usage WHERE tenant = $1 AND rule_id = $2 AND customer_id = $3`
	var n int64
	if err := u.Pool.QueryRow(ctx, q, tenant, ruleID, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count customer coupon uses: %w", err)
	}
	return n, nil
}
