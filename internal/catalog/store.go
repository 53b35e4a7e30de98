package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/noah-isme/backend-promo/internal/promo"
)

// ErrRuleNotFound is returned when a rule id does not exist for the tenant.
var ErrRuleNotFound = errors.New("promotion rule not found")

// Store persists promotion rules. Condition and discount trees are stored as
// jsonb so the closed variant set evolves without schema churn.
type Store struct {
	Pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const ruleColumns = `id, tenant, name, priority, exclusive, stackable, family, coupon_code,
	valid_from, valid_to, condition, discount, usage_limit, per_customer_limit`

// ListByTenant returns every rule for a tenant, active or not. Window
// filtering belongs to evaluation and coupon validation, not the store.
func (s *Store) ListByTenant(ctx context.Context, tenant string) ([]promo.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM promo_rules WHERE tenant = $1 ORDER BY priority, id`
	rows, err := s.Pool.Query(ctx, q, tenant)
	if err != nil {
		return nil, fmt.Errorf("list promo rules: %w", err)
	}
	defer rows.Close()

	var out []promo.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list promo rules: %w", err)
	}
	return out, nil
}

// ListTenants returns every tenant with at least one rule, for cache warmup.
func (s *Store) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `SELECT DISTINCT tenant FROM promo_rules ORDER BY tenant`)
	if err != nil {
		return nil, fmt.Errorf("list rule tenants: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan tenant: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list rule tenants: %w", err)
	}
	return out, nil
}

// Get returns a single rule by id.
func (s *Store) Get(ctx context.Context, tenant string, id uuid.UUID) (promo.Rule, error) {
	q := `SELECT ` + ruleColumns + ` FROM promo_rules WHERE tenant = $1 AND id = $2`
	row := s.Pool.QueryRow(ctx, q, tenant, id)
	rule, err := scanRule(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.Rule{}, ErrRuleNotFound
		}
		return promo.Rule{}, err
	}
	return rule, nil
}

// Create inserts a rule. The id must be set by the caller.
func (s *Store) Create(ctx context.Context, rule promo.Rule) error {
	cond, disc, err := marshalSpecs(rule)
	if err != nil {
		return err
	}
	const q = `INSERT INTO promo_rules (id, tenant, name, priority, exclusive, stackable, family, coupon_code,
		valid_from, valid_to, condition, discount, usage_limit, per_customer_limit)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	_, err = s.Pool.Exec(ctx, q,
		rule.ID, rule.Tenant, rule.Name, rule.Priority, rule.Exclusive, rule.Stackable,
		nullIfEmpty(rule.Family), nullIfEmpty(rule.CouponCode),
		nullIfZeroTime(rule.ValidFrom), nullIfZeroTime(rule.ValidTo),
		cond, disc, rule.UsageLimit, rule.PerCustomerLimit)
	if err != nil {
		return fmt.Errorf("insert promo rule: %w", err)
	}
	return nil
}

// Update replaces a rule's definition in place.
func (s *Store) Update(ctx context.Context, rule promo.Rule) error {
	cond, disc, err := marshalSpecs(rule)
	if err != nil {
		return err
	}
	const q = `UPDATE promo_rules SET name = $3, priority = $4, exclusive = $5, stackable = $6,
		family = $7, coupon_code = $8, valid_from = $9, valid_to = $10,
		condition = $11, discount = $12, usage_limit = $13, per_customer_limit = $14,
		updated_at = now()
		WHERE tenant = $1 AND id = $2`
	tag, err := s.Pool.Exec(ctx, q,
		rule.Tenant, rule.ID, rule.Name, rule.Priority, rule.Exclusive, rule.Stackable,
		nullIfEmpty(rule.Family), nullIfEmpty(rule.CouponCode),
		nullIfZeroTime(rule.ValidFrom), nullIfZeroTime(rule.ValidTo),
		cond, disc, rule.UsageLimit, rule.PerCustomerLimit)
	if err != nil {
		return fmt.Errorf("update promo rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

// Delete removes a rule.
func (s *Store) Delete(ctx context.Context, tenant string, id uuid.UUID) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM promo_rules WHERE tenant = $1 AND id = $2`, tenant, id)
	if err != nil {
		return fmt.Errorf("delete promo rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func marshalSpecs(rule promo.Rule) ([]byte, []byte, error) {
	cond, err := json.Marshal(rule.Condition)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal condition: %w", err)
	}
	disc, err := json.Marshal(rule.Discount)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal discount: %w", err)
	}
	return cond, disc, nil
}

func scanRule(row pgx.Row) (promo.Rule, error) {
	var (
		rule       promo.Rule
		family     *string
		couponCode *string
		validFrom  *time.Time
		validTo    *time.Time
		cond       []byte
		disc       []byte
	)
	err := row.Scan(&rule.ID, &rule.Tenant, &rule.Name, &rule.Priority, &rule.Exclusive,
		&rule.Stackable, &family, &couponCode, &validFrom, &validTo, &cond, &disc,
		&rule.UsageLimit, &rule.PerCustomerLimit)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return promo.Rule{}, err
		}
		return promo.Rule{}, fmt.Errorf("scan promo rule: %w", err)
	}
	if family != nil {
		rule.Family = *family
	}
	if couponCode != nil {
		rule.CouponCode = *couponCode
	}
	if validFrom != nil {
		rule.ValidFrom = *validFrom
	}
	if validTo != nil {
		rule.ValidTo = *validTo
	}
	if err := json.Unmarshal(cond, &rule.Condition); err != nil {
		return promo.Rule{}, fmt.Errorf("unmarshal condition: %w", err)
	}
	if err := json.Unmarshal(disc, &rule.Discount); err != nil {
		return promo.Rule{}, fmt.Errorf("unmarshal discount: %w", err)
	}
	return rule, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullIfZeroTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
