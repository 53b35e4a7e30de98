package cart

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/catalog"
	"github.com/noah-isme/backend-promo/internal/coupon"
	"github.com/noah-isme/backend-promo/internal/lock"
	"github.com/noah-isme/backend-promo/internal/money"
	"github.com/noah-isme/backend-promo/internal/obs"
	"github.com/noah-isme/backend-promo/internal/product"
	"github.com/noah-isme/backend-promo/internal/promo"
)

// ErrInvalidInput is returned when the provided payload is invalid.
var ErrInvalidInput = errors.New("invalid input")

// ErrCouponsUnavailable is returned when coupon codes cannot be validated
// because the rule catalog is unreachable. Unlike evaluation, coupon
// application cannot degrade silently: the caller would never learn whether
// the code was accepted.
var ErrCouponsUnavailable = errors.New("coupon validation unavailable")

// RuleCatalog supplies the rules whose validity window contains asOf.
type RuleCatalog interface {
	ActiveRules(ctx context.Context, tenant string, asOf time.Time) ([]promo.Rule, error)
}

// Service owns cart session mutations. Every mutation is serialized per
// session by a distributed lock, re-runs promotion evaluation, increments the
// version counter, and commits with a compare-and-set on that counter.
type Service struct {
	Store           *Store
	Lock            lock.Locker
	Products        product.Lookup
	Catalog         RuleCatalog
	Validator       *coupon.Validator
	DefaultCurrency string
	LockTTL         time.Duration
	Now             func() time.Time
	Log             zerolog.Logger
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) lockTTL() time.Duration {
	if s == nil || s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

// Create opens a new empty session for the tenant.
func (s *Service) Create(ctx context.Context, tenantID string) (Snapshot, error) {
	if s == nil || s.Store == nil {
		return Snapshot{}, errors.New("cart service not configured")
	}
	now := s.now()
	sess := Session{
		ID:        uuid.New(),
		Tenant:    tenantID,
		Status:    StatusOpen,
		Currency:  s.DefaultCurrency,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.reevaluate(ctx, &sess, nil)
	if err := s.Store.Save(ctx, sess, 0); err != nil {
		return Snapshot{}, err
	}
	s.countMutation("create")
	return sess.snapshot(nil), nil
}

// Get returns the current session snapshot without mutating it.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (Snapshot, error) {
	if s == nil || s.Store == nil {
		return Snapshot{}, errors.New("cart service not configured")
	}
	sess, err := s.Store.Get(ctx, tenantID, id)
	if err != nil {
		return Snapshot{}, err
	}
	return sess.snapshot(nil), nil
}

// AddItem appends a product line or increments an existing line for the same
// product. The unit price and category are captured from the product lookup
// at add time.
func (s *Service) AddItem(ctx context.Context, tenantID string, id uuid.UUID, productID uuid.UUID, qty int) (Snapshot, error) {
	if qty <= 0 {
		return Snapshot{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
	}
	if s.Products == nil {
		return Snapshot{}, errors.New("cart service not configured")
	}
	return s.mutate(ctx, tenantID, id, "add_item", func(ctx context.Context, sess *Session) ([]coupon.Rejection, error) {
		p, err := s.Products.Get(ctx, tenantID, productID)
		if err != nil {
			if errors.Is(err, product.ErrNotFound) {
				return nil, fmt.Errorf("unknown product %s: %w", productID, ErrInvalidInput)
			}
			return nil, err
		}
		if !p.Active {
			return nil, fmt.Errorf("product %s is not active: %w", productID, ErrInvalidInput)
		}
		if sess.Currency == "" {
			sess.Currency = p.UnitPrice.Currency
		}
		if p.UnitPrice.Currency != sess.Currency {
			return nil, fmt.Errorf("product currency %s does not match session currency %s: %w",
				p.UnitPrice.Currency, sess.Currency, ErrInvalidInput)
		}
		for i := range sess.Items {
			if sess.Items[i].ProductID == productID {
				sess.Items[i].Quantity += qty
				return nil, nil
			}
		}
		sess.Items = append(sess.Items, Item{
			ID:         uuid.New(),
			ProductID:  p.ID,
			CategoryID: p.CategoryID,
			Name:       p.Name,
			UnitPrice:  p.UnitPrice,
			Quantity:   qty,
		})
		return nil, nil
	})
}

// UpdateItemQuantity sets a line's quantity. Zero removes the line.
func (s *Service) UpdateItemQuantity(ctx context.Context, tenantID string, id uuid.UUID, itemID uuid.UUID, qty int) (Snapshot, error) {
	if qty < 0 {
		return Snapshot{}, fmt.Errorf("quantity must not be negative: %w", ErrInvalidInput)
	}
	return s.mutate(ctx, tenantID, id, "update_item", func(_ context.Context, sess *Session) ([]coupon.Rejection, error) {
		if qty == 0 {
			if !sess.removeItem(itemID) {
				return nil, ErrNotFound
			}
			return nil, nil
		}
		item := sess.itemByID(itemID)
		if item == nil {
			return nil, ErrNotFound
		}
		item.Quantity = qty
		return nil, nil
	})
}

// RemoveItem deletes a line.
func (s *Service) RemoveItem(ctx context.Context, tenantID string, id uuid.UUID, itemID uuid.UUID) (Snapshot, error) {
	return s.mutate(ctx, tenantID, id, "remove_item", func(_ context.Context, sess *Session) ([]coupon.Rejection, error) {
		if !sess.removeItem(itemID) {
			return nil, ErrNotFound
		}
		return nil, nil
	})
}

// ApplyCoupons validates and attaches each code. A failing code is rejected
// with its reason while the remaining codes still apply.
func (s *Service) ApplyCoupons(ctx context.Context, tenantID string, id uuid.UUID, codes []string, customerID string) (Snapshot, error) {
	if len(codes) == 0 {
		return Snapshot{}, fmt.Errorf("at least one coupon code is required: %w", ErrInvalidInput)
	}
	if s.Validator == nil {
		return Snapshot{}, errors.New("cart service not configured")
	}
	return s.mutate(ctx, tenantID, id, "apply_coupons", func(ctx context.Context, sess *Session) ([]coupon.Rejection, error) {
		if customerID != "" {
			sess.CustomerID = customerID
		}
		var rejections []coupon.Rejection
		for _, code := range codes {
			rule, rejection, err := s.Validator.Validate(ctx, tenantID, code, customerID, sess.PromoSnapshot(), sess.Coupons)
			if err != nil {
				if errors.Is(err, catalog.ErrUnavailable) {
					return nil, ErrCouponsUnavailable
				}
				return nil, err
			}
			if rejection != nil {
				s.countCouponRejection(string(rejection.Reason))
				rejections = append(rejections, *rejection)
				continue
			}
			sess.Coupons = append(sess.Coupons, coupon.Canonical(rule.CouponCode))
		}
		return rejections, nil
	})
}

// RemoveCoupon detaches a previously applied code.
func (s *Service) RemoveCoupon(ctx context.Context, tenantID string, id uuid.UUID, code string) (Snapshot, error) {
	canonical := coupon.Canonical(code)
	return s.mutate(ctx, tenantID, id, "remove_coupon", func(_ context.Context, sess *Session) ([]coupon.Rejection, error) {
		for i, c := range sess.Coupons {
			if coupon.Canonical(c) == canonical {
				sess.Coupons = append(sess.Coupons[:i], sess.Coupons[i+1:]...)
				return nil, nil
			}
		}
		return nil, ErrNotFound
	})
}

// Clear empties items and coupons. The session stays usable: the next
// mutation reopens it.
func (s *Service) Clear(ctx context.Context, tenantID string, id uuid.UUID) (Snapshot, error) {
	return s.mutate(ctx, tenantID, id, "clear", func(_ context.Context, sess *Session) ([]coupon.Rejection, error) {
		sess.Items = nil
		sess.Coupons = nil
		sess.Status = StatusCleared
		return nil, nil
	})
}

// Finalize marks the session terminal. Finalized sessions answer not found to
// every later mutation; redeeming coupons and writing usage counters belongs
// to checkout.
func (s *Service) Finalize(ctx context.Context, tenantID string, id uuid.UUID) (Snapshot, error) {
	return s.mutate(ctx, tenantID, id, "finalize", func(_ context.Context, sess *Session) ([]coupon.Rejection, error) {
		sess.Status = StatusFinalized
		return nil, nil
	})
}

// PreviewLine is one line of a stateless pricing request.
type PreviewLine struct {
	ProductID uuid.UUID
	Quantity  int
	// UnitPrice overrides the catalog price when set, for what-if pricing of
	// imported orders.
	UnitPrice *money.Money
}

// Preview prices an ad-hoc set of lines without a persisted session. Coupon
// codes are passed straight to evaluation: window and condition checks still
// apply through the gated rules, usage caps do not.
func (s *Service) Preview(ctx context.Context, tenantID string, lines []PreviewLine, codes []string) (promo.ApplicationResult, error) {
	if s == nil || s.Catalog == nil {
		return promo.ApplicationResult{}, errors.New("cart service not configured")
	}
	if len(lines) == 0 {
		return promo.ApplicationResult{}, fmt.Errorf("at least one line is required: %w", ErrInvalidInput)
	}
	snap := promo.Snapshot{Tenant: tenantID, Currency: s.DefaultCurrency}
	for _, pl := range lines {
		if pl.Quantity <= 0 {
			return promo.ApplicationResult{}, fmt.Errorf("quantity must be positive: %w", ErrInvalidInput)
		}
		line := promo.Line{ID: uuid.New(), ProductID: pl.ProductID, Quantity: pl.Quantity}
		if pl.UnitPrice != nil {
			line.UnitPrice = *pl.UnitPrice
		} else {
			if s.Products == nil {
				return promo.ApplicationResult{}, fmt.Errorf("unit price required for product %s: %w", pl.ProductID, ErrInvalidInput)
			}
			p, err := s.Products.Get(ctx, tenantID, pl.ProductID)
			if err != nil {
				if errors.Is(err, product.ErrNotFound) {
					return promo.ApplicationResult{}, fmt.Errorf("unknown product %s: %w", pl.ProductID, ErrInvalidInput)
				}
				return promo.ApplicationResult{}, err
			}
			line.UnitPrice = p.UnitPrice
			line.CategoryID = p.CategoryID
		}
		if snap.Currency == "" {
			snap.Currency = line.UnitPrice.Currency
		}
		if line.UnitPrice.Currency != snap.Currency {
			return promo.ApplicationResult{}, fmt.Errorf("mixed currencies in preview: %w", ErrInvalidInput)
		}
		snap.Lines = append(snap.Lines, line)
	}

	canonical := make([]string, 0, len(codes))
	for _, code := range codes {
		canonical = append(canonical, coupon.Canonical(code))
	}
	return s.evaluate(ctx, snap, canonical), nil
}

type mutation func(ctx context.Context, sess *Session) ([]coupon.Rejection, error)

// mutate runs fn under the per-session lock, re-evaluates promotions, bumps
// the version, and commits. The save uses a context detached from the
// caller's cancellation: once the mutation is applied it must commit even if
// the caller goes away.
func (s *Service) mutate(ctx context.Context, tenantID string, id uuid.UUID, op string, fn mutation) (Snapshot, error) {
	if s == nil || s.Store == nil {
		return Snapshot{}, errors.New("cart service not configured")
	}
	var snap Snapshot
	lockKey := "cartlock:" + tenantID + ":" + id.String()
	err := s.Lock.WithLock(ctx, lockKey, s.lockTTL(), func(ctx context.Context) error {
		sess, err := s.Store.Get(ctx, tenantID, id)
		if err != nil {
			return err
		}
		if sess.Status == StatusFinalized {
			return ErrNotFound
		}
		expected := sess.Version

		rejections, err := fn(ctx, &sess)
		if err != nil {
			return err
		}
		if sess.Status == StatusCleared && (len(sess.Items) > 0 || len(sess.Coupons) > 0) {
			sess.Status = StatusOpen
		}

		staleRejections := s.reevaluate(ctx, &sess, nil)
		rejections = append(rejections, staleRejections...)

		sess.Version = expected + 1
		sess.UpdatedAt = s.now()
		if err := s.Store.Save(context.WithoutCancel(ctx), sess, expected); err != nil {
			return err
		}
		snap = sess.snapshot(rejections)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}
	s.countMutation(op)
	return snap, nil
}

// reevaluate recomputes the session's promotion result. When the catalog is
// unreachable the cart still computes at full price with no rules applied.
// Stored coupons are re-validated against the current snapshot under the
// session's bound customer, so per-customer caps reached since apply still
// bite; codes that no longer hold are excluded from evaluation and reported,
// but stay attached.
func (s *Service) reevaluate(ctx context.Context, sess *Session, extra []coupon.Rejection) []coupon.Rejection {
	rejections := extra
	unlocked := sess.Coupons
	if s.Validator != nil && len(sess.Coupons) > 0 {
		unlocked = unlocked[:0:0]
		for _, code := range sess.Coupons {
			_, rejection, err := s.Validator.Validate(ctx, sess.Tenant, code, sess.CustomerID, sess.PromoSnapshot(), nil)
			if err != nil {
				s.Log.Warn().Err(err).Str("tenant", sess.Tenant).Msg("coupon revalidation failed, excluding code")
				continue
			}
			if rejection != nil {
				rejections = append(rejections, *rejection)
				continue
			}
			unlocked = append(unlocked, code)
		}
	}

	result := s.evaluate(ctx, sess.PromoSnapshot(), unlocked)
	sess.Result = &result
	return rejections
}

func (s *Service) evaluate(ctx context.Context, snap promo.Snapshot, unlocked []string) promo.ApplicationResult {
	asOf := s.now()
	start := time.Now()

	var rules []promo.Rule
	if s.Catalog != nil {
		fetched, err := s.Catalog.ActiveRules(ctx, snap.Tenant, asOf)
		if err != nil {
			s.Log.Warn().Err(err).Str("tenant", snap.Tenant).Msg("rule catalog unreachable, pricing at full price")
			if obs.CatalogFallbackTotal != nil {
				obs.CatalogFallbackTotal.Inc()
			}
		} else {
			rules = fetched
		}
	}

	candidates, err := promo.Evaluate(snap, rules, unlocked, asOf)
	if err != nil {
		s.Log.Error().Err(err).Str("tenant", snap.Tenant).Msg("promotion evaluation failed, pricing at full price")
		candidates = nil
	}
	resolution := promo.Resolve(snap, candidates)
	result := promo.BuildResult(snap, resolution)

	if obs.EvaluationsTotal != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		obs.EvaluationsTotal.WithLabelValues(outcome).Inc()
	}
	if obs.EvaluationDuration != nil {
		obs.EvaluationDuration.Observe(float64(time.Since(start).Milliseconds()))
	}
	if obs.CandidatesRejectedTotal != nil {
		for _, rej := range resolution.Rejected {
			obs.CandidatesRejectedTotal.WithLabelValues(string(rej.Reason)).Inc()
		}
	}
	return result
}

func (s *Service) countMutation(op string) {
	if obs.SessionMutationsTotal != nil {
		obs.SessionMutationsTotal.WithLabelValues(op).Inc()
	}
}

func (s *Service) countCouponRejection(reason string) {
	if obs.CouponRejectionsTotal != nil {
		obs.CouponRejectionsTotal.WithLabelValues(reason).Inc()
	}
}
