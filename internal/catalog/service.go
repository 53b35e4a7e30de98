package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/coupon"
	"github.com/noah-isme/backend-promo/internal/promo"
	"github.com/noah-isme/backend-promo/internal/resilience"
)

// ErrUnavailable is returned when the rule source cannot be reached and no
// fresh snapshot is cached. Callers must treat it as a hard failure: carts
// evaluate with no rules only when the catalog positively says there are none.
var ErrUnavailable = errors.New("rule catalog unavailable")

// RuleSource loads the full rule set for a tenant.
type RuleSource interface {
	ListByTenant(ctx context.Context, tenant string) ([]promo.Rule, error)
}

// Service serves per-tenant rule snapshots from an in-process TTL cache,
// falling through to the source on miss. A snapshot is immutable once cached;
// Invalidate drops it so the next read refetches.
type Service struct {
	source       RuleSource
	snapshots    *gocache.Cache
	fetchTimeout time.Duration
	breaker      *resilience.Breaker
	log          zerolog.Logger
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Source       RuleSource
	TTL          time.Duration
	FetchTimeout time.Duration
	// Breaker, when set, short-circuits source fetches while the source is
	// failing so request paths fall back without waiting out the timeout.
	Breaker *resilience.Breaker
	Logger  zerolog.Logger
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Source == nil {
		return nil, errors.New("catalog: rule source is required")
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	fetchTimeout := cfg.FetchTimeout
	if fetchTimeout <= 0 {
		fetchTimeout = 2 * time.Second
	}
	return &Service{
		source:       cfg.Source,
		snapshots:    gocache.New(ttl, 2*ttl),
		fetchTimeout: fetchTimeout,
		breaker:      cfg.Breaker,
		log:          cfg.Logger,
	}, nil
}

// ActiveRules returns the tenant's rules whose validity window contains asOf.
func (s *Service) ActiveRules(ctx context.Context, tenant string, asOf time.Time) ([]promo.Rule, error) {
	all, err := s.snapshot(ctx, tenant)
	if err != nil {
		return nil, err
	}
	var out []promo.Rule
	for _, r := range all {
		if r.ActiveAt(asOf) {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindByCoupon returns the rule gated by the given canonical code, or nil.
// The match ignores validity windows so the coupon validator can distinguish
// an expired code from an unknown one.
func (s *Service) FindByCoupon(ctx context.Context, tenant, code string) (*promo.Rule, error) {
	all, err := s.snapshot(ctx, tenant)
	if err != nil {
		return nil, err
	}
	canonical := coupon.Canonical(code)
	for _, r := range all {
		if !r.Automatic() && coupon.Canonical(r.CouponCode) == canonical {
			rule := r
			return &rule, nil
		}
	}
	return nil, nil
}

// Refresh refetches the tenant's rules and replaces the cached snapshot.
func (s *Service) Refresh(ctx context.Context, tenant string) error {
	rules, err := s.fetch(ctx, tenant)
	if err != nil {
		return err
	}
	s.snapshots.SetDefault(tenant, rules)
	return nil
}

// Invalidate drops the tenant's cached snapshot.
func (s *Service) Invalidate(tenant string) {
	s.snapshots.Delete(tenant)
}

func (s *Service) snapshot(ctx context.Context, tenant string) ([]promo.Rule, error) {
	if cached, ok := s.snapshots.Get(tenant); ok {
		return cached.([]promo.Rule), nil
	}
	rules, err := s.fetch(ctx, tenant)
	if err != nil {
		s.log.Error().Err(err).Str("tenant", tenant).Msg("rule catalog fetch failed")
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	s.snapshots.SetDefault(tenant, rules)
	return rules, nil
}

func (s *Service) fetch(ctx context.Context, tenant string) ([]promo.Rule, error) {
	if s.breaker != nil && !s.breaker.Allow(ctx) {
		return nil, errors.New("rule source circuit open")
	}
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	rules, err := s.source.ListByTenant(fetchCtx, tenant)
	if s.breaker != nil {
		s.breaker.Report(ctx, err == nil)
	}
	return rules, err
}
