package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// EvaluationsTotal counts promotion evaluation passes by outcome.
	EvaluationsTotal *prometheus.CounterVec
	// EvaluationDuration records evaluation latency in milliseconds.
	EvaluationDuration prometheus.Histogram
	// CandidatesRejectedTotal counts pruned discount candidates by reason.
	CandidatesRejectedTotal *prometheus.CounterVec
	// CouponRejectionsTotal counts rejected coupon codes by reason.
	CouponRejectionsTotal *prometheus.CounterVec
	// CatalogFallbackTotal counts evaluations that ran without rules because
	// the rule catalog was unreachable.
	CatalogFallbackTotal prometheus.Counter
	// SessionMutationsTotal counts committed cart session mutations by operation.
	SessionMutationsTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		EvaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_evaluations_total",
			Help:      "Count of promotion evaluation passes by outcome.",
		}, []string{"result"})
		EvaluationDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "promo_evaluation_duration_ms",
			Help:      "Promotion evaluation latency in milliseconds.",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100, 250},
		})
		CandidatesRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_candidates_rejected_total",
			Help:      "Count of discount candidates pruned by the conflict resolver, by reason.",
		}, []string{"reason"})
		CouponRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_coupon_rejections_total",
			Help:      "Count of rejected coupon codes by reason.",
		}, []string{"reason"})
		CatalogFallbackTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "promo_catalog_fallback_total",
			Help:      "Evaluations that ran with no rules because the catalog was unreachable.",
		})
		SessionMutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_session_mutations_total",
			Help:      "Count of committed cart session mutations by operation.",
		}, []string{"op"})

		mustRegisterCollector(reg, EvaluationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				EvaluationsTotal = v
			}
		})
		mustRegisterCollector(reg, EvaluationDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Histogram); ok {
				EvaluationDuration = v
			}
		})
		mustRegisterCollector(reg, CandidatesRejectedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CandidatesRejectedTotal = v
			}
		})
		mustRegisterCollector(reg, CouponRejectionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				CouponRejectionsTotal = v
			}
		})
		mustRegisterCollector(reg, CatalogFallbackTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				CatalogFallbackTotal = v
			}
		})
		mustRegisterCollector(reg, SessionMutationsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SessionMutationsTotal = v
			}
		})
	})
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
