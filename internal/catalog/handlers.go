package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/coupon"
	"github.com/noah-isme/backend-promo/internal/promo"
	"github.com/noah-isme/backend-promo/internal/tenant"
)

// RuleStore is the persistence surface the admin handlers need.
type RuleStore interface {
	ListByTenant(ctx context.Context, tenant string) ([]promo.Rule, error)
	Create(ctx context.Context, rule promo.Rule) error
	Update(ctx context.Context, rule promo.Rule) error
	Delete(ctx context.Context, tenant string, id uuid.UUID) error
}

// Handler exposes admin endpoints for managing promotion rules.
type Handler struct {
	service  *Service
	store    RuleStore
	publish  Publisher
	log      zerolog.Logger
	validate *validator.Validate
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
	Store   RuleStore
	Publish Publisher
	Logger  zerolog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		service:  cfg.Service,
		store:    cfg.Store,
		publish:  cfg.Publish,
		log:      cfg.Logger,
		validate: validator.New(),
	}
}

func (h *Handler) invalidate(ctx context.Context, tenantID string) {
	if h.service != nil {
		h.service.Invalidate(tenantID)
	}
	if err := h.publish.Publish(ctx, tenantID); err != nil {
		h.log.Error().Err(err).Str("tenant", tenantID).Msg("publish rule invalidation")
	}
}

// RuleRequest is the admin payload for creating or updating a rule.
type RuleRequest struct {
	Name             string             `json:"name" validate:"required,max=200"`
	Priority         int                `json:"priority"`
	Exclusive        bool               `json:"exclusive"`
	Stackable        bool               `json:"stackable"`
	Family           string             `json:"family,omitempty" validate:"max=100"`
	CouponCode       string             `json:"couponCode,omitempty" validate:"max=64"`
	ValidFrom        *time.Time         `json:"validFrom,omitempty"`
	ValidTo          *time.Time         `json:"validTo,omitempty"`
	Condition        promo.Condition    `json:"condition"`
	Discount         promo.DiscountSpec `json:"discount" validate:"required"`
	UsageLimit       *int32             `json:"usageLimit,omitempty" validate:"omitempty,min=0"`
	PerCustomerLimit *int32             `json:"perCustomerLimit,omitempty" validate:"omitempty,min=1"`
}

// CreateRule handles POST /api/v1/admin/promo-rules.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule store not configured", nil)
		return
	}
	tenantID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
		return
	}
	rule, err := h.decodeRule(r, tenantID, uuid.New())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.Create(r.Context(), rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context(), tenantID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": rule})
}

// UpdateRule handles PUT /api/v1/admin/promo-rules/{ruleID}.
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule store not configured", nil)
		return
	}
	tenantID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
		return
	}
	rule, err := h.decodeRule(r, tenantID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if err := h.store.Update(r.Context(), rule); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context(), tenantID)
	common.JSON(w, http.StatusOK, map[string]any{"data": rule})
}

// DeleteRule handles DELETE /api/v1/admin/promo-rules/{ruleID}.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule store not configured", nil)
		return
	}
	tenantID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "ruleID"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rule id", nil)
		return
	}
	if err := h.store.Delete(r.Context(), tenantID, id); err != nil {
		h.writeError(w, err)
		return
	}
	h.invalidate(r.Context(), tenantID)
	w.WriteHeader(http.StatusNoContent)
}

// ListRules handles GET /api/v1/admin/promo-rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "rule store not configured", nil)
		return
	}
	tenantID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
		return
	}
	rules, err := h.store.ListByTenant(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if rules == nil {
		rules = []promo.Rule{}
	}
	total := len(rules)
	page, perPage := common.ParsePagination(r, 50)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}
	common.JSON(w, http.StatusOK, map[string]any{
		"data": rules[start:end],
		"meta": common.Pagination{Page: page, PerPage: perPage, TotalItems: total},
	})
}

// InvalidateCache handles POST /api/v1/admin/promo-rules/invalidate.
func (h *Handler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "catalog service not configured", nil)
		return
	}
	tenantID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
		return
	}
	h.invalidate(r.Context(), tenantID)
	common.JSON(w, http.StatusOK, map[string]any{"data": map[string]string{"status": "invalidated"}})
}

func (h *Handler) decodeRule(r *http.Request, tenantID string, id uuid.UUID) (promo.Rule, error) {
	var req RuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return promo.Rule{}, &common.AppError{Code: "BAD_REQUEST", Message: "invalid JSON body", HTTPStatus: http.StatusBadRequest, Err: err}
	}
	if err := h.validate.Struct(req); err != nil {
		return promo.Rule{}, &common.AppError{Code: "VALIDATION_ERROR", Message: "invalid rule payload", HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	}
	if err := validateDiscount(req.Discount); err != nil {
		return promo.Rule{}, &common.AppError{Code: "VALIDATION_ERROR", Message: err.Error(), HTTPStatus: http.StatusUnprocessableEntity, Err: err}
	}
	rule := promo.Rule{
		ID:               id,
		Tenant:           tenantID,
		Name:             req.Name,
		Priority:         req.Priority,
		Exclusive:        req.Exclusive,
		Stackable:        req.Stackable,
		Family:           req.Family,
		CouponCode:       coupon.Canonical(req.CouponCode),
		Condition:        req.Condition,
		Discount:         req.Discount,
		UsageLimit:       req.UsageLimit,
		PerCustomerLimit: req.PerCustomerLimit,
	}
	if req.ValidFrom != nil {
		rule.ValidFrom = req.ValidFrom.UTC()
	}
	if req.ValidTo != nil {
		rule.ValidTo = req.ValidTo.UTC()
	}
	if !rule.ValidFrom.IsZero() && !rule.ValidTo.IsZero() && !rule.ValidFrom.Before(rule.ValidTo) {
		return promo.Rule{}, &common.AppError{Code: "VALIDATION_ERROR", Message: "validFrom must be before validTo", HTTPStatus: http.StatusUnprocessableEntity}
	}
	return rule, nil
}

func validateDiscount(spec promo.DiscountSpec) error {
	switch spec.Kind {
	case promo.DiscountPercent:
		if spec.PercentBps <= 0 || spec.PercentBps > 10000 {
			return errors.New("percentBps must be between 1 and 10000")
		}
	case promo.DiscountFixed:
		if spec.Amount <= 0 {
			return errors.New("amount must be positive")
		}
	case promo.DiscountTiered:
		if len(spec.Tiers) == 0 {
			return errors.New("tiered discount requires at least one tier")
		}
	case promo.DiscountBuyNGetM:
		if spec.BuyN < 1 || spec.GetM < 1 {
			return errors.New("buyN and getM must be at least 1")
		}
	default:
		return errors.New("unknown discount kind")
	}
	return nil
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	if errors.As(err, &appErr) {
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		code := appErr.Code
		if code == "" {
			code = "INTERNAL"
		}
		message := appErr.Message
		if message == "" {
			message = "internal error"
		}
		common.JSONError(w, status, code, message, appErr.Details)
		return
	}
	if errors.Is(err, ErrRuleNotFound) {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "promotion rule not found", nil)
		return
	}
	common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
}
