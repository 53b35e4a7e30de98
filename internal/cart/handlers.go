package cart

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/noah-isme/backend-promo/internal/common"
	"github.com/noah-isme/backend-promo/internal/money"
	"github.com/noah-isme/backend-promo/internal/tenant"
)

// Handler wires the cart session service to HTTP.
type Handler struct {
	Svc      *Service
	validate *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc, validate: validator.New()}
}

// Create handles POST /api/v1/cart-sessions.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.Create(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": snap})
}

// Get handles GET /api/v1/cart-sessions/{sessionID}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.Get(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// AddItem handles POST /api/v1/cart-sessions/{sessionID}/items.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var payload struct {
		ProductID string `json:"productId" validate:"required"`
		Quantity  int    `json:"quantity" validate:"required,min=1"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	productID, err := uuid.Parse(payload.ProductID)
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid product id", nil)
		return
	}
	snap, err := h.Svc.AddItem(r.Context(), tenantID, id, productID, payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// UpdateItem handles PATCH /api/v1/cart-sessions/{sessionID}/items/{itemID}.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid item id", nil)
		return
	}
	var payload struct {
		Quantity *int `json:"quantity" validate:"required,min=0"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	snap, err := h.Svc.UpdateItemQuantity(r.Context(), tenantID, id, itemID, *payload.Quantity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// RemoveItem handles DELETE /api/v1/cart-sessions/{sessionID}/items/{itemID}.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	itemID, err := uuid.Parse(chi.URLParam(r, "itemID"))
	if err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid item id", nil)
		return
	}
	snap, err := h.Svc.RemoveItem(r.Context(), tenantID, id, itemID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// ApplyCoupons handles POST /api/v1/cart-sessions/{sessionID}/coupons.
func (h *Handler) ApplyCoupons(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	var payload struct {
		Codes []string `json:"codes" validate:"required,min=1,dive,required"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	customerID, _ := common.UserID(r.Context())
	snap, err := h.Svc.ApplyCoupons(r.Context(), tenantID, id, payload.Codes, customerID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// RemoveCoupon handles DELETE /api/v1/cart-sessions/{sessionID}/coupons/{code}.
func (h *Handler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	code := chi.URLParam(r, "code")
	snap, err := h.Svc.RemoveCoupon(r.Context(), tenantID, id, code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// Clear handles POST /api/v1/cart-sessions/{sessionID}/clear.
func (h *Handler) Clear(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.Clear(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// Finalize handles POST /api/v1/cart-sessions/{sessionID}/finalize.
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	snap, err := h.Svc.Finalize(r.Context(), tenantID, id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": snap})
}

// Preview handles POST /api/v1/pricing/preview: stateless what-if pricing
// over ad-hoc lines, without a persisted session.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.requireTenant(w, r)
	if !ok {
		return
	}
	var payload struct {
		Lines []struct {
			ProductID string `json:"productId" validate:"required"`
			Quantity  int    `json:"quantity" validate:"required,min=1"`
			UnitPrice *struct {
				Amount   int64  `json:"amount" validate:"min=0"`
				Currency string `json:"currency" validate:"required,len=3"`
			} `json:"unitPrice,omitempty"`
		} `json:"lines" validate:"required,min=1,dive"`
		Codes []string `json:"codes,omitempty"`
	}
	if !h.decode(w, r, &payload) {
		return
	}
	lines := make([]PreviewLine, 0, len(payload.Lines))
	for _, pl := range payload.Lines {
		productID, err := uuid.Parse(pl.ProductID)
		if err != nil {
			common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid product id", nil)
			return
		}
		line := PreviewLine{ProductID: productID, Quantity: pl.Quantity}
		if pl.UnitPrice != nil {
			price := money.Money{Amount: pl.UnitPrice.Amount, Currency: pl.UnitPrice.Currency}
			line.UnitPrice = &price
		}
		lines = append(lines, line)
	}
	result, err := h.Svc.Preview(r.Context(), tenantID, lines, payload.Codes)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *Handler) requireTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "cart service not configured", nil)
		return "", false
	}
	tenantID, ok := tenant.From(r.Context())
	if !ok {
		common.JSONError(w, http.StatusBadRequest, "TENANT_REQUIRED", "tenant is required", nil)
		return "", false
	}
	return tenantID, true
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart session not found", nil)
		return uuid.UUID{}, false
	}
	return id, true
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid JSON body", nil)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "invalid request payload", nil)
		return false
	}
	return true
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var appErr *common.AppError
	switch {
	case errors.As(err, &appErr):
		status := appErr.HTTPStatus
		if status == 0 {
			status = http.StatusInternalServerError
		}
		common.JSONError(w, status, appErr.Code, appErr.Message, appErr.Details)
	case errors.Is(err, ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "cart session or item not found", nil)
	case errors.Is(err, ErrInvalidInput):
		common.JSONError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	case errors.Is(err, ErrVersionConflict):
		common.JSONError(w, http.StatusConflict, "CONFLICT", "cart session was modified concurrently, retry", nil)
	case errors.Is(err, ErrCouponsUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "coupon validation is temporarily unavailable", nil)
	default:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
