package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/catalog"
	"github.com/noah-isme/backend-promo/internal/promo"
	"github.com/noah-isme/backend-promo/internal/tenant"
)

type fakeRuleStore struct {
	mu    sync.Mutex
	rules map[uuid.UUID]promo.Rule
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{rules: make(map[uuid.UUID]promo.Rule)}
}

func (f *fakeRuleStore) ListByTenant(_ context.Context, tenantID string) ([]promo.Rule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []promo.Rule
	for _, r := range f.rules {
		if r.Tenant == tenantID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRuleStore) Create(_ context.Context, rule promo.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) Update(_ context.Context, rule promo.Rule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.rules[rule.ID]; !ok {
		return catalog.ErrRuleNotFound
	}
	f.rules[rule.ID] = rule
	return nil
}

func (f *fakeRuleStore) Delete(_ context.Context, tenantID string, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.rules[id]
	if !ok || r.Tenant != tenantID {
		return catalog.ErrRuleNotFound
	}
	delete(f.rules, id)
	return nil
}

type ruleResponse struct {
	Data promo.Rule `json:"data"`
}

type ruleListResponse struct {
	Data []promo.Rule `json:"data"`
	Meta struct {
		Page       int `json:"page"`
		PerPage    int `json:"per_page"`
		TotalItems int `json:"total_items"`
	} `json:"meta"`
}

func TestRuleAdminHandlers(t *testing.T) {
	store := newFakeRuleStore()
	handler := catalog.NewHandler(catalog.HandlerConfig{Store: store})

	withTenant := func(req *http.Request) *http.Request {
		return req.WithContext(tenant.With(req.Context(), "acme"))
	}

	createBody := `{
		"name": "Weekend 10%",
		"priority": 10,
		"stackable": true,
		"couponCode": "save10",
		"condition": {"kind": "min_subtotal", "minSubtotal": 2000},
		"discount": {"kind": "percent", "percentBps": 1000}
	}`

	var created promo.Rule
	t.Run("create", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodPost, "/api/v1/admin/promo-rules", strings.NewReader(createBody)))
		rec := httptest.NewRecorder()
		handler.CreateRule(rec, req)
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

		var resp ruleResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		created = resp.Data
		require.Equal(t, "acme", created.Tenant)
		require.Equal(t, "SAVE10", created.CouponCode)
		require.Equal(t, promo.DiscountPercent, created.Discount.Kind)
	})

	t.Run("list paginates", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodGet, "/api/v1/admin/promo-rules?page=1&limit=10", nil))
		rec := httptest.NewRecorder()
		handler.ListRules(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var resp ruleListResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		require.Len(t, resp.Data, 1)
		require.Equal(t, 1, resp.Meta.TotalItems)
		require.Equal(t, 10, resp.Meta.PerPage)
	})

	t.Run("update unknown rule", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodPut, "/api/v1/admin/promo-rules/"+uuid.NewString(), strings.NewReader(createBody)))
		req = withURLParam(req, "ruleID", uuid.NewString())
		rec := httptest.NewRecorder()
		handler.UpdateRule(rec, req)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("delete", func(t *testing.T) {
		req := withTenant(httptest.NewRequest(http.MethodDelete, "/api/v1/admin/promo-rules/"+created.ID.String(), nil))
		req = withURLParam(req, "ruleID", created.ID.String())
		rec := httptest.NewRecorder()
		handler.DeleteRule(rec, req)
		require.Equal(t, http.StatusNoContent, rec.Code)

		rules, err := store.ListByTenant(context.Background(), "acme")
		require.NoError(t, err)
		require.Empty(t, rules)
	})
}

func TestRuleAdminValidation(t *testing.T) {
	handler := catalog.NewHandler(catalog.HandlerConfig{Store: newFakeRuleStore()})

	cases := []struct {
		name string
		body string
	}{
		{"bad json", `{`},
		{"missing name", `{"discount":{"kind":"percent","percentBps":500}}`},
		{"percent out of range", `{"name":"x","discount":{"kind":"percent","percentBps":20000}}`},
		{"fixed non-positive", `{"name":"x","discount":{"kind":"fixed","amount":0}}`},
		{"tiered without tiers", `{"name":"x","discount":{"kind":"tiered"}}`},
		{"unknown kind", `{"name":"x","discount":{"kind":"mystery"}}`},
		{"inverted window", `{"name":"x","validFrom":"2026-06-01T00:00:00Z","validTo":"2026-05-01T00:00:00Z","discount":{"kind":"percent","percentBps":500}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/promo-rules", strings.NewReader(tc.body))
			req = req.WithContext(tenant.With(req.Context(), "acme"))
			rec := httptest.NewRecorder()
			handler.CreateRule(rec, req)
			require.Contains(t, []int{http.StatusBadRequest, http.StatusUnprocessableEntity}, rec.Code, rec.Body.String())
		})
	}

	t.Run("missing tenant", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/promo-rules", nil)
		rec := httptest.NewRecorder()
		handler.ListRules(rec, req)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
