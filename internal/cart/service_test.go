package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/catalog"
	"github.com/noah-isme/backend-promo/internal/coupon"
	"github.com/noah-isme/backend-promo/internal/lock"
	"github.com/noah-isme/backend-promo/internal/money"
	"github.com/noah-isme/backend-promo/internal/product"
	"github.com/noah-isme/backend-promo/internal/promo"
)

var cartTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeProducts struct {
	mu       sync.Mutex
	products map[uuid.UUID]product.Product
}

func (f *fakeProducts) Get(_ context.Context, _ string, id uuid.UUID) (product.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return product.Product{}, product.ErrNotFound
	}
	return p, nil
}

type fakeCatalog struct {
	rules []promo.Rule
	err   error
}

func (f *fakeCatalog) ActiveRules(_ context.Context, _ string, asOf time.Time) ([]promo.Rule, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []promo.Rule
	for _, r := range f.rules {
		if r.ActiveAt(asOf) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeCatalog) FindByCoupon(_ context.Context, _ string, code string) (*promo.Rule, error) {
	if f.err != nil {
		return nil, f.err
	}
	for _, r := range f.rules {
		if !r.Automatic() && coupon.Canonical(r.CouponCode) == coupon.Canonical(code) {
			rule := r
			return &rule, nil
		}
	}
	return nil, nil
}

type fakeUsage struct {
	mu       sync.Mutex
	global   map[string]int64
	customer map[string]int64
}

func (f *fakeUsage) GlobalUses(_ context.Context, _ string, ruleID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.global[ruleID], nil
}

func (f *fakeUsage) CustomerUses(_ context.Context, _ string, ruleID string, customerID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customer[ruleID+"/"+customerID], nil
}

func (f *fakeUsage) set(ruleID, customerID string, n int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customer[ruleID+"/"+customerID] = n
}

type fixture struct {
	svc      *Service
	catalog  *fakeCatalog
	products *fakeProducts
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cat := &fakeCatalog{}
	prods := &fakeProducts{products: map[uuid.UUID]product.Product{}}
	svc := &Service{
		Store:           NewStore(client, time.Hour),
		Lock:            lock.Locker{R: client},
		Products:        prods,
		Catalog:         cat,
		Validator:       &coupon.Validator{Rules: cat, Now: func() time.Time { return cartTime }},
		DefaultCurrency: "USD",
		Now:             func() time.Time { return cartTime },
		Log:             zerolog.Nop(),
	}
	return &fixture{svc: svc, catalog: cat, products: prods}
}

func (f *fixture) addProduct(priceMinor int64) uuid.UUID {
	id := uuid.New()
	f.products.mu.Lock()
	defer f.products.mu.Unlock()
	f.products.products[id] = product.Product{
		ID:        id,
		Tenant:    "acme",
		Name:      "widget",
		UnitPrice: money.Money{Amount: priceMinor, Currency: "USD"},
		Active:    true,
	}
	return id
}

func percentRule(bps int32, priority int, minSubtotal int64) promo.Rule {
	return promo.Rule{
		ID:        uuid.New(),
		Tenant:    "acme",
		Name:      "percent off",
		Priority:  priority,
		Stackable: true,
		Condition: promo.Condition{Kind: promo.CondMinSubtotal, MinSubtotal: minSubtotal},
		Discount:  promo.DiscountSpec{Kind: promo.DiscountPercent, PercentBps: bps},
	}
}

func TestCreateAndGetSession(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, created.Status)
	assert.Equal(t, int64(1), created.Version)
	assert.Empty(t, created.Items)

	got, err := f.svc.Get(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestGetUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), "acme", uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddItemAppliesAutomaticRule(t *testing.T) {
	f := newFixture(t)
	f.catalog.rules = []promo.Rule{percentRule(1000, 1, 2000)}
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	snap, err := f.svc.AddItem(context.Background(), "acme", created.ID, productID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.Version)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, 3, snap.Items[0].Quantity)
	assert.Equal(t, int64(3000), snap.Result.Subtotal.Amount)
	assert.Equal(t, int64(300), snap.Result.DiscountTotal.Amount)
	assert.Equal(t, int64(2700), snap.Result.Total.Amount)
}

func TestAddItemMergesSameProduct(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(500)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 2)
	require.NoError(t, err)
	snap, err := f.svc.AddItem(context.Background(), "acme", created.ID, productID, 3)
	require.NoError(t, err)

	require.Len(t, snap.Items, 1)
	assert.Equal(t, 5, snap.Items[0].Quantity)
}

func TestAddUnknownProductIsValidationError(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, uuid.New(), 1)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestUpdateQuantityToZeroRemovesLineAndDiscount(t *testing.T) {
	f := newFixture(t)
	f.catalog.rules = []promo.Rule{percentRule(1000, 1, 2000)}
	discounted := f.addProduct(1000)
	other := f.addProduct(300)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, discounted, 3)
	require.NoError(t, err)
	withBoth, err := f.svc.AddItem(context.Background(), "acme", created.ID, other, 1)
	require.NoError(t, err)
	require.Len(t, withBoth.Items, 2)
	assert.Equal(t, int64(330), withBoth.Result.DiscountTotal.Amount)

	var discountedItem uuid.UUID
	for _, it := range withBoth.Items {
		if it.ProductID == discounted {
			discountedItem = it.ID
		}
	}
	snap, err := f.svc.UpdateItemQuantity(context.Background(), "acme", created.ID, discountedItem, 0)
	require.NoError(t, err)

	require.Len(t, snap.Items, 1)
	assert.Equal(t, other, snap.Items[0].ProductID)
	// 300 remaining is under the 2000 threshold, so the rule no longer fires.
	assert.Equal(t, int64(0), snap.Result.DiscountTotal.Amount)
	assert.Equal(t, int64(300), snap.Result.Total.Amount)
}

func TestUpdateUnknownItem(t *testing.T) {
	f := newFixture(t)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	_, err = f.svc.UpdateItemQuantity(context.Background(), "acme", created.ID, uuid.New(), 2)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyCouponsPartialSuccess(t *testing.T) {
	f := newFixture(t)
	valid := promo.Rule{
		ID:         uuid.New(),
		Tenant:     "acme",
		Name:       "five off",
		Stackable:  true,
		CouponCode: "SAVE5",
		Condition:  promo.Condition{Kind: promo.CondAlways},
		Discount:   promo.DiscountSpec{Kind: promo.DiscountFixed, Amount: 500},
	}
	expired := promo.Rule{
		ID:         uuid.New(),
		Tenant:     "acme",
		Name:       "expired ten",
		CouponCode: "EXPIRED10",
		ValidFrom:  cartTime.Add(-48 * time.Hour),
		ValidTo:    cartTime.Add(-24 * time.Hour),
		Condition:  promo.Condition{Kind: promo.CondAlways},
		Discount:   promo.DiscountSpec{Kind: promo.DiscountFixed, Amount: 1000},
	}
	f.catalog.rules = []promo.Rule{valid, expired}
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 3)
	require.NoError(t, err)

	snap, err := f.svc.ApplyCoupons(context.Background(), "acme", created.ID, []string{"save5", "EXPIRED10"}, "")
	require.NoError(t, err)

	assert.Equal(t, []string{"SAVE5"}, snap.AppliedCoupons)
	require.Len(t, snap.CouponRejections, 1)
	assert.Equal(t, "EXPIRED10", snap.CouponRejections[0].Code)
	assert.Equal(t, coupon.ReasonExpired, snap.CouponRejections[0].Reason)
	assert.Equal(t, int64(500), snap.Result.DiscountTotal.Amount)
	assert.Equal(t, int64(2500), snap.Result.Total.Amount)
}

func TestPerCustomerCapEnforcedOnLaterMutation(t *testing.T) {
	f := newFixture(t)
	one := int32(1)
	rule := promo.Rule{
		ID:               uuid.New(),
		Tenant:           "acme",
		Name:             "five off once",
		Stackable:        true,
		CouponCode:       "ONCE5",
		PerCustomerLimit: &one,
		Condition:        promo.Condition{Kind: promo.CondAlways},
		Discount:         promo.DiscountSpec{Kind: promo.DiscountFixed, Amount: 500},
	}
	f.catalog.rules = []promo.Rule{rule}
	usage := &fakeUsage{customer: map[string]int64{}}
	f.svc.Validator.Usage = usage
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 2)
	require.NoError(t, err)

	snap, err := f.svc.ApplyCoupons(context.Background(), "acme", created.ID, []string{"ONCE5"}, "cust-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ONCE5"}, snap.AppliedCoupons)
	assert.Equal(t, int64(500), snap.Result.DiscountTotal.Amount)

	// The customer redeems the code elsewhere, exhausting the per-customer cap.
	usage.set(rule.ID.String(), "cust-1", 1)

	snap, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"ONCE5"}, snap.AppliedCoupons)
	require.Len(t, snap.CouponRejections, 1)
	assert.Equal(t, coupon.ReasonUsageCapExceeded, snap.CouponRejections[0].Reason)
	assert.Equal(t, int64(0), snap.Result.DiscountTotal.Amount)
	assert.Equal(t, int64(3000), snap.Result.Total.Amount)
}

func TestApplyCouponsCatalogDown(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 1)
	require.NoError(t, err)

	f.catalog.err = catalog.ErrUnavailable

	_, err = f.svc.ApplyCoupons(context.Background(), "acme", created.ID, []string{"SAVE5"}, "")
	assert.ErrorIs(t, err, ErrCouponsUnavailable)
}

func TestCatalogDownPricesAtFullPrice(t *testing.T) {
	f := newFixture(t)
	f.catalog.rules = []promo.Rule{percentRule(1000, 1, 0)}
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	f.catalog.err = errors.New("connection refused")

	snap, err := f.svc.AddItem(context.Background(), "acme", created.ID, productID, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(3000), snap.Result.Subtotal.Amount)
	assert.Equal(t, int64(0), snap.Result.DiscountTotal.Amount)
	assert.Equal(t, int64(3000), snap.Result.Total.Amount)
}

func TestClearEmptiesItemsAndCoupons(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 2)
	require.NoError(t, err)

	snap, err := f.svc.Clear(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCleared, snap.Status)
	assert.Empty(t, snap.Items)
	assert.Empty(t, snap.AppliedCoupons)
	assert.Equal(t, int64(0), snap.Result.Total.Amount)

	reopened, err := f.svc.AddItem(context.Background(), "acme", created.ID, productID, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusOpen, reopened.Status)
}

func TestFinalizedSessionRejectsMutations(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(1000)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	final, err := f.svc.Finalize(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, final.Status)

	_, err = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 1)
	assert.ErrorIs(t, err, ErrNotFound)

	// Reads still work on finalized sessions.
	got, err := f.svc.Get(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFinalized, got.Status)
}

func TestConcurrentAddsNeverLoseWrites(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(100)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AddItem(context.Background(), "acme", created.ID, productID, 1)
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	snap, err := f.svc.Get(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	require.Len(t, snap.Items, 1)
	assert.Equal(t, writers, snap.Items[0].Quantity)
	assert.Equal(t, int64(1+writers), snap.Version)
}

func TestVersionIncrementsPerMutation(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(100)

	created, err := f.svc.Create(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	one, err := f.svc.AddItem(context.Background(), "acme", created.ID, productID, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), one.Version)

	two, err := f.svc.Clear(context.Background(), "acme", created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3), two.Version)
}

func TestPreviewWithExplicitPrices(t *testing.T) {
	f := newFixture(t)
	f.catalog.rules = []promo.Rule{percentRule(1000, 1, 2000)}

	price := money.Money{Amount: 1000, Currency: "USD"}
	result, err := f.svc.Preview(context.Background(), "acme", []PreviewLine{
		{ProductID: uuid.New(), Quantity: 3, UnitPrice: &price},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, int64(3000), result.Subtotal.Amount)
	assert.Equal(t, int64(300), result.DiscountTotal.Amount)
	assert.Equal(t, int64(2700), result.Total.Amount)
}

func TestPreviewResolvesCatalogPrices(t *testing.T) {
	f := newFixture(t)
	productID := f.addProduct(400)

	result, err := f.svc.Preview(context.Background(), "acme", []PreviewLine{
		{ProductID: productID, Quantity: 2},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(800), result.Total.Amount)
}
