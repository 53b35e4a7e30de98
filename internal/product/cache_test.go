package product

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/money"
)

type fakeLookup struct {
	products map[uuid.UUID]Product
	calls    int
}

func (f *fakeLookup) Get(_ context.Context, _ string, id uuid.UUID) (Product, error) {
	f.calls++
	p, ok := f.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func TestCachedLookupBackfillsAndServesFromCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	id := uuid.New()
	inner := &fakeLookup{products: map[uuid.UUID]Product{
		id: {ID: id, Tenant: "acme", Name: "widget", UnitPrice: money.Money{Amount: 1000, Currency: "USD"}, Active: true},
	}}
	lookup := NewCachedLookup(inner, client, time.Minute)

	first, err := lookup.Get(context.Background(), "acme", id)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), first.UnitPrice.Amount)

	second, err := lookup.Get(context.Background(), "acme", id)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.calls)
}

func TestCachedLookupPropagatesNotFound(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lookup := NewCachedLookup(&fakeLookup{products: map[uuid.UUID]Product{}}, client, time.Minute)

	_, err := lookup.Get(context.Background(), "acme", uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
