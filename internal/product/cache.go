package product

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/backend-promo/internal/tenant"
)

// CachedLookup layers a Redis JSON cache over another Lookup. Lookups that
// miss fall through to the inner lookup and backfill. Cache failures degrade
// to the inner lookup rather than failing the request.
type CachedLookup struct {
	Inner  Lookup
	Client *redis.Client
	TTL    time.Duration
}

func NewCachedLookup(inner Lookup, client *redis.Client, ttl time.Duration) *CachedLookup {
	return &CachedLookup{Inner: inner, Client: client, TTL: ttl}
}

func (c *CachedLookup) Get(ctx context.Context, tenantID string, id uuid.UUID) (Product, error) {
	key := tenant.PrefixKey(tenantID, "product:"+id.String())
	if c.Client != nil {
		data, err := c.Client.Get(ctx, key).Bytes()
		if err == nil {
			var p Product
			if err := json.Unmarshal(data, &p); err == nil {
				return p, nil
			}
		}
	}
	p, err := c.Inner.Get(ctx, tenantID, id)
	if err != nil {
		return Product{}, err
	}
	if c.Client != nil && c.TTL > 0 {
		if data, err := json.Marshal(p); err == nil {
			_ = c.Client.Set(ctx, key, data, c.TTL).Err()
		}
	}
	return p, nil
}
