package catalog

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// invalidationChannel carries tenant ids whose rule snapshots must be dropped.
// Every API instance subscribes so an admin write on one instance invalidates
// the in-process cache on all of them.
const invalidationChannel = "promo:rules:invalidate"

// Publisher broadcasts rule invalidations to all running instances.
type Publisher struct {
	R *redis.Client
}

// Publish announces that the tenant's rules changed. A nil client is a no-op
// so single-instance deployments can skip the fanout.
func (p Publisher) Publish(ctx context.Context, tenant string) error {
	if p.R == nil {
		return nil
	}
	return p.R.Publish(ctx, invalidationChannel, tenant).Err()
}

// Subscriber drops local snapshots when another instance publishes an
// invalidation.
type Subscriber struct {
	R       *redis.Client
	Service *Service
	Log     zerolog.Logger
}

// Run blocks consuming invalidations until ctx is cancelled.
func (s Subscriber) Run(ctx context.Context) {
	if s.R == nil || s.Service == nil {
		return
	}
	sub := s.R.Subscribe(ctx, invalidationChannel)
	defer func() {
		if err := sub.Close(); err != nil {
			s.Log.Error().Err(err).Msg("close invalidation subscription")
		}
	}()
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			s.Service.Invalidate(msg.Payload)
			s.Log.Debug().Str("tenant", msg.Payload).Msg("rule snapshot invalidated")
		}
	}
}
