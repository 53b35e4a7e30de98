package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-promo/internal/promo"
)

func TestInvalidationFanout(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	src := &fakeSource{rules: []promo.Rule{testRule("always on", snapTime.Add(-time.Hour), snapTime.Add(time.Hour))}}
	svc := newTestService(t, src)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go Subscriber{R: client, Service: svc, Log: zerolog.Nop()}.Run(ctx)

	_, err := svc.ActiveRules(ctx, "acme", snapTime)
	require.NoError(t, err)
	require.Equal(t, 1, src.calls)

	require.NoError(t, Publisher{R: client}.Publish(ctx, "acme"))

	require.Eventually(t, func() bool {
		_, err := svc.ActiveRules(ctx, "acme", snapTime)
		return err == nil && src.calls == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPublisherNilClientNoop(t *testing.T) {
	require.NoError(t, Publisher{}.Publish(context.Background(), "acme"))
}
