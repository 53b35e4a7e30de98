package catalog

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// TaskRefreshRules is the periodic task that re-warms every tenant's rule
// snapshot so evaluations rarely pay the fetch on the request path.
const TaskRefreshRules = "catalog:refresh_rules"

// NewRefreshTask builds the refresh task payload.
func NewRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskRefreshRules, nil)
}

// Refresher handles scheduled rule snapshot refreshes.
type Refresher struct {
	Store   *Store
	Service *Service
	Publish Publisher
	Log     zerolog.Logger
}

// HandleRefresh refreshes the snapshot of every tenant that has rules and
// broadcasts an invalidation so API instances drop any stale snapshot. A
// failing tenant is logged and skipped so one bad tenant cannot starve the
// rest.
func (r *Refresher) HandleRefresh(ctx context.Context, _ *asynq.Task) error {
	tenants, err := r.Store.ListTenants(ctx)
	if err != nil {
		return fmt.Errorf("refresh rules: %w", err)
	}
	for _, tenant := range tenants {
		if err := r.Service.Refresh(ctx, tenant); err != nil {
			r.Log.Error().Err(err).Str("tenant", tenant).Msg("refresh rule snapshot failed")
			continue
		}
		if err := r.Publish.Publish(ctx, tenant); err != nil {
			r.Log.Error().Err(err).Str("tenant", tenant).Msg("publish rule invalidation")
		}
	}
	return nil
}
