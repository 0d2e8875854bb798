package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/infrastructure/redis"
	"github.com/yourorg/cliniccore/internal/observability/metrics"
	"github.com/yourorg/cliniccore/pkg/cache"
)

// Resolver turns a request's tenant selector (id or slug) into an active
// Tenant. Lookups go through an in-process TTL cache, then the shared
// Redis cache, then Postgres. A tenant that is missing or not active is a
// terminal client error; there is no fallback namespace.
type Resolver struct {
	tenants  domain.TenantRepository
	local    *cache.Cache[*domain.Tenant]
	shared   *redis.Client
	cacheTTL time.Duration
	logger   *slog.Logger
}

// NewResolver creates a resolver. The shared Redis cache may be nil, in
// which case only the local cache is used.
func NewResolver(tenants domain.TenantRepository, shared *redis.Client, cacheTTL time.Duration, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		tenants:  tenants,
		local:    cache.New[*domain.Tenant](),
		shared:   shared,
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Resolve looks up the tenant for a selector and validates that it may
// serve requests. Returns domain.ErrTenantNotSpecified for an empty
// selector and domain.ErrTenantNotFound for unknown or inactive tenants.
func (r *Resolver) Resolve(ctx context.Context, selector string) (*domain.Tenant, error) {
	if selector == "" {
		return nil, domain.ErrTenantNotSpecified
	}

	if t, ok := r.local.Get(selector); ok {
		metrics.ObserveTenantCache("local_hit")
		return r.validate(t)
	}

	if t := r.fromShared(ctx, selector); t != nil {
		metrics.ObserveTenantCache("shared_hit")
		r.local.Set(selector, t, r.cacheTTL)
		return r.validate(t)
	}

	metrics.ObserveTenantCache("miss")
	t, err := r.tenants.GetByIDOrSlug(ctx, selector)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to resolve tenant: %w", err)
	}

	r.local.Set(selector, t, r.cacheTTL)
	r.toShared(ctx, selector, t)
	return r.validate(t)
}

// Invalidate drops a tenant from both cache layers, e.g. after a status
// change.
func (r *Resolver) Invalidate(ctx context.Context, selector string) {
	r.local.Delete(selector)
	if r.shared != nil {
		if err := r.shared.Delete(ctx, sharedKey(selector)); err != nil {
			r.logger.Warn("failed to invalidate shared tenant cache",
				slog.String("selector", selector),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *Resolver) validate(t *domain.Tenant) (*domain.Tenant, error) {
	if !t.Resolvable() {
		return nil, domain.ErrTenantNotFound
	}
	return t, nil
}

// fromShared reads the Redis layer. Any Redis failure degrades to a
// Postgres lookup; it is never fatal for the request.
func (r *Resolver) fromShared(ctx context.Context, selector string) *domain.Tenant {
	if r.shared == nil {
		return nil
	}
	raw, ok, err := r.shared.Get(ctx, sharedKey(selector))
	if err != nil {
		r.logger.Warn("shared tenant cache read failed", slog.String("error", err.Error()))
		return nil
	}
	if !ok {
		return nil
	}
	var t domain.Tenant
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil
	}
	return &t
}

func (r *Resolver) toShared(ctx context.Context, selector string, t *domain.Tenant) {
	if r.shared == nil {
		return
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return
	}
	if err := r.shared.Set(ctx, sharedKey(selector), raw, r.cacheTTL); err != nil {
		r.logger.Warn("shared tenant cache write failed", slog.String("error", err.Error()))
	}
}

func sharedKey(selector string) string {
	return "tenant:" + selector
}
