package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/observability/metrics"
	"github.com/yourorg/cliniccore/internal/tenant"
	"github.com/yourorg/cliniccore/pkg/database"
)

// TenantSweeper periodically walks every tenant schema to backfill the
// permission catalog (so growing the catalog reaches existing tenants
// without a migration) and to refresh per-tenant usage counters for
// billing. One tenant failing does not stop the sweep.
type TenantSweeper struct {
	pool     *database.Pool
	tenants  domain.TenantRepository
	billing  domain.BillingRepository
	interval time.Duration
	logger   *slog.Logger
}

func NewTenantSweeper(
	pool *database.Pool,
	tenants domain.TenantRepository,
	billing domain.BillingRepository,
	interval time.Duration,
	logger *slog.Logger,
) *TenantSweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &TenantSweeper{
		pool:     pool,
		tenants:  tenants,
		billing:  billing,
		interval: interval,
		logger:   logger,
	}
}

// Start runs the sweep loop until the context is cancelled. An immediate
// first sweep runs on startup so catalog drift is fixed without waiting a
// full interval.
func (s *TenantSweeper) Start(ctx context.Context) {
	s.logger.Info("tenant sweeper started", slog.Duration("interval", s.interval))

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("tenant sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *TenantSweeper) sweep(ctx context.Context) {
	start := time.Now()

	tenants, err := s.tenants.List(ctx)
	if err != nil {
		s.logger.Error("sweep: failed to list tenants", slog.String("error", err.Error()))
		metrics.SweepRuns.WithLabelValues("error").Inc()
		return
	}

	active := 0
	failed := 0
	for _, t := range tenants {
		if !t.Resolvable() {
			continue
		}
		active++
		if err := s.sweepTenant(ctx, t); err != nil {
			failed++
			s.logger.Error("sweep: tenant failed",
				slog.String("tenant_id", t.ID),
				slog.String("slug", t.Slug),
				slog.String("error", err.Error()),
			)
		}
	}

	metrics.ActiveTenants.Set(float64(active))
	result := "success"
	if failed > 0 {
		result = "partial"
	}
	metrics.SweepRuns.WithLabelValues(result).Inc()

	s.logger.Info("tenant sweep completed",
		slog.Int("tenants", active),
		slog.Int("failed", failed),
		slog.Duration("duration", time.Since(start)),
	)
}

func (s *TenantSweeper) sweepTenant(ctx context.Context, t *domain.Tenant) error {
	conn, err := s.pool.AcquireTenant(ctx, t.SchemaName)
	if err != nil {
		return err
	}
	defer conn.Release(ctx)

	created, err := tenant.SeedPermissions(ctx, conn)
	if err != nil {
		return err
	}
	if created > 0 {
		s.logger.Info("sweep: backfilled permissions",
			slog.String("tenant_id", t.ID),
			slog.Int("created", created),
		)
		if err := tenant.SeedRoles(ctx, conn); err != nil {
			return err
		}
	}

	var users int
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE is_active = true`).Scan(&users); err != nil {
		return err
	}
	return s.billing.UpdateUsage(ctx, t.ID, users)
}
