package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/yourorg/cliniccore/internal/domain"
)

// BillingRepository implements domain.BillingRepository over the global
// plans, subscriptions and usage_tracking tables.
type BillingRepository struct {
	db *sql.DB
}

func NewBillingRepository(db *sql.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

func (r *BillingRepository) PlanBySlug(ctx context.Context, slug string) (*domain.Plan, error) {
	query := `SELECT id, slug, name, price_cents, trial_days, max_users, max_records, created_at
	          FROM public.plans WHERE slug = $1`
	var plan domain.Plan
	err := r.db.QueryRowContext(ctx, query, slug).Scan(
		&plan.ID,
		&plan.Slug,
		&plan.Name,
		&plan.PriceCents,
		&plan.TrialDays,
		&plan.MaxUsers,
		&plan.MaxRecords,
		&plan.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrPlanNotFound
		}
		return nil, fmt.Errorf("failed to get plan: %w", err)
	}
	return &plan, nil
}

func (r *BillingRepository) SubscriptionByTenant(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	query := `SELECT id, tenant_id, plan_id, status, trial_ends_at, current_period_start, current_period_end, created_at, updated_at
	          FROM public.subscriptions WHERE tenant_id = $1
	          ORDER BY created_at DESC LIMIT 1`
	var sub domain.Subscription
	var status string
	var trialEndsAt sql.NullTime
	err := r.db.QueryRowContext(ctx, query, tenantID).Scan(
		&sub.ID,
		&sub.TenantID,
		&sub.PlanID,
		&status,
		&trialEndsAt,
		&sub.CurrentPeriodStart,
		&sub.CurrentPeriodEnd,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatus(status)
	if trialEndsAt.Valid {
		sub.TrialEndsAt = &trialEndsAt.Time
	}
	return &sub, nil
}

// UpdateUsage refreshes the current-period user count for a tenant and
// raises the peak watermark when the new count exceeds it.
func (r *BillingRepository) UpdateUsage(ctx context.Context, tenantID string, userCount int) error {
	query := `UPDATE public.usage_tracking
	          SET user_count = $1,
	              peak_users = GREATEST(peak_users, $1),
	              updated_at = NOW()
	          WHERE tenant_id = $2 AND period_end > NOW()`
	if _, err := r.db.ExecContext(ctx, query, userCount, tenantID); err != nil {
		return fmt.Errorf("failed to update usage: %w", err)
	}
	return nil
}
