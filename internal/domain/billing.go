package domain

import (
	"context"
	"time"
)

// SubscriptionStatus is the billing state of a tenant's subscription.
type SubscriptionStatus string

const (
	SubscriptionTrialing  SubscriptionStatus = "trialing"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

// Plan is a billing plan. Plans are global rows seeded by migration.
type Plan struct {
	ID         string
	Slug       string // "free", "basic", "pro"
	Name       string
	PriceCents int
	TrialDays  int // 0 means no trial period
	MaxUsers   int
	MaxRecords int
	CreatedAt  time.Time
}

// Subscription binds a tenant to a plan for a billing period. Created at
// provisioning time, mutated by billing webhooks (out of scope here).
type Subscription struct {
	ID                 string
	TenantID           string
	PlanID             string
	Status             SubscriptionStatus
	TrialEndsAt        *time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// UsageTracking snapshots a tenant's resource consumption for one billing
// period.
type UsageTracking struct {
	ID          string
	TenantID    string
	PeriodStart time.Time
	PeriodEnd   time.Time
	UserCount   int
	RecordCount int
	PeakUsers   int
	UpdatedAt   time.Time
}

// BillingRepository defines data access for global billing rows.
type BillingRepository interface {
	PlanBySlug(ctx context.Context, slug string) (*Plan, error)
	SubscriptionByTenant(ctx context.Context, tenantID string) (*Subscription, error)
	UpdateUsage(ctx context.Context, tenantID string, userCount int) error
}
