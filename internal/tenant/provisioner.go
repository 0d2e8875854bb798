package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/observability/metrics"
	"github.com/yourorg/cliniccore/internal/reliability/retry"
	"github.com/yourorg/cliniccore/internal/repository"
	"github.com/yourorg/cliniccore/internal/security/audit"
	"github.com/yourorg/cliniccore/pkg/database"
)

// Provisioner bootstraps a complete tenant data space: registry row,
// schema, table set, RBAC seed, admin user, directory entry, subscription
// and usage baseline. Everything runs in one serializable transaction, so
// a half-provisioned tenant is never visible to the resolver or the
// directory.
type Provisioner struct {
	db         *sql.DB
	logger     *slog.Logger
	audit      *audit.Logger
	bcryptCost int
	retryCfg   *retry.Config
}

// ProvisionRequest carries the inputs for a new tenant.
type ProvisionRequest struct {
	Slug             string // Optional; derived from ClinicName when empty
	ClinicName       string
	AdminEmail       string
	AdminSecret      string
	AdminDisplayName string
	PlanSlug         string // Optional; defaults to DefaultPlanSlug
}

// DefaultPlanSlug is used when a provisioning request names no plan.
const DefaultPlanSlug = "free"

// ProvisionResult describes the tenant that was created.
type ProvisionResult struct {
	TenantID           string
	Slug               string
	SchemaName         string
	AdminUserID        string
	SubscriptionStatus domain.SubscriptionStatus
	TrialEndsAt        *time.Time
}

// NewProvisioner creates a provisioner.
func NewProvisioner(db *sql.DB, auditLog *audit.Logger, logger *slog.Logger) *Provisioner {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := retry.DefaultConfig()
	cfg.IsRetryable = isSerializationFailure
	return &Provisioner{
		db:         db,
		logger:     logger,
		audit:      auditLog,
		bcryptCost: bcrypt.DefaultCost,
		retryCfg:   cfg,
	}
}

// Provision creates a new tenant. Conflicts (taken slug, email already
// owned by a tenant, unknown plan) surface as the corresponding domain
// errors; any other failure rolls the whole attempt back. Serialization
// races between concurrent provisioning calls are retried; the loser of a
// slug or email race gets a conflict, never a second tenant.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (*ProvisionResult, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(req.AdminSecret), p.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash admin secret: %w", err)
	}

	start := time.Now()
	result, err := retry.Do(ctx, p.retryCfg, p.logger, "provision_tenant",
		func(ctx context.Context) (*ProvisionResult, error) {
			return p.provisionOnce(ctx, req, string(passwordHash))
		})
	if err != nil {
		metrics.ObserveProvision("error", time.Since(start))
		p.logger.Error("tenant provisioning failed",
			slog.String("slug", req.Slug),
			slog.String("clinic", req.ClinicName),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	metrics.ObserveProvision("success", time.Since(start))
	if p.audit != nil {
		p.audit.LogProvisioning(ctx, result.TenantID, result.AdminUserID, result.Slug, "created", "")
	}
	p.logger.Info("tenant provisioned",
		slog.String("tenant_id", result.TenantID),
		slog.String("slug", result.Slug),
		slog.String("schema", result.SchemaName),
	)
	return result, nil
}

func (p *Provisioner) provisionOnce(ctx context.Context, req ProvisionRequest, passwordHash string) (*ProvisionResult, error) {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Step 1: allocate the slug.
	slug, err := allocateSlug(ctx, req.Slug, req.ClinicName, func(ctx context.Context, s string) (bool, error) {
		var exists bool
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM public.tenants WHERE slug = $1)`, s,
		).Scan(&exists)
		return exists, err
	})
	if err != nil {
		return nil, err
	}

	// Step 2: the admin email must not belong to any tenant yet.
	var emailTaken bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM public.tenant_directory WHERE email = $1)`, req.AdminEmail,
	).Scan(&emailTaken); err != nil {
		return nil, fmt.Errorf("failed to check directory: %w", err)
	}
	if emailTaken {
		return nil, domain.ErrEmailRegistered
	}

	// Step 3: resolve the billing plan.
	plan := domain.Plan{}
	err = tx.QueryRowContext(ctx,
		`SELECT id, slug, name, price_cents, trial_days, max_users, max_records
		 FROM public.plans WHERE slug = $1`, req.PlanSlug,
	).Scan(&plan.ID, &plan.Slug, &plan.Name, &plan.PriceCents, &plan.TrialDays, &plan.MaxUsers, &plan.MaxRecords)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrPlanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve plan: %w", err)
	}

	schemaName := SchemaNameForSlug(slug)
	if !database.ValidSchemaName(schemaName) {
		return nil, fmt.Errorf("%w: derived schema name %q is invalid", domain.ErrSlugTaken, schemaName)
	}

	now := time.Now().UTC()
	var trialEndsAt *time.Time
	if plan.TrialDays > 0 {
		t := now.AddDate(0, 0, plan.TrialDays)
		trialEndsAt = &t
	}

	// Step 4: registry row plus the schema itself. CREATE SCHEMA is
	// deliberately not IF NOT EXISTS: a concurrent winner must make this
	// attempt fail and roll back.
	tenantID := uuid.NewString()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO public.tenants (id, slug, name, schema_name, status, max_users, max_records, trial_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, tenantID, slug, req.ClinicName, schemaName, domain.TenantStatusActive, plan.MaxUsers, plan.MaxRecords, trialEndsAt); err != nil {
		return nil, mapConflict(err, domain.ErrSlugTaken, "failed to create tenant row")
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE SCHEMA %q`, schemaName)); err != nil {
		return nil, mapConflict(err, domain.ErrSlugTaken, "failed to create schema")
	}

	// Bind the transaction to the new schema. SET LOCAL dies with the
	// transaction, so the connection goes back to the pool unbound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`SET LOCAL search_path TO %q, public`, schemaName)); err != nil {
		return nil, fmt.Errorf("failed to bind new schema: %w", err)
	}

	// Step 5: the tenant's table set. Idempotent, tolerates partial retries.
	if err := ApplyTenant(ctx, tx, p.logger); err != nil {
		return nil, err
	}

	// Step 6: permission catalog and default roles.
	if _, err := SeedPermissions(ctx, tx); err != nil {
		return nil, err
	}
	if err := SeedRoles(ctx, tx); err != nil {
		return nil, err
	}

	// Step 7: administrator user with the Administrator role. The user
	// store runs on the transaction, which is bound to the new schema.
	users := repository.NewUserStore(tx)
	admin := &domain.User{
		Email:        req.AdminEmail,
		DisplayName:  req.AdminDisplayName,
		PasswordHash: passwordHash,
		TenantID:     tenantID,
		IsActive:     true,
	}
	if err := users.Create(ctx, admin); err != nil {
		return nil, fmt.Errorf("failed to create admin user: %w", err)
	}
	if err := users.AssignRole(ctx, admin.ID, "Administrator"); err != nil {
		return nil, fmt.Errorf("failed to assign admin role: %w", err)
	}
	adminID := admin.ID

	// Step 8: directory entry. Upsert: re-provisioning under the same
	// email reassigns ownership instead of erroring.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO public.tenant_directory (email, tenant_id, schema_name, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (email) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id, schema_name = EXCLUDED.schema_name, updated_at = now()
	`, req.AdminEmail, tenantID, schemaName); err != nil {
		return nil, fmt.Errorf("failed to register directory entry: %w", err)
	}

	// Step 9: subscription with the first billing period.
	subStatus := domain.SubscriptionActive
	if plan.TrialDays > 0 {
		subStatus = domain.SubscriptionTrialing
	}
	periodEnd := now.AddDate(0, 1, 0)
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO public.subscriptions (id, tenant_id, plan_id, status, trial_ends_at, current_period_start, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), tenantID, plan.ID, subStatus, trialEndsAt, now, periodEnd); err != nil {
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	// Step 10: usage baseline for the current period: the admin user.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO public.usage_tracking (id, tenant_id, period_start, period_end, user_count, record_count, peak_users)
		VALUES ($1, $2, $3, $4, 1, 0, 1)
	`, uuid.NewString(), tenantID, now, periodEnd); err != nil {
		return nil, fmt.Errorf("failed to create usage record: %w", err)
	}

	// Step 11: commit. Only now does the tenant become visible.
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit provisioning: %w", err)
	}

	return &ProvisionResult{
		TenantID:           tenantID,
		Slug:               slug,
		SchemaName:         schemaName,
		AdminUserID:        adminID,
		SubscriptionStatus: subStatus,
		TrialEndsAt:        trialEndsAt,
	}, nil
}

func validateRequest(req *ProvisionRequest) error {
	if req.ClinicName == "" && req.Slug == "" {
		return errors.New("clinicName or tenantSlug is required")
	}
	if req.ClinicName == "" {
		req.ClinicName = req.Slug
	}
	req.AdminEmail = strings.ToLower(strings.TrimSpace(req.AdminEmail))
	if req.AdminEmail == "" || !strings.Contains(req.AdminEmail, "@") {
		return errors.New("a valid adminEmail is required")
	}
	if len(req.AdminSecret) < 8 {
		return errors.New("adminSecret must be at least 8 characters")
	}
	if req.AdminDisplayName == "" {
		req.AdminDisplayName = req.AdminEmail
	}
	if req.PlanSlug == "" {
		req.PlanSlug = DefaultPlanSlug
	}
	return nil
}

// mapConflict converts Postgres uniqueness and duplicate-schema errors
// into the given conflict sentinel; everything else is wrapped as-is.
func mapConflict(err error, conflict error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505", "42P06": // unique_violation, duplicate_schema
			return conflict
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// isSerializationFailure reports whether the transaction lost a
// serializable-isolation race and is worth retrying.
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}
