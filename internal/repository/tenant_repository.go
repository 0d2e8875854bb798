package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/yourorg/cliniccore/internal/domain"
)

// TenantRepository implements domain.TenantRepository over the global
// public.tenants table.
type TenantRepository struct {
	db *sql.DB
}

func NewTenantRepository(db *sql.DB) *TenantRepository {
	return &TenantRepository{db: db}
}

const tenantColumns = `id, slug, name, schema_name, status, max_users, max_records, trial_ends_at, created_at, updated_at`

func (r *TenantRepository) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM public.tenants WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *TenantRepository) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM public.tenants WHERE slug = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, slug))
}

// GetByIDOrSlug resolves a selector that may be a tenant UUID or a slug.
// UUID-shaped selectors are looked up by ID first; anything else goes
// straight to the slug index.
func (r *TenantRepository) GetByIDOrSlug(ctx context.Context, selector string) (*domain.Tenant, error) {
	if _, err := uuid.Parse(selector); err == nil {
		tenant, err := r.GetByID(ctx, selector)
		if err == nil || !errors.Is(err, domain.ErrNotFound) {
			return tenant, err
		}
	}
	return r.GetBySlug(ctx, selector)
}

func (r *TenantRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM public.tenants WHERE slug = $1)`
	if err := r.db.QueryRowContext(ctx, query, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check slug: %w", err)
	}
	return exists, nil
}

func (r *TenantRepository) UpdateStatus(ctx context.Context, id string, status domain.TenantStatus) error {
	query := `UPDATE public.tenants SET status = $1, updated_at = NOW() WHERE id = $2`
	result, err := r.db.ExecContext(ctx, query, string(status), id)
	if err != nil {
		return fmt.Errorf("failed to update tenant status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *TenantRepository) List(ctx context.Context) ([]*domain.Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM public.tenants ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []*domain.Tenant
	for rows.Next() {
		tenant, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, tenant)
	}
	return tenants, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *TenantRepository) scanOne(row *sql.Row) (*domain.Tenant, error) {
	tenant, err := scanTenant(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tenant, err
}

func scanTenant(row rowScanner) (*domain.Tenant, error) {
	var tenant domain.Tenant
	var status string
	var trialEndsAt sql.NullTime
	err := row.Scan(
		&tenant.ID,
		&tenant.Slug,
		&tenant.Name,
		&tenant.SchemaName,
		&status,
		&tenant.MaxUsers,
		&tenant.MaxRecords,
		&trialEndsAt,
		&tenant.CreatedAt,
		&tenant.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan tenant: %w", err)
	}
	tenant.Status = domain.TenantStatus(status)
	if trialEndsAt.Valid {
		tenant.TrialEndsAt = &trialEndsAt.Time
	}
	return &tenant, nil
}
