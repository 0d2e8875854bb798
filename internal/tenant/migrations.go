package tenant

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/yourorg/cliniccore/pkg/database"
)

// Migration is one versioned schema change. Statements use CREATE ... IF
// NOT EXISTS so a partially applied migration can be retried.
type Migration struct {
	Version    int
	Name       string
	Statements []string
}

// globalMigrations build the shared (public-schema) tables: the tenant
// registry, the directory, and the billing tables. Applied once at startup.
var globalMigrations = []Migration{
	{
		Version: 1,
		Name:    "tenant_registry",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS tenants (
				id UUID PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				schema_name TEXT NOT NULL UNIQUE,
				status TEXT NOT NULL DEFAULT 'active',
				max_users INT NOT NULL DEFAULT 5,
				max_records INT NOT NULL DEFAULT 1000,
				trial_ends_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS tenant_directory (
				email TEXT PRIMARY KEY,
				tenant_id UUID NOT NULL REFERENCES tenants(id),
				schema_name TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
	{
		Version: 2,
		Name:    "billing",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS plans (
				id UUID PRIMARY KEY,
				slug TEXT NOT NULL UNIQUE,
				name TEXT NOT NULL,
				price_cents INT NOT NULL DEFAULT 0,
				trial_days INT NOT NULL DEFAULT 0,
				max_users INT NOT NULL DEFAULT 5,
				max_records INT NOT NULL DEFAULT 1000,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`INSERT INTO plans (id, slug, name, price_cents, trial_days, max_users, max_records) VALUES
				('6b1f8f6e-0000-4000-8000-000000000001', 'free', 'Free', 0, 0, 3, 500),
				('6b1f8f6e-0000-4000-8000-000000000002', 'basic', 'Basic', 2900, 14, 10, 10000),
				('6b1f8f6e-0000-4000-8000-000000000003', 'pro', 'Pro', 9900, 14, 50, 100000)
				ON CONFLICT (slug) DO NOTHING`,
			`CREATE TABLE IF NOT EXISTS subscriptions (
				id UUID PRIMARY KEY,
				tenant_id UUID NOT NULL UNIQUE REFERENCES tenants(id),
				plan_id UUID NOT NULL REFERENCES plans(id),
				status TEXT NOT NULL,
				trial_ends_at TIMESTAMPTZ,
				current_period_start TIMESTAMPTZ NOT NULL,
				current_period_end TIMESTAMPTZ NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS usage_tracking (
				id UUID PRIMARY KEY,
				tenant_id UUID NOT NULL REFERENCES tenants(id),
				period_start TIMESTAMPTZ NOT NULL,
				period_end TIMESTAMPTZ NOT NULL,
				user_count INT NOT NULL DEFAULT 0,
				record_count INT NOT NULL DEFAULT 0,
				peak_users INT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				UNIQUE (tenant_id, period_start)
			)`,
		},
	},
}

// tenantMigrations build one tenant's table set inside its own schema.
// Statements run with search_path bound to the tenant schema, so table
// names are unqualified. The set replaces the pile of ad-hoc repair
// scripts the provisioning flow used to accumulate: fix-ups become new
// versions here.
var tenantMigrations = []Migration{
	{
		Version: 1,
		Name:    "identity",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id UUID PRIMARY KEY,
				email TEXT NOT NULL UNIQUE,
				display_name TEXT NOT NULL DEFAULT '',
				password_hash TEXT NOT NULL,
				tenant_id UUID NOT NULL,
				refresh_token_hash TEXT,
				is_active BOOLEAN NOT NULL DEFAULT true,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS roles (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				description TEXT NOT NULL DEFAULT '',
				is_system BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS permissions (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL UNIQUE,
				resource TEXT NOT NULL,
				action TEXT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS role_permissions (
				role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				permission_id UUID NOT NULL REFERENCES permissions(id) ON DELETE CASCADE,
				PRIMARY KEY (role_id, permission_id)
			)`,
			`CREATE TABLE IF NOT EXISTS user_roles (
				user_id UUID NOT NULL REFERENCES users(id) ON DELETE CASCADE,
				role_id UUID NOT NULL REFERENCES roles(id) ON DELETE CASCADE,
				PRIMARY KEY (user_id, role_id)
			)`,
		},
	},
	{
		Version: 2,
		Name:    "clinic_records",
		Statements: []string{
			`CREATE TABLE IF NOT EXISTS owners (
				id UUID PRIMARY KEY,
				name TEXT NOT NULL,
				email TEXT,
				phone TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS pets (
				id UUID PRIMARY KEY,
				owner_id UUID REFERENCES owners(id),
				name TEXT NOT NULL,
				species TEXT NOT NULL DEFAULT '',
				breed TEXT,
				born_at DATE,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS appointments (
				id UUID PRIMARY KEY,
				pet_id UUID REFERENCES pets(id),
				veterinarian_id UUID REFERENCES users(id),
				scheduled_at TIMESTAMPTZ NOT NULL,
				status TEXT NOT NULL DEFAULT 'scheduled',
				notes TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS exams (
				id UUID PRIMARY KEY,
				pet_id UUID REFERENCES pets(id),
				requested_by UUID REFERENCES users(id),
				kind TEXT NOT NULL,
				result TEXT,
				performed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS internments (
				id UUID PRIMARY KEY,
				pet_id UUID REFERENCES pets(id),
				admitted_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				discharged_at TIMESTAMPTZ,
				reason TEXT,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS prescriptions (
				id UUID PRIMARY KEY,
				pet_id UUID REFERENCES pets(id),
				prescribed_by UUID REFERENCES users(id),
				medication TEXT NOT NULL,
				dosage TEXT,
				dispensed_at TIMESTAMPTZ,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`CREATE TABLE IF NOT EXISTS invoices (
				id UUID PRIMARY KEY,
				owner_id UUID REFERENCES owners(id),
				total_cents INT NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'open',
				issued_at TIMESTAMPTZ NOT NULL DEFAULT now(),
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
		},
	},
}

// ApplyGlobal applies the global migrations against the public schema.
// Called once at startup; every statement is idempotent.
func ApplyGlobal(ctx context.Context, q database.Querier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return apply(ctx, q, globalMigrations, logger)
}

// ApplyTenant applies the per-tenant migrations on a querier whose
// search_path is already bound to the tenant schema (the provisioning
// transaction, or a TenantConn when re-running for repair).
func ApplyTenant(ctx context.Context, q database.Querier, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := q.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INT PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return apply(ctx, q, tenantMigrations, logger)
}

func apply(ctx context.Context, q database.Querier, migrations []Migration, logger *slog.Logger) error {
	for _, m := range migrations {
		var applied bool
		err := q.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version,
		).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if applied {
			continue
		}

		for _, stmt := range m.Statements {
			if _, err := q.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Name, err)
			}
		}
		if _, err := q.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name,
		); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		logger.Info("migration applied",
			slog.Int("version", m.Version),
			slog.String("name", m.Name),
		)
	}
	return nil
}
