package tenant

import (
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/yourorg/cliniccore/pkg/database"
)

// ResourceActions declares the allowed actions for one application
// resource. The catalog is the single source of truth for permission names;
// growing it and re-running seeding backfills every tenant.
type ResourceActions struct {
	Resource string
	Actions  []string
}

// Catalog is the fixed permission catalog, seeded into every tenant schema.
var Catalog = []ResourceActions{
	{Resource: "pets", Actions: []string{"create", "read", "update", "delete"}},
	{Resource: "owners", Actions: []string{"create", "read", "update", "delete"}},
	{Resource: "appointments", Actions: []string{"create", "read", "update", "delete"}},
	{Resource: "exams", Actions: []string{"create", "read", "update", "delete"}},
	{Resource: "internments", Actions: []string{"create", "read", "update", "delete", "discharge"}},
	{Resource: "prescriptions", Actions: []string{"create", "read", "update", "delete", "dispense"}},
	{Resource: "invoices", Actions: []string{"create", "read", "update", "delete"}},
	{Resource: "billing", Actions: []string{"read", "update"}},
	{Resource: "reports", Actions: []string{"read"}},
	{Resource: "users", Actions: []string{"create", "read", "update", "delete"}},
	{Resource: "roles", Actions: []string{"create", "read", "update", "delete"}},
}

// PermissionName returns the canonical "resource:action" permission name.
func PermissionName(resource, action string) string {
	return resource + ":" + action
}

// DefaultRoles maps each seeded role to the permission names it grants.
// Administrator gets everything; the rest are fixed clinical profiles.
func DefaultRoles() map[string][]string {
	all := make([]string, 0, 64)
	for _, ra := range Catalog {
		for _, action := range ra.Actions {
			all = append(all, PermissionName(ra.Resource, action))
		}
	}

	return map[string][]string{
		"Administrator": all,
		"Veterinarian": {
			"pets:create", "pets:read", "pets:update",
			"owners:read",
			"appointments:read", "appointments:update",
			"exams:create", "exams:read", "exams:update",
			"internments:create", "internments:read", "internments:update", "internments:discharge",
			"prescriptions:create", "prescriptions:read", "prescriptions:update", "prescriptions:dispense",
			"reports:read",
		},
		"Receptionist": {
			"pets:create", "pets:read", "pets:update",
			"owners:create", "owners:read", "owners:update",
			"appointments:create", "appointments:read", "appointments:update", "appointments:delete",
			"invoices:create", "invoices:read",
		},
		"Manager": {
			"pets:read", "owners:read", "appointments:read", "exams:read",
			"internments:read", "prescriptions:read",
			"invoices:create", "invoices:read", "invoices:update",
			"billing:read", "billing:update",
			"reports:read", "users:read",
		},
	}
}

// SeedPermissions inserts every catalog permission missing from the bound
// schema and returns how many rows it created. Existing rows are skipped,
// so running it repeatedly (provisioning, catalog growth, the background
// sweep) never duplicates a permission.
func SeedPermissions(ctx context.Context, q database.Querier) (int, error) {
	created := 0
	for _, ra := range Catalog {
		for _, action := range ra.Actions {
			name := PermissionName(ra.Resource, action)
			res, err := q.ExecContext(ctx, `
				INSERT INTO permissions (id, name, resource, action)
				VALUES ($1, $2, $3, $4)
				ON CONFLICT (name) DO NOTHING
			`, uuid.NewString(), name, ra.Resource, action)
			if err != nil {
				return created, fmt.Errorf("failed to seed permission %s: %w", name, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return created, fmt.Errorf("failed to count seeded rows: %w", err)
			}
			created += int(n)
		}
	}
	return created, nil
}

// SeedRoles creates the default roles in the bound schema and grants each
// its permission set. Like SeedPermissions it is safe to re-run: roles and
// grants that already exist are left alone.
func SeedRoles(ctx context.Context, q database.Querier) error {
	defaults := DefaultRoles()
	names := make([]string, 0, len(defaults))
	for name := range defaults {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		perms := defaults[name]
		if _, err := q.ExecContext(ctx, `
			INSERT INTO roles (id, name, description, is_system)
			VALUES ($1, $2, $3, true)
			ON CONFLICT (name) DO NOTHING
		`, uuid.NewString(), name, name+" role"); err != nil {
			return fmt.Errorf("failed to seed role %s: %w", name, err)
		}

		for _, perm := range perms {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO role_permissions (role_id, permission_id)
				SELECT r.id, p.id FROM roles r, permissions p
				WHERE r.name = $1 AND p.name = $2
				ON CONFLICT DO NOTHING
			`, name, perm); err != nil {
				return fmt.Errorf("failed to grant %s to %s: %w", perm, name, err)
			}
		}
	}
	return nil
}
