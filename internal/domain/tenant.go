package domain

import (
	"context"
	"time"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

const (
	TenantStatusTrial     TenantStatus = "trial"
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusCancelled TenantStatus = "cancelled"
)

// Tenant represents one clinic: an isolated logical data partition.
// Tenant rows live in the global (public) schema and are never deleted,
// only suspended or cancelled.
type Tenant struct {
	ID          string // UUID
	Slug        string // Unique human-readable identifier, e.g. "clinica-vida"
	Name        string // Clinic display name
	SchemaName  string // Postgres schema owning this tenant's tables
	Status      TenantStatus
	MaxUsers    int
	MaxRecords  int
	TrialEndsAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Resolvable reports whether requests may be served for this tenant.
func (t *Tenant) Resolvable() bool {
	return t.Status == TenantStatusActive
}

// TenantRepository defines data access for the global tenant registry.
type TenantRepository interface {
	GetByID(ctx context.Context, id string) (*Tenant, error)
	GetBySlug(ctx context.Context, slug string) (*Tenant, error)
	// GetByIDOrSlug resolves a request selector that may be either form.
	GetByIDOrSlug(ctx context.Context, selector string) (*Tenant, error)
	SlugExists(ctx context.Context, slug string) (bool, error)
	UpdateStatus(ctx context.Context, id string, status TenantStatus) error
	List(ctx context.Context) ([]*Tenant, error)
}

// DirectoryEntry maps a login email to the tenant that owns it. The
// directory is the only cross-tenant lookup in the system: login never
// accepts a tenant identifier from the client.
type DirectoryEntry struct {
	Email      string
	TenantID   string
	SchemaName string
	UpdatedAt  time.Time
}

// DirectoryRepository defines data access for the tenant directory.
type DirectoryRepository interface {
	// Resolve returns the entry for an email, or ErrNotFound.
	Resolve(ctx context.Context, email string) (*DirectoryEntry, error)
	Exists(ctx context.Context, email string) (bool, error)
}
