package domain

import (
	"context"
	"time"
)

// User represents a clinic staff member. User rows live inside the owning
// tenant's schema; TenantID is a denormalized copy of the owner used for
// defense-in-depth checks even when the row is fetched through a bound
// connection.
type User struct {
	ID               string // UUID
	Email            string // Unique within the tenant schema
	DisplayName      string
	PasswordHash     string // Bcrypt hash, never returned in API responses
	TenantID         string // Must always equal the schema owner's tenant ID
	RefreshTokenHash string // SHA-256 of the one valid refresh token, empty if none
	IsActive         bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// UserStore is the namespace-scoped user access surface. Every
// implementation is bound to exactly one tenant schema; there is no way to
// address another tenant's users through it.
type UserStore interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	RoleNames(ctx context.Context, userID string) ([]string, error)
	AssignRole(ctx context.Context, userID, roleName string) error
	SetRefreshTokenHash(ctx context.Context, userID, hash string) error
	ClearRefreshTokenHash(ctx context.Context, userID string) error
	CountActive(ctx context.Context) (int, error)
}

// UserStoreSession is a UserStore holding a dedicated schema-bound
// connection. Close must be called before the end of the request so the
// connection's binding is reset before it returns to the pool.
type UserStoreSession interface {
	UserStore
	Close(ctx context.Context) error
}

// UserStores opens schema-bound user store sessions.
type UserStores interface {
	Open(ctx context.Context, schemaName string) (UserStoreSession, error)
}

// Role is a named set of permissions, scoped to one tenant schema.
type Role struct {
	ID          string
	Name        string
	Description string
	IsSystem    bool // Seeded at provisioning time, not user-editable
	CreatedAt   time.Time
}

// Permission is a (resource, action) pair with the canonical name
// "resource:action", scoped to one tenant schema.
type Permission struct {
	ID        string
	Name      string
	Resource  string
	Action    string
	CreatedAt time.Time
}
