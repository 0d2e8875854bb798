package domain

import "errors"

// Sentinel errors. Handlers map these onto HTTP statuses; anything not
// listed here is treated as an internal error.
var (
	ErrNotFound = errors.New("not found")

	// Authentication failures. All login-path failures collapse into
	// ErrInvalidCredentials and all token-validation failures into
	// ErrUnauthorized so the caller cannot distinguish causes.
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnauthorized       = errors.New("unauthorized")

	// ErrTenantMismatch is the one distinguishable auth failure: the caller
	// explicitly declared a tenant that does not match the token's tenant.
	ErrTenantMismatch = errors.New("access denied: token belongs to a different tenant")

	// Tenant resolution failures.
	ErrTenantNotSpecified = errors.New("tenant not specified")
	ErrTenantNotFound     = errors.New("tenant not found or inactive")

	// Provisioning conflicts. Safe to surface in detail: they occur
	// pre-authentication at signup only.
	ErrSlugTaken       = errors.New("tenant slug already in use")
	ErrSlugExhausted   = errors.New("could not allocate a unique tenant slug")
	ErrEmailRegistered = errors.New("email already registered to a tenant")
	ErrPlanNotFound    = errors.New("billing plan not found")
)
