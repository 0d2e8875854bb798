package auth

import "time"

// Principal is the authenticated caller attached to a request context
// after token validation. It carries the tenant binding from the token,
// not from anything the client declared.
type Principal struct {
	UserID     string
	Email      string
	TenantID   string
	TenantSlug string
	TokenID    string // JTI, used for denylisting on logout
	ExpiresAt  time.Time
}
