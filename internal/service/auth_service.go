package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/infrastructure/redis"
	"github.com/yourorg/cliniccore/internal/observability/metrics"
	"github.com/yourorg/cliniccore/internal/security/audit"
	"github.com/yourorg/cliniccore/internal/security/auth"
)

// dummyHash is compared against when no user row exists so the login path
// costs one bcrypt verification regardless of whether the email resolved.
var dummyHash = []byte("$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy")

const denylistPrefix = "denylist:"

// AuthService implements the tenant-bound authentication flows: login,
// token refresh, logout and per-request validation. Every failure on the
// login path collapses into ErrInvalidCredentials; every failure on the
// token path collapses into ErrUnauthorized, except the cross-tenant
// mismatch which is reported as such.
type AuthService struct {
	directory domain.DirectoryRepository
	tenants   domain.TenantRepository
	users     domain.UserStores
	tokens    *auth.TokenManager
	denylist  *redis.Client
	audit     *audit.Logger
	logger    *slog.Logger
}

func NewAuthService(
	directory domain.DirectoryRepository,
	tenants domain.TenantRepository,
	users domain.UserStores,
	tokens *auth.TokenManager,
	denylist *redis.Client,
	auditLogger *audit.Logger,
	logger *slog.Logger,
) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		directory: directory,
		tenants:   tenants,
		users:     users,
		tokens:    tokens,
		denylist:  denylist,
		audit:     auditLogger,
		logger:    logger,
	}
}

// LoginResult is returned on successful authentication.
type LoginResult struct {
	User   *domain.User
	Tenant *domain.Tenant
	Roles  []string
	Tokens *auth.TokenPair
}

// Login authenticates by email and password alone. The tenant is looked up
// through the directory; clients never declare it. Any failure, including
// an unknown email or a suspended tenant, returns ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	entry, err := s.directory.Resolve(ctx, email)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, s.loginFailed(ctx, "", "unknown_email", err)
	}

	tenant, err := s.tenants.GetByID(ctx, entry.TenantID)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, s.loginFailed(ctx, entry.TenantID, "tenant_lookup", err)
	}
	if !tenant.Resolvable() {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, s.loginFailed(ctx, tenant.ID, "tenant_inactive", nil)
	}

	session, err := s.users.Open(ctx, entry.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant session: %w", err)
	}
	defer session.Close(ctx)

	user, err := session.GetByEmail(ctx, email)
	if err != nil {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, s.loginFailed(ctx, tenant.ID, "unknown_user", err)
	}
	if !user.IsActive {
		bcrypt.CompareHashAndPassword(dummyHash, []byte(password))
		return nil, s.loginFailed(ctx, tenant.ID, "user_inactive", nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, s.loginFailed(ctx, tenant.ID, "bad_password", nil)
	}
	if user.TenantID != tenant.ID {
		// Directory and schema disagree about ownership. Treat as a failed
		// login but log loudly: this indicates registry corruption.
		s.logger.Error("user tenant mismatch inside tenant schema",
			slog.String("user_id", user.ID),
			slog.String("schema_tenant", tenant.ID),
			slog.String("user_tenant", user.TenantID),
		)
		return nil, s.loginFailed(ctx, tenant.ID, "ownership_mismatch", nil)
	}

	pair, err := s.tokens.GeneratePair(user, tenant.Slug)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	if err := session.SetRefreshTokenHash(ctx, user.ID, hashToken(pair.RefreshToken)); err != nil {
		return nil, fmt.Errorf("failed to store refresh token: %w", err)
	}

	roles, err := session.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	s.audit.LogLogin(ctx, tenant.ID, user.ID, "success")
	metrics.ObserveAuth("login", "success")

	return &LoginResult{User: user, Tenant: tenant, Roles: roles, Tokens: pair}, nil
}

// Authenticate validates an access token for a request: signature, expiry,
// denylist, then the user row itself through a session bound to the token's
// schema (the user must exist, be active, and still belong to the token's
// tenant). When the request also declared a tenant (header or path), the
// declaration must match the token's tenant; a mismatch is the one failure
// reported distinctly.
func (s *AuthService) Authenticate(ctx context.Context, tokenString string, declared *domain.Tenant) (*auth.Principal, error) {
	claims, err := s.tokens.ValidateAccess(tokenString)
	if err != nil {
		metrics.ObserveAuth("validate", "invalid")
		return nil, domain.ErrUnauthorized
	}

	if s.denylist != nil {
		revoked, err := s.denylist.Exists(ctx, denylistPrefix+claims.ID)
		if err != nil {
			s.logger.Warn("denylist check failed", slog.String("error", err.Error()))
		} else if revoked {
			metrics.ObserveAuth("validate", "revoked")
			return nil, domain.ErrUnauthorized
		}
	}

	if declared != nil && declared.ID != claims.TenantID {
		s.audit.LogDenied(ctx, claims.TenantID, claims.UserID, "declared tenant does not match token")
		metrics.ObserveAuth("validate", "tenant_mismatch")
		return nil, domain.ErrTenantMismatch
	}

	// The token alone is not trusted: every request re-reads the user row
	// through a session bound to the token's schema. A user deactivated or
	// reassigned after issuance is cut off here, not at the next refresh.
	tenant, err := s.tenants.GetByID(ctx, claims.TenantID)
	if err != nil || !tenant.Resolvable() {
		metrics.ObserveAuth("validate", "tenant_inactive")
		return nil, domain.ErrUnauthorized
	}

	session, err := s.users.Open(ctx, tenant.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant session: %w", err)
	}
	defer session.Close(ctx)

	user, err := session.GetByID(ctx, claims.UserID)
	if err != nil || !user.IsActive {
		metrics.ObserveAuth("validate", "user_invalid")
		return nil, domain.ErrUnauthorized
	}
	if user.TenantID != claims.TenantID {
		s.logger.Error("user tenant mismatch inside tenant schema",
			slog.String("user_id", user.ID),
			slog.String("token_tenant", claims.TenantID),
			slog.String("user_tenant", user.TenantID),
		)
		metrics.ObserveAuth("validate", "ownership_mismatch")
		return nil, domain.ErrUnauthorized
	}

	metrics.ObserveAuth("validate", "success")
	return &auth.Principal{
		UserID:     claims.UserID,
		Email:      claims.Email,
		TenantID:   claims.TenantID,
		TenantSlug: claims.TenantSlug,
		TokenID:    claims.ID,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}

// Refresh exchanges a valid refresh token for a new token pair. The stored
// hash must match; a stale or replayed token is rejected and, because the
// hash rotates on every refresh, only the most recently issued refresh
// token is ever accepted.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	claims, err := s.tokens.ValidateRefresh(refreshToken)
	if err != nil {
		metrics.ObserveAuth("refresh", "invalid")
		return nil, domain.ErrUnauthorized
	}

	tenant, err := s.tenants.GetByID(ctx, claims.TenantID)
	if err != nil || !tenant.Resolvable() {
		metrics.ObserveAuth("refresh", "tenant_inactive")
		return nil, domain.ErrUnauthorized
	}

	session, err := s.users.Open(ctx, tenant.SchemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to open tenant session: %w", err)
	}
	defer session.Close(ctx)

	user, err := session.GetByID(ctx, claims.UserID)
	if err != nil || !user.IsActive || user.TenantID != tenant.ID {
		metrics.ObserveAuth("refresh", "user_invalid")
		return nil, domain.ErrUnauthorized
	}

	if user.RefreshTokenHash == "" || subtle.ConstantTimeCompare(
		[]byte(user.RefreshTokenHash), []byte(hashToken(refreshToken))) != 1 {
		s.audit.LogTokenRefresh(ctx, tenant.ID, user.ID, "rejected")
		metrics.ObserveAuth("refresh", "stale_token")
		return nil, domain.ErrUnauthorized
	}

	pair, err := s.tokens.GeneratePair(user, tenant.Slug)
	if err != nil {
		return nil, fmt.Errorf("failed to issue tokens: %w", err)
	}
	if err := session.SetRefreshTokenHash(ctx, user.ID, hashToken(pair.RefreshToken)); err != nil {
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	roles, err := session.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load roles: %w", err)
	}

	s.audit.LogTokenRefresh(ctx, tenant.ID, user.ID, "success")
	metrics.ObserveAuth("refresh", "success")

	return &LoginResult{User: user, Tenant: tenant, Roles: roles, Tokens: pair}, nil
}

// Logout revokes the caller's session: the stored refresh token hash is
// cleared and the access token's JTI is denylisted for its remaining
// lifetime.
func (s *AuthService) Logout(ctx context.Context, principal *auth.Principal) error {
	tenant, err := s.tenants.GetByID(ctx, principal.TenantID)
	if err != nil {
		return fmt.Errorf("failed to resolve tenant: %w", err)
	}

	session, err := s.users.Open(ctx, tenant.SchemaName)
	if err != nil {
		return fmt.Errorf("failed to open tenant session: %w", err)
	}
	defer session.Close(ctx)

	if err := session.ClearRefreshTokenHash(ctx, principal.UserID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}

	if s.denylist != nil {
		ttl := time.Until(principal.ExpiresAt)
		if ttl > 0 {
			if err := s.denylist.Set(ctx, denylistPrefix+principal.TokenID, "1", ttl); err != nil {
				s.logger.Warn("failed to denylist token", slog.String("error", err.Error()))
			}
		}
	}

	s.audit.LogLogout(ctx, principal.TenantID, principal.UserID)
	metrics.ObserveAuth("logout", "success")
	return nil
}

// Profile loads the current user's profile and roles through a
// schema-bound session.
func (s *AuthService) Profile(ctx context.Context, principal *auth.Principal) (*domain.User, []string, error) {
	tenant, err := s.tenants.GetByID(ctx, principal.TenantID)
	if err != nil {
		return nil, nil, domain.ErrUnauthorized
	}

	session, err := s.users.Open(ctx, tenant.SchemaName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open tenant session: %w", err)
	}
	defer session.Close(ctx)

	user, err := session.GetByID(ctx, principal.UserID)
	if err != nil {
		return nil, nil, domain.ErrUnauthorized
	}
	roles, err := session.RoleNames(ctx, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load roles: %w", err)
	}
	return user, roles, nil
}

func (s *AuthService) loginFailed(ctx context.Context, tenantID, reason string, cause error) error {
	attrs := []any{slog.String("reason", reason)}
	if cause != nil {
		attrs = append(attrs, slog.String("error", cause.Error()))
	}
	s.logger.Debug("login rejected", attrs...)
	s.audit.LogLogin(ctx, tenantID, "", "failure")
	metrics.ObserveAuth("login", "failure")
	return domain.ErrInvalidCredentials
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
