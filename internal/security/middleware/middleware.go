package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/security/auth"
	"github.com/yourorg/cliniccore/internal/security/ratelimit"
	"github.com/yourorg/cliniccore/internal/tenant"
)

type contextKey string

const (
	tenantContextKey    contextKey = "tenant"
	principalContextKey contextKey = "principal"
)

// TenantFromContext returns the tenant the request declared, if any.
func TenantFromContext(ctx context.Context) (*domain.Tenant, bool) {
	t, ok := ctx.Value(tenantContextKey).(*domain.Tenant)
	return t, ok
}

// PrincipalFromContext returns the authenticated caller.
func PrincipalFromContext(ctx context.Context) (*auth.Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*auth.Principal)
	return p, ok
}

// TenantHeader is the header through which a client declares which tenant
// it is talking to.
const TenantHeader = "X-Tenant-ID"

// tenantExemptPaths are served without a tenant declaration: health and
// metrics endpoints, the pre-authentication auth endpoints (the directory
// picks the tenant there), signup, and the public slug-availability check.
// Operator endpoints under /api/admin/ are exempt too; they address
// tenants by path, not by header.
var tenantExemptPaths = map[string]bool{
	"/healthz":          true,
	"/readyz":           true,
	"/metrics":          true,
	"/api/auth/login":   true,
	"/api/auth/refresh": true,
	"/api/signup":       true,
}

func tenantExempt(path string) bool {
	if tenantExemptPaths[path] {
		return true
	}
	if strings.HasPrefix(path, "/api/admin/") {
		return true
	}
	if strings.HasPrefix(path, "/api/tenants/") && strings.HasSuffix(path, "/exists") {
		return true
	}
	return false
}

// TenantContext resolves the tenant a request declares via the X-Tenant-ID
// header (ID or slug) and attaches it to the context. Outside the exempt
// set a declaration is mandatory: a selector-less request fails with 400
// before any handler runs, and an unresolvable one with 404. Authenticated
// routes still derive the effective tenant from the token; the declaration
// adds the cross-check.
func TenantContext(resolver *tenant.Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			selector := strings.TrimSpace(r.Header.Get(TenantHeader))
			if selector == "" {
				if tenantExempt(r.URL.Path) {
					next.ServeHTTP(w, r)
					return
				}
				writeError(w, http.StatusBadRequest, domain.ErrTenantNotSpecified.Error())
				return
			}

			t, err := resolver.Resolve(r.Context(), selector)
			if err != nil {
				if errors.Is(err, domain.ErrTenantNotFound) {
					writeError(w, http.StatusNotFound, domain.ErrTenantNotFound.Error())
					return
				}
				logger.Error("tenant resolution failed", slog.String("error", err.Error()))
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			ctx := context.WithValue(r.Context(), tenantContextKey, t)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Authenticator validates an access token against an optionally declared
// tenant.
type Authenticator interface {
	Authenticate(ctx context.Context, token string, declared *domain.Tenant) (*auth.Principal, error)
}

// Authenticate requires a valid bearer token and attaches the principal to
// the context. If the request also declared a tenant, the token must belong
// to it; a mismatch is reported as 403, every other failure as a uniform
// 401.
func Authenticate(authn Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ExtractToken(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
				return
			}

			declared, _ := TenantFromContext(r.Context())
			principal, err := authn.Authenticate(r.Context(), token, declared)
			if err != nil {
				if errors.Is(err, domain.ErrTenantMismatch) {
					writeError(w, http.StatusForbidden, err.Error())
					return
				}
				writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
				return
			}

			ctx := context.WithValue(r.Context(), principalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit applies the per-tenant sliding window. The key is the token's
// tenant when authenticated, the declared tenant otherwise; anonymous
// traffic falls through to the stricter per-endpoint limits.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var key string
			if p, ok := PrincipalFromContext(r.Context()); ok {
				key = p.TenantID
			} else if t, ok := TenantFromContext(r.Context()); ok {
				key = t.ID
			}

			if !limiter.Allow(key) {
				writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS handles cross-origin requests for the configured origins.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allowAll := len(allowedOrigins) == 1 && allowedOrigins[0] == "*"
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && (allowAll || allowed[origin]) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+TenantHeader)
				w.Header().Set("Access-Control-Max-Age", "300")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AdminKey guards operator endpoints with a static API key. Not a
// substitute for real operator SSO; it keeps provisioning off the public
// surface until one exists.
func AdminKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" || r.Header.Get("X-Admin-Key") != key {
				writeError(w, http.StatusUnauthorized, domain.ErrUnauthorized.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares in order: the first listed is the outermost.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
