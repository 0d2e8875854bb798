package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/security/auth"
	"github.com/yourorg/cliniccore/internal/security/ratelimit"
	"github.com/yourorg/cliniccore/internal/tenant"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubAuthenticator struct {
	principal *auth.Principal
	err       error
	declared  *domain.Tenant
}

func (s *stubAuthenticator) Authenticate(_ context.Context, _ string, declared *domain.Tenant) (*auth.Principal, error) {
	s.declared = declared
	if s.err != nil {
		return nil, s.err
	}
	if declared != nil && declared.ID != s.principal.TenantID {
		return nil, domain.ErrTenantMismatch
	}
	return s.principal, nil
}

func okHandler(t *testing.T, wantPrincipal bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if wantPrincipal {
			if _, ok := PrincipalFromContext(r.Context()); !ok {
				t.Error("handler reached without principal in context")
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

type stubTenantRepo struct {
	tenants map[string]*domain.Tenant
}

func (s *stubTenantRepo) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	if t, ok := s.tenants[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (s *stubTenantRepo) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return s.GetByID(ctx, slug)
}

func (s *stubTenantRepo) GetByIDOrSlug(ctx context.Context, selector string) (*domain.Tenant, error) {
	return s.GetByID(ctx, selector)
}

func (s *stubTenantRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := s.GetBySlug(ctx, slug)
	return err == nil, nil
}

func (s *stubTenantRepo) UpdateStatus(context.Context, string, domain.TenantStatus) error {
	return nil
}

func (s *stubTenantRepo) List(context.Context) ([]*domain.Tenant, error) {
	return nil, nil
}

func TestTenantContextMiddleware(t *testing.T) {
	happyPaws := &domain.Tenant{
		ID: "tenant-1", Slug: "happy-paws",
		SchemaName: "tenant_happy_paws", Status: domain.TenantStatusActive,
	}
	repo := &stubTenantRepo{tenants: map[string]*domain.Tenant{"happy-paws": happyPaws}}
	mw := TenantContext(tenant.NewResolver(repo, nil, time.Minute, testLogger()), testLogger())

	send := func(path, header string, next http.Handler) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if header != "" {
			req.Header.Set(TenantHeader, header)
		}
		mw(next).ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid header attaches tenant", func(t *testing.T) {
		rec := send("/api/things", "happy-paws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := TenantFromContext(r.Context())
			if !ok || got.ID != "tenant-1" {
				t.Error("resolved tenant not attached to the context")
			}
			w.WriteHeader(http.StatusOK)
		}))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("missing header outside exempt set is 400", func(t *testing.T) {
		rec := send("/api/things", "", okHandler(t, false))
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), domain.ErrTenantNotSpecified.Error()) {
			t.Errorf("body = %q, want %q", rec.Body.String(), domain.ErrTenantNotSpecified.Error())
		}
	})

	t.Run("unknown tenant is 404", func(t *testing.T) {
		rec := send("/api/things", "no-such-clinic", okHandler(t, false))
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})

	t.Run("exempt paths pass without a header", func(t *testing.T) {
		exempt := []string{
			"/healthz",
			"/readyz",
			"/metrics",
			"/api/auth/login",
			"/api/auth/refresh",
			"/api/signup",
			"/api/admin/tenants",
			"/api/tenants/happy-paws/exists",
		}
		for _, path := range exempt {
			if rec := send(path, "", okHandler(t, false)); rec.Code != http.StatusOK {
				t.Errorf("%s: status = %d, want 200", path, rec.Code)
			}
		}
	})

	t.Run("exempt path still resolves a declared tenant", func(t *testing.T) {
		rec := send("/api/auth/login", "happy-paws", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := TenantFromContext(r.Context()); !ok {
				t.Error("declared tenant not attached on exempt path")
			}
			w.WriteHeader(http.StatusOK)
		}))
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestAuthenticateMiddleware(t *testing.T) {
	principal := &auth.Principal{UserID: "user-1", TenantID: "tenant-1"}

	t.Run("missing token", func(t *testing.T) {
		mw := Authenticate(&stubAuthenticator{principal: principal}, testLogger())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		mw(okHandler(t, true)).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		mw := Authenticate(&stubAuthenticator{err: domain.ErrUnauthorized}, testLogger())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer bad")
		mw(okHandler(t, true)).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("valid token passes principal", func(t *testing.T) {
		mw := Authenticate(&stubAuthenticator{principal: principal}, testLogger())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		mw(okHandler(t, true)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("cross-tenant declaration is 403", func(t *testing.T) {
		stub := &stubAuthenticator{principal: principal}
		mw := Authenticate(stub, testLogger())
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		req.Header.Set("Authorization", "Bearer good")
		other := &domain.Tenant{ID: "tenant-2", Status: domain.TenantStatusActive}
		req = req.WithContext(context.WithValue(req.Context(), tenantContextKey, other))
		mw(okHandler(t, true)).ServeHTTP(rec, req)
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
		if stub.declared == nil || stub.declared.ID != "tenant-2" {
			t.Error("declared tenant was not forwarded to the authenticator")
		}
	})
}

func TestRateLimitMiddleware(t *testing.T) {
	limiter := ratelimit.NewLimiter(2, time.Minute)
	defer limiter.Stop()
	mw := RateLimit(limiter)

	tenant := &domain.Tenant{ID: "tenant-1", Status: domain.TenantStatusActive}
	send := func() int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
		req = req.WithContext(context.WithValue(req.Context(), tenantContextKey, tenant))
		mw(okHandler(t, false)).ServeHTTP(rec, req)
		return rec.Code
	}

	if send() != http.StatusOK || send() != http.StatusOK {
		t.Fatal("first two requests should pass")
	}
	if send() != http.StatusTooManyRequests {
		t.Error("third request should be limited")
	}

	// Anonymous traffic is not keyed and passes through.
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	mw(okHandler(t, false)).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("anonymous request: status = %d, want 200", rec.Code)
	}
}

func TestValidateJSON(t *testing.T) {
	t.Run("rejects non-json post", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("x=1"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		ValidateJSON(okHandler(t, false)).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnsupportedMediaType {
			t.Errorf("status = %d, want 415", rec.Code)
		}
	})

	t.Run("accepts json post", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		ValidateJSON(okHandler(t, false)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("get passes without content type", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/things", nil)
		ValidateJSON(okHandler(t, false)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestAdminKeyMiddleware(t *testing.T) {
	mw := AdminKey("sekret")

	t.Run("missing key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/tenants", nil)
		mw(okHandler(t, false)).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("correct key", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/tenants", nil)
		req.Header.Set("X-Admin-Key", "sekret")
		mw(okHandler(t, false)).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("empty configured key disables access", func(t *testing.T) {
		disabled := AdminKey("")
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/admin/tenants", nil)
		req.Header.Set("X-Admin-Key", "")
		disabled(okHandler(t, false)).ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})
}
