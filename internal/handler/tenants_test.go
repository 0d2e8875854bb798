package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/internal/tenant"
)

type fakeTenantRepo struct {
	byID map[string]*domain.Tenant
}

func (r *fakeTenantRepo) GetByID(_ context.Context, id string) (*domain.Tenant, error) {
	if t, ok := r.byID[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTenantRepo) GetBySlug(_ context.Context, slug string) (*domain.Tenant, error) {
	for _, t := range r.byID {
		if t.Slug == slug {
			return t, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTenantRepo) GetByIDOrSlug(ctx context.Context, selector string) (*domain.Tenant, error) {
	if t, err := r.GetByID(ctx, selector); err == nil {
		return t, nil
	}
	return r.GetBySlug(ctx, selector)
}

func (r *fakeTenantRepo) SlugExists(ctx context.Context, slug string) (bool, error) {
	_, err := r.GetBySlug(ctx, slug)
	return err == nil, nil
}

func (r *fakeTenantRepo) UpdateStatus(_ context.Context, id string, status domain.TenantStatus) error {
	t, ok := r.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTenantRepo) List(context.Context) ([]*domain.Tenant, error) {
	var out []*domain.Tenant
	for _, t := range r.byID {
		out = append(out, t)
	}
	return out, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTenantHandler(tenants ...*domain.Tenant) (*TenantHandler, *fakeTenantRepo) {
	repo := &fakeTenantRepo{byID: make(map[string]*domain.Tenant)}
	for _, t := range tenants {
		repo.byID[t.ID] = t
	}
	resolver := tenant.NewResolver(repo, nil, time.Minute, testLogger())
	return NewTenantHandler(repo, resolver, testLogger()), repo
}

func registeredTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:         "tenant-1",
		Slug:       "happy-paws",
		Name:       "Happy Paws",
		SchemaName: "tenant_happy_paws",
		Status:     domain.TenantStatusActive,
		CreatedAt:  time.Now(),
	}
}

func TestTenantExists(t *testing.T) {
	h, _ := newTenantHandler(registeredTenant())

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/tenants/{slug}/exists", h.Exists)

	check := func(slug string, wantAvailable bool) {
		t.Helper()
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/tenants/"+slug+"/exists", nil)
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", rec.Code)
		}
		var body map[string]bool
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["available"] != wantAvailable {
			t.Errorf("available = %v for %q, want %v", body["available"], slug, wantAvailable)
		}
	}

	check("happy-paws", false)
	check("free-slug", true)
}

func TestTenantList(t *testing.T) {
	h, _ := newTenantHandler(registeredTenant())
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/admin/tenants", nil)
	h.List(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Tenants []tenantSummary `json:"tenants"`
		Count   int             `json:"count"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 || len(body.Tenants) != 1 {
		t.Fatalf("count = %d, tenants = %d", body.Count, len(body.Tenants))
	}
	if body.Tenants[0].Slug != "happy-paws" {
		t.Errorf("slug = %q", body.Tenants[0].Slug)
	}
}

func TestTenantUpdateStatus(t *testing.T) {
	existing := registeredTenant()
	h, repo := newTenantHandler(existing)

	mux := http.NewServeMux()
	mux.HandleFunc("PATCH /api/admin/tenants/{id}/status", h.UpdateStatus)

	t.Run("suspend", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/admin/tenants/tenant-1/status",
			strings.NewReader(`{"status":"suspended"}`))
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		if repo.byID["tenant-1"].Status != domain.TenantStatusSuspended {
			t.Error("tenant was not suspended")
		}
	})

	t.Run("invalid status", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/admin/tenants/tenant-1/status",
			strings.NewReader(`{"status":"vaporized"}`))
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("unknown tenant", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPatch, "/api/admin/tenants/ghost/status",
			strings.NewReader(`{"status":"suspended"}`))
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want 404", rec.Code)
		}
	})
}
