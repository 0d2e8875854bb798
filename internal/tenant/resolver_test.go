package tenant

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/yourorg/cliniccore/internal/domain"
)

type fakeTenantRepo struct {
	tenants map[string]*domain.Tenant // keyed by both id and slug
	lookups int
}

func newFakeTenantRepo(tenants ...*domain.Tenant) *fakeTenantRepo {
	r := &fakeTenantRepo{tenants: make(map[string]*domain.Tenant)}
	for _, t := range tenants {
		r.tenants[t.ID] = t
		r.tenants[t.Slug] = t
	}
	return r
}

func (r *fakeTenantRepo) GetByID(ctx context.Context, id string) (*domain.Tenant, error) {
	return r.GetByIDOrSlug(ctx, id)
}

func (r *fakeTenantRepo) GetBySlug(ctx context.Context, slug string) (*domain.Tenant, error) {
	return r.GetByIDOrSlug(ctx, slug)
}

func (r *fakeTenantRepo) GetByIDOrSlug(_ context.Context, selector string) (*domain.Tenant, error) {
	r.lookups++
	if t, ok := r.tenants[selector]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (r *fakeTenantRepo) SlugExists(_ context.Context, slug string) (bool, error) {
	_, ok := r.tenants[slug]
	return ok, nil
}

func (r *fakeTenantRepo) UpdateStatus(_ context.Context, id string, status domain.TenantStatus) error {
	t, ok := r.tenants[id]
	if !ok {
		return domain.ErrNotFound
	}
	t.Status = status
	return nil
}

func (r *fakeTenantRepo) List(context.Context) ([]*domain.Tenant, error) {
	seen := make(map[string]bool)
	var out []*domain.Tenant
	for _, t := range r.tenants {
		if !seen[t.ID] {
			seen[t.ID] = true
			out = append(out, t)
		}
	}
	return out, nil
}

func activeTenant() *domain.Tenant {
	return &domain.Tenant{
		ID:         "11111111-1111-4111-8111-111111111111",
		Slug:       "happy-paws",
		Name:       "Happy Paws",
		SchemaName: "tenant_happy_paws",
		Status:     domain.TenantStatusActive,
	}
}

func TestResolverResolve(t *testing.T) {
	ctx := context.Background()

	t.Run("empty selector", func(t *testing.T) {
		r := NewResolver(newFakeTenantRepo(), nil, time.Minute, testLogger())
		_, err := r.Resolve(ctx, "")
		if !errors.Is(err, domain.ErrTenantNotSpecified) {
			t.Errorf("error = %v, want ErrTenantNotSpecified", err)
		}
	})

	t.Run("unknown selector", func(t *testing.T) {
		r := NewResolver(newFakeTenantRepo(), nil, time.Minute, testLogger())
		_, err := r.Resolve(ctx, "ghost")
		if !errors.Is(err, domain.ErrTenantNotFound) {
			t.Errorf("error = %v, want ErrTenantNotFound", err)
		}
	})

	t.Run("resolves by slug and by id", func(t *testing.T) {
		want := activeTenant()
		r := NewResolver(newFakeTenantRepo(want), nil, time.Minute, testLogger())

		bySlug, err := r.Resolve(ctx, want.Slug)
		if err != nil {
			t.Fatalf("resolve by slug: %v", err)
		}
		byID, err := r.Resolve(ctx, want.ID)
		if err != nil {
			t.Fatalf("resolve by id: %v", err)
		}
		if bySlug.ID != want.ID || byID.ID != want.ID {
			t.Error("resolved wrong tenant")
		}
	})

	t.Run("suspended tenant is not resolvable", func(t *testing.T) {
		suspended := activeTenant()
		suspended.Status = domain.TenantStatusSuspended
		r := NewResolver(newFakeTenantRepo(suspended), nil, time.Minute, testLogger())

		_, err := r.Resolve(ctx, suspended.Slug)
		if !errors.Is(err, domain.ErrTenantNotFound) {
			t.Errorf("error = %v, want ErrTenantNotFound", err)
		}
	})
}

func TestResolverCaching(t *testing.T) {
	ctx := context.Background()
	tenant := activeTenant()
	repo := newFakeTenantRepo(tenant)
	r := NewResolver(repo, nil, time.Minute, testLogger())

	for i := 0; i < 5; i++ {
		if _, err := r.Resolve(ctx, tenant.Slug); err != nil {
			t.Fatalf("resolve %d: %v", i, err)
		}
	}
	if repo.lookups != 1 {
		t.Errorf("repository lookups = %d, want 1 (cache should absorb repeats)", repo.lookups)
	}

	r.Invalidate(ctx, tenant.Slug)
	if _, err := r.Resolve(ctx, tenant.Slug); err != nil {
		t.Fatalf("resolve after invalidate: %v", err)
	}
	if repo.lookups != 2 {
		t.Errorf("repository lookups = %d, want 2 after invalidation", repo.lookups)
	}
}

func TestResolverCachedStatusChange(t *testing.T) {
	ctx := context.Background()
	tenant := activeTenant()
	repo := newFakeTenantRepo(tenant)
	r := NewResolver(repo, nil, time.Minute, testLogger())

	if _, err := r.Resolve(ctx, tenant.Slug); err != nil {
		t.Fatalf("initial resolve: %v", err)
	}

	tenant.Status = domain.TenantStatusSuspended
	r.Invalidate(ctx, tenant.Slug)

	_, err := r.Resolve(ctx, tenant.Slug)
	if !errors.Is(err, domain.ErrTenantNotFound) {
		t.Errorf("error = %v, want ErrTenantNotFound after suspension", err)
	}
}
