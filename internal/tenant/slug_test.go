package tenant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/pkg/database"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"simple", "Happy Paws", "happy-paws"},
		{"diacritics", "Clínica Vida", "clinica-vida"},
		{"punctuation collapsed", "Dr. Silva's  Pet -- Care!", "dr-silva-s-pet-care"},
		{"leading and trailing junk", "  ---Vet Center---  ", "vet-center"},
		{"numbers kept", "Clinic 24/7", "clinic-24-7"},
		{"empty", "", ""},
		{"only symbols", "!!!", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Slugify(tt.input); got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSlugifyCapsLength(t *testing.T) {
	long := strings.Repeat("veterinaria ", 10)
	slug := Slugify(long)
	if len(slug) > maxSlugLength {
		t.Errorf("slug length = %d, want <= %d", len(slug), maxSlugLength)
	}
	if strings.HasSuffix(slug, "-") {
		t.Errorf("capped slug %q has trailing dash", slug)
	}
}

func TestSchemaNameForSlug(t *testing.T) {
	got := SchemaNameForSlug("clinica-vida-2")
	if got != "tenant_clinica_vida_2" {
		t.Errorf("SchemaNameForSlug = %q, want tenant_clinica_vida_2", got)
	}
	if !database.ValidSchemaName(got) {
		t.Errorf("derived schema name %q is not a valid schema name", got)
	}
}

func TestAllocateSlugExplicit(t *testing.T) {
	ctx := context.Background()

	t.Run("free slug is returned", func(t *testing.T) {
		got, err := allocateSlug(ctx, "My Clinic", "", neverTaken)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "my-clinic" {
			t.Errorf("slug = %q, want my-clinic", got)
		}
	})

	t.Run("taken slug conflicts without suffixing", func(t *testing.T) {
		_, err := allocateSlug(ctx, "my-clinic", "", alwaysTaken)
		if !errors.Is(err, domain.ErrSlugTaken) {
			t.Errorf("error = %v, want ErrSlugTaken", err)
		}
	})
}

func TestAllocateSlugDerived(t *testing.T) {
	ctx := context.Background()

	t.Run("suffixes until free", func(t *testing.T) {
		taken := map[string]bool{"vida": true, "vida-1": true, "vida-2": true}
		got, err := allocateSlug(ctx, "", "Vida", func(_ context.Context, s string) (bool, error) {
			return taken[s], nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "vida-3" {
			t.Errorf("slug = %q, want vida-3", got)
		}
	})

	t.Run("gives up after the attempt budget", func(t *testing.T) {
		_, err := allocateSlug(ctx, "", "Vida", alwaysTaken)
		if !errors.Is(err, domain.ErrSlugExhausted) {
			t.Errorf("error = %v, want ErrSlugExhausted", err)
		}
	})

	t.Run("unsluggable name falls back to clinic", func(t *testing.T) {
		got, err := allocateSlug(ctx, "", "!!!", neverTaken)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "clinic" {
			t.Errorf("slug = %q, want clinic", got)
		}
	})
}

func neverTaken(context.Context, string) (bool, error)  { return false, nil }
func alwaysTaken(context.Context, string) (bool, error) { return true, nil }
