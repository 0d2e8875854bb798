package tenant

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/yourorg/cliniccore/internal/domain"
)

const (
	maxSlugLength    = 40
	maxSlugAttempts  = 100
	schemaNamePrefix = "tenant_"
)

// Slugify derives a URL- and schema-safe slug from a clinic name:
// lowercase, diacritics stripped, runs of non-alphanumerics collapsed to a
// single dash, trimmed, capped at maxSlugLength.
func Slugify(name string) string {
	// NFD + strip combining marks turns "Clínica Vida" into "Clinica Vida".
	stripper := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	plain, _, err := transform.String(stripper, name)
	if err != nil {
		plain = name
	}

	var b strings.Builder
	lastDash := true // suppress a leading dash
	for _, r := range strings.ToLower(plain) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}

	slug := strings.Trim(b.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	return slug
}

// SchemaNameForSlug maps a slug onto its Postgres schema name.
func SchemaNameForSlug(slug string) string {
	return schemaNamePrefix + strings.ReplaceAll(slug, "-", "_")
}

// slugExistsFunc checks whether a candidate slug is already taken.
type slugExistsFunc func(ctx context.Context, slug string) (bool, error)

// allocateSlug picks a free slug. With an explicit request the slug must be
// free as-is; with a derived base it disambiguates by appending -1, -2, ...
// up to maxSlugAttempts before giving up with a conflict.
func allocateSlug(ctx context.Context, requested, clinicName string, exists slugExistsFunc) (string, error) {
	if requested != "" {
		slug := Slugify(requested)
		if slug == "" {
			return "", fmt.Errorf("%w: empty slug", domain.ErrSlugTaken)
		}
		taken, err := exists(ctx, slug)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if taken {
			return "", domain.ErrSlugTaken
		}
		return slug, nil
	}

	base := Slugify(clinicName)
	if base == "" {
		base = "clinic"
	}
	for i := 0; i < maxSlugAttempts; i++ {
		candidate := base
		if i > 0 {
			candidate = fmt.Sprintf("%s-%d", base, i)
		}
		taken, err := exists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug: %w", err)
		}
		if !taken {
			return candidate, nil
		}
	}
	return "", domain.ErrSlugExhausted
}
