package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/yourorg/cliniccore/internal/domain"
)

// DirectoryRepository implements domain.DirectoryRepository over the global
// public.tenant_directory table. Emails are stored lowercased, so lookups
// fold case here rather than in every caller.
type DirectoryRepository struct {
	db *sql.DB
}

func NewDirectoryRepository(db *sql.DB) *DirectoryRepository {
	return &DirectoryRepository{db: db}
}

func (r *DirectoryRepository) Resolve(ctx context.Context, email string) (*domain.DirectoryEntry, error) {
	query := `SELECT email, tenant_id, schema_name, updated_at FROM public.tenant_directory WHERE email = $1`
	var entry domain.DirectoryEntry
	err := r.db.QueryRowContext(ctx, query, strings.ToLower(email)).Scan(
		&entry.Email,
		&entry.TenantID,
		&entry.SchemaName,
		&entry.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to resolve directory entry: %w", err)
	}
	return &entry, nil
}

func (r *DirectoryRepository) Exists(ctx context.Context, email string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM public.tenant_directory WHERE email = $1)`
	if err := r.db.QueryRowContext(ctx, query, strings.ToLower(email)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check directory entry: %w", err)
	}
	return exists, nil
}
