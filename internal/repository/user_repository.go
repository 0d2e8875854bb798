package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/yourorg/cliniccore/internal/domain"
	"github.com/yourorg/cliniccore/pkg/database"
)

// UserStores opens schema-bound user store sessions. Every session runs on
// a dedicated connection whose search_path is set to the tenant schema, so
// the unqualified table names below can only ever touch one tenant's data.
type UserStores struct {
	pool *database.Pool
}

func NewUserStores(pool *database.Pool) *UserStores {
	return &UserStores{pool: pool}
}

func (s *UserStores) Open(ctx context.Context, schemaName string) (domain.UserStoreSession, error) {
	conn, err := s.pool.AcquireTenant(ctx, schemaName)
	if err != nil {
		return nil, fmt.Errorf("failed to open user store for schema %s: %w", schemaName, err)
	}
	return &userStoreSession{userStore: userStore{q: conn}, conn: conn}, nil
}

type userStoreSession struct {
	userStore
	conn *database.TenantConn
}

func (s *userStoreSession) Close(ctx context.Context) error {
	return s.conn.Release(ctx)
}

// userStore runs against any Querier already scoped to a tenant schema:
// a TenantConn for request-time work, or the provisioning transaction
// whose search_path was set with SET LOCAL.
type userStore struct {
	q database.Querier
}

// NewUserStore wraps an already schema-scoped Querier.
func NewUserStore(q database.Querier) domain.UserStore {
	return &userStore{q: q}
}

const userColumns = `id, email, display_name, password_hash, tenant_id, COALESCE(refresh_token_hash, ''), is_active, created_at, updated_at`

func (r *userStore) Create(ctx context.Context, user *domain.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	query := `INSERT INTO users (id, email, display_name, password_hash, tenant_id, is_active)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.q.ExecContext(ctx, query,
		user.ID,
		strings.ToLower(user.Email),
		user.DisplayName,
		user.PasswordHash,
		user.TenantID,
		user.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *userStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, id))
}

func (r *userStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanOne(r.q.QueryRowContext(ctx, query, strings.ToLower(email)))
}

func (r *userStore) RoleNames(ctx context.Context, userID string) ([]string, error) {
	query := `SELECT r.name FROM roles r
	          JOIN user_roles ur ON ur.role_id = r.id
	          WHERE ur.user_id = $1
	          ORDER BY r.name`
	rows, err := r.q.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan role name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *userStore) AssignRole(ctx context.Context, userID, roleName string) error {
	query := `INSERT INTO user_roles (user_id, role_id)
	          SELECT $1, id FROM roles WHERE name = $2
	          ON CONFLICT DO NOTHING`
	result, err := r.q.ExecContext(ctx, query, userID, roleName)
	if err != nil {
		return fmt.Errorf("failed to assign role: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check role assignment: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("role %q not found or already assigned", roleName)
	}
	return nil
}

func (r *userStore) SetRefreshTokenHash(ctx context.Context, userID, hash string) error {
	query := `UPDATE users SET refresh_token_hash = $1, updated_at = NOW() WHERE id = $2`
	return r.execUser(ctx, query, hash, userID)
}

func (r *userStore) ClearRefreshTokenHash(ctx context.Context, userID string) error {
	query := `UPDATE users SET refresh_token_hash = NULL, updated_at = NOW() WHERE id = $1`
	return r.execUser(ctx, query, userID)
}

func (r *userStore) CountActive(ctx context.Context) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM users WHERE is_active = true`
	if err := r.q.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count users: %w", err)
	}
	return count, nil
}

func (r *userStore) execUser(ctx context.Context, query string, args ...any) error {
	result, err := r.q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *userStore) scanOne(row *sql.Row) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.DisplayName,
		&user.PasswordHash,
		&user.TenantID,
		&user.RefreshTokenHash,
		&user.IsActive,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &user, nil
}
