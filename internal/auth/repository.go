package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsociety/portal/internal/models"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

const userColumns = `id, email, password_hash, first_name, last_name, COALESCE(phone,''), role, created_at, updated_at`

// Repository handles user persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.Email, &u.Password, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByEmail returns a user by email, case-insensitively.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, strings.TrimSpace(email)))
}

// CreateUserParams holds the fields of a new account.
type CreateUserParams struct {
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Phone        string
	Role         models.Role
}

// Create inserts a new user.
func (r *Repository) Create(ctx context.Context, p CreateUserParams) (*models.User, error) {
	const q = `INSERT INTO users (email, password_hash, first_name, last_name, phone, role)
		VALUES (lower($1), $2, $3, $4, NULLIF($5,''), $6)
		RETURNING ` + userColumns
	u, err := scanUser(r.pool.QueryRow(ctx, q, strings.TrimSpace(p.Email), p.PasswordHash, p.FirstName, p.LastName, p.Phone, p.Role))
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, ErrEmailTaken
	}
	return u, err
}

// List returns all users for the admin console.
func (r *Repository) List(ctx context.Context) ([]models.UserPublic, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, email, first_name, last_name, COALESCE(phone,''), role, created_at
		FROM users ORDER BY last_name, first_name, email`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.UserPublic, 0)
	for rows.Next() {
		var u models.UserPublic
		if err := rows.Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.Phone, &u.Role, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, u)
	}
	return list, rows.Err()
}

// UpdateRole changes a user's role.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, role models.Role) (*models.User, error) {
	const q = `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + userColumns
	return scanUser(r.pool.QueryRow(ctx, q, id, role))
}
