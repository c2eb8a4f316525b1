package banners

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsociety/portal/internal/models"
)

// ErrNotFound is returned when a banner does not exist.
var ErrNotFound = errors.New("banner not found")

const bannerColumns = `id, title, link_url, image_url, s3_key, position, is_active, created_at, updated_at`

// Repository handles banner persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a banner repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanBanner(row pgx.Row) (*models.Banner, error) {
	var b models.Banner
	err := row.Scan(&b.ID, &b.Title, &b.LinkURL, &b.ImageURL, &b.S3Key, &b.Position, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Create inserts a banner.
func (r *Repository) Create(ctx context.Context, b *models.Banner) error {
	const q = `INSERT INTO banners (title, link_url, image_url, s3_key, position, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, b.Title, b.LinkURL, b.ImageURL, b.S3Key, b.Position, b.IsActive).
		Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
}

// GetByID returns a banner by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Banner, error) {
	q := `SELECT ` + bannerColumns + ` FROM banners WHERE id = $1`
	return scanBanner(r.pool.QueryRow(ctx, q, id))
}

// List returns banners ordered by position. activeOnly hides disabled banners.
func (r *Repository) List(ctx context.Context, activeOnly bool) ([]models.Banner, error) {
	q := `SELECT ` + bannerColumns + ` FROM banners WHERE ($1 = FALSE OR is_active) ORDER BY position, created_at`
	rows, err := r.pool.Query(ctx, q, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Banner
	for rows.Next() {
		b, err := scanBanner(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *b)
	}
	return list, rows.Err()
}

// Update sets the active flag and position.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, isActive bool, position int) (*models.Banner, error) {
	q := `UPDATE banners SET is_active = $2, position = $3, updated_at = NOW() WHERE id = $1 RETURNING ` + bannerColumns
	return scanBanner(r.pool.QueryRow(ctx, q, id, isActive, position))
}

// Delete removes a banner and returns the deleted row.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (*models.Banner, error) {
	q := `DELETE FROM banners WHERE id = $1 RETURNING ` + bannerColumns
	return scanBanner(r.pool.QueryRow(ctx, q, id))
}
