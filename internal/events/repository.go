package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsociety/portal/internal/models"
)

var ErrNotFound = errors.New("event not found")

const eventColumns = `e.id, e.title, e.description, e.venue, e.starts_at, e.ends_at, e.capacity, e.registration_deadline,
	e.member_price_cents, e.non_member_price_cents, e.currency, COALESCE(e.material_key,''), COALESCE(e.material_url,''),
	(SELECT COUNT(*) FROM registrations r WHERE r.event_id = e.id AND r.payment_status <> 'FAILED'),
	e.created_by, e.created_at, e.updated_at`

// Repository handles event persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an events repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ScanEvent scans a row selected with the event column list.
func ScanEvent(row pgx.Row) (*models.Event, error) {
	var e models.Event
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Venue, &e.StartsAt, &e.EndsAt, &e.Capacity, &e.RegistrationDeadline,
		&e.MemberPriceCents, &e.NonMemberPriceCents, &e.Currency, &e.MaterialKey, &e.MaterialURL,
		&e.RegistrationCount, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Create inserts an event.
func (r *Repository) Create(ctx context.Context, e *models.Event) error {
	const q = `INSERT INTO events (title, description, venue, starts_at, ends_at, capacity, registration_deadline,
			member_price_cents, non_member_price_cents, currency, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, e.Title, e.Description, e.Venue, e.StartsAt, e.EndsAt, e.Capacity, e.RegistrationDeadline,
		e.MemberPriceCents, e.NonMemberPriceCents, e.Currency, e.CreatedBy).
		Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt)
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Get loads an event through q, so callers holding a transaction see their own locks.
func Get(ctx context.Context, q Querier, id uuid.UUID) (*models.Event, error) {
	return ScanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events e WHERE e.id = $1`, id))
}

// GetByID returns an event with its live registration count.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	return Get(ctx, r.pool, id)
}

// List returns events ordered by start time. upcomingOnly hides events that already started.
func (r *Repository) List(ctx context.Context, upcomingOnly bool) ([]models.Event, error) {
	q := `SELECT ` + eventColumns + ` FROM events e`
	if upcomingOnly {
		q += ` WHERE e.starts_at >= NOW()`
	}
	q += ` ORDER BY e.starts_at`
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.Event, 0)
	for rows.Next() {
		e, err := ScanEvent(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *e)
	}
	return list, rows.Err()
}

// Update overwrites the editable fields of an event.
func (r *Repository) Update(ctx context.Context, e *models.Event) error {
	const q = `UPDATE events SET title = $2, description = $3, venue = $4, starts_at = $5, ends_at = $6, capacity = $7,
			registration_deadline = $8, member_price_cents = $9, non_member_price_cents = $10, currency = $11, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, q, e.ID, e.Title, e.Description, e.Venue, e.StartsAt, e.EndsAt, e.Capacity,
		e.RegistrationDeadline, e.MemberPriceCents, e.NonMemberPriceCents, e.Currency).Scan(&e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Delete removes an event and, by cascade, its registrations.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetMaterial records the S3 object holding the event's material.
func (r *Repository) SetMaterial(ctx context.Context, id uuid.UUID, key, url string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE events SET material_key = $2, material_url = $3, updated_at = NOW() WHERE id = $1`, id, key, url)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
