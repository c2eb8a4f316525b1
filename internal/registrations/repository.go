package registrations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsociety/portal/internal/events"
	"github.com/medsociety/portal/internal/models"
)

const regColumns = `id, event_id, user_id, first_name, last_name, email, phone, payment_method, payment_status,
	amount_cents, COALESCE(order_tracking_id,''), COALESCE(merchant_reference,''), attended, paid_at, created_at, updated_at`

// Repository handles registration persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a registrations repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanRegistration(row pgx.Row) (*models.Registration, error) {
	var r models.Registration
	err := row.Scan(&r.ID, &r.EventID, &r.UserID, &r.FirstName, &r.LastName, &r.Email, &r.Phone,
		&r.PaymentMethod, &r.PaymentStatus, &r.AmountCents, &r.OrderTrackingID, &r.MerchantReference,
		&r.Attended, &r.PaidAt, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Book locks the event row so concurrent admissions for one event are serialized, then
// lets admit decide against the locked event, its seat count and any prior registration.
func (r *Repository) Book(ctx context.Context, eventID uuid.UUID, email string, userID *uuid.UUID, admit Admit) (*models.Registration, error) {
	var out *models.Registration
	var admitErr error
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var locked uuid.UUID
		if err := tx.QueryRow(ctx, `SELECT id FROM events WHERE id = $1 FOR UPDATE`, eventID).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ErrNotFound
			}
			return fmt.Errorf("lock event: %w", err)
		}
		e, err := events.Get(ctx, tx, eventID)
		if err != nil {
			return fmt.Errorf("load event: %w", err)
		}

		const existingQ = `SELECT ` + regColumns + ` FROM registrations
			WHERE event_id = $1 AND (lower(email) = lower($2) OR ($3::uuid IS NOT NULL AND user_id = $3))
			ORDER BY (payment_status = 'FAILED'), created_at
			LIMIT 1`
		existing, err := scanRegistration(tx.QueryRow(ctx, existingQ, eventID, email, userID))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("find existing registration: %w", err)
		}

		reg, err := admit(e, e.RegistrationCount, existing)
		if err != nil {
			// Refusals commit nothing.
			out, admitErr = reg, err
			return nil
		}

		if existing != nil {
			const q = `UPDATE registrations SET user_id = $2, first_name = $3, last_name = $4, email = $5, phone = $6,
					payment_method = $7, payment_status = $8, amount_cents = $9, paid_at = $10,
					order_tracking_id = NULL, merchant_reference = NULL, updated_at = NOW()
				WHERE id = $1 RETURNING ` + regColumns
			out, err = scanRegistration(tx.QueryRow(ctx, q, existing.ID, reg.UserID, reg.FirstName, reg.LastName, reg.Email,
				reg.Phone, reg.PaymentMethod, reg.PaymentStatus, reg.AmountCents, reg.PaidAt))
			return err
		}
		const q = `INSERT INTO registrations (event_id, user_id, first_name, last_name, email, phone,
				payment_method, payment_status, amount_cents, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING ` + regColumns
		out, err = scanRegistration(tx.QueryRow(ctx, q, eventID, reg.UserID, reg.FirstName, reg.LastName, reg.Email,
			reg.Phone, reg.PaymentMethod, reg.PaymentStatus, reg.AmountCents, reg.PaidAt))
		return err
	})
	if errors.Is(err, events.ErrNotFound) {
		return nil, ErrNotFound
	}
	if isUniqueViolation(err) {
		existing, gerr := r.GetByEventEmail(ctx, eventID, email)
		if gerr != nil {
			return nil, ErrAlreadyRegistered
		}
		return existing, ErrAlreadyRegistered
	}
	if err != nil {
		return nil, err
	}
	return out, admitErr
}

// GetByID returns a registration by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return scanRegistration(r.pool.QueryRow(ctx, `SELECT `+regColumns+` FROM registrations WHERE id = $1`, id))
}

// GetByEventEmail returns the registration for event and email, case-insensitively.
func (r *Repository) GetByEventEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE event_id = $1 AND lower(email) = lower($2)`
	return scanRegistration(r.pool.QueryRow(ctx, q, eventID, email))
}

// GetByEventUser returns the user's most relevant registration for an event.
func (r *Repository) GetByEventUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	const q = `SELECT ` + regColumns + ` FROM registrations WHERE event_id = $1 AND user_id = $2
		ORDER BY (payment_status = 'FAILED'), created_at LIMIT 1`
	return scanRegistration(r.pool.QueryRow(ctx, q, eventID, userID))
}

// MarkCompleted moves a registration to COMPLETED unless it already is.
func (r *Repository) MarkCompleted(ctx context.Context, id uuid.UUID, trackingID string, paidAt time.Time) (bool, error) {
	const q = `UPDATE registrations
		SET payment_status = 'COMPLETED', order_tracking_id = COALESCE(NULLIF($2,''), order_tracking_id),
			paid_at = $3, updated_at = NOW()
		WHERE id = $1 AND payment_status <> 'COMPLETED'`
	tag, err := r.pool.Exec(ctx, q, id, trackingID, paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed moves a PENDING registration to FAILED.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, trackingID string) (bool, error) {
	const q = `UPDATE registrations
		SET payment_status = 'FAILED', order_tracking_id = COALESCE(NULLIF($2,''), order_tracking_id), updated_at = NOW()
		WHERE id = $1 AND payment_status = 'PENDING'`
	tag, err := r.pool.Exec(ctx, q, id, trackingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AttachPayment stores gateway identifiers on a pending registration.
func (r *Repository) AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error {
	const q = `UPDATE registrations SET order_tracking_id = $2, merchant_reference = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, trackingID, merchantRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByEvent returns all registrations for an event, newest first.
func (r *Repository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+regColumns+` FROM registrations WHERE event_id = $1 ORDER BY created_at DESC`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.Registration, 0)
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *reg)
	}
	return list, rows.Err()
}

// SetAttendance sets the attended flag.
func (r *Repository) SetAttendance(ctx context.Context, id uuid.UUID, attended bool) (*models.Registration, error) {
	const q = `UPDATE registrations SET attended = $2, updated_at = NOW() WHERE id = $1 RETURNING ` + regColumns
	return scanRegistration(r.pool.QueryRow(ctx, q, id, attended))
}
