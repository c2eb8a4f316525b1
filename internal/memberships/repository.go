package memberships

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsociety/portal/internal/models"
)

const appColumns = `id, user_id, first_name, last_name, email, phone, category, profession, institution, license_number,
	amount_cents, status, COALESCE(order_tracking_id,''), COALESCE(merchant_reference,''), paid_at, reviewed_at, reviewed_by,
	created_at, updated_at`

// Repository handles membership application persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a memberships repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func scanApplication(row pgx.Row) (*models.MembershipApplication, error) {
	var a models.MembershipApplication
	err := row.Scan(&a.ID, &a.UserID, &a.FirstName, &a.LastName, &a.Email, &a.Phone, &a.Category, &a.Profession,
		&a.Institution, &a.LicenseNumber, &a.AmountCents, &a.Status, &a.OrderTrackingID, &a.MerchantReference,
		&a.PaidAt, &a.ReviewedAt, &a.ReviewedBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts an application.
func (r *Repository) Create(ctx context.Context, a *models.MembershipApplication) error {
	const q = `INSERT INTO membership_applications (user_id, first_name, last_name, email, phone, category, profession,
			institution, license_number, amount_cents, status, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, a.UserID, a.FirstName, a.LastName, a.Email, a.Phone, a.Category, a.Profession,
		a.Institution, a.LicenseNumber, a.AmountCents, a.Status, a.PaidAt).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByID returns an application by ID.
func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.MembershipApplication, error) {
	return scanApplication(r.pool.QueryRow(ctx, `SELECT `+appColumns+` FROM membership_applications WHERE id = $1`, id))
}

// List returns applications, newest first. An empty status returns all.
func (r *Repository) List(ctx context.Context, status models.MembershipStatus) ([]models.MembershipApplication, error) {
	const q = `SELECT ` + appColumns + ` FROM membership_applications
		WHERE ($1 = '' OR status = $1) ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := make([]models.MembershipApplication, 0)
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// AttachPayment stores gateway identifiers.
func (r *Repository) AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error {
	const q = `UPDATE membership_applications SET order_tracking_id = $2, merchant_reference = $3, updated_at = NOW() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, q, id, trackingID, merchantRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkPaid moves a pending or failed application to paid.
func (r *Repository) MarkPaid(ctx context.Context, id uuid.UUID, trackingID string, paidAt time.Time) (bool, error) {
	const q = `UPDATE membership_applications
		SET status = 'paid', paid_at = $3, order_tracking_id = COALESCE(NULLIF($2,''), order_tracking_id), updated_at = NOW()
		WHERE id = $1 AND status IN ('pending_payment', 'payment_failed')`
	tag, err := r.pool.Exec(ctx, q, id, trackingID, paidAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// MarkPaymentFailed moves a pending application to payment_failed.
func (r *Repository) MarkPaymentFailed(ctx context.Context, id uuid.UUID, trackingID string) (bool, error) {
	const q = `UPDATE membership_applications
		SET status = 'payment_failed', order_tracking_id = COALESCE(NULLIF($2,''), order_tracking_id), updated_at = NOW()
		WHERE id = $1 AND status = 'pending_payment'`
	tag, err := r.pool.Exec(ctx, q, id, trackingID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Review records the admin decision on a paid application.
func (r *Repository) Review(ctx context.Context, id uuid.UUID, status models.MembershipStatus, reviewer uuid.UUID, at time.Time) (bool, error) {
	const q = `UPDATE membership_applications SET status = $2, reviewed_by = $3, reviewed_at = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'paid'`
	tag, err := r.pool.Exec(ctx, q, id, status, reviewer, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
