package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/medsociety/portal/internal/models"
)

// LogRepository handles email_logs persistence.
type LogRepository struct {
	pool *pgxpool.Pool
}

// NewLogRepository creates an email log repository.
func NewLogRepository(pool *pgxpool.Pool) *LogRepository {
	return &LogRepository{pool: pool}
}

// Create records a delivery attempt.
func (r *LogRepository) Create(ctx context.Context, l *models.EmailLog) error {
	const q = `INSERT INTO email_logs (event_id, registration_id, email_type, recipient_email, subject, status, sent_at, error_message)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7, NULLIF($8, ''))
		RETURNING id, created_at`
	return r.pool.QueryRow(ctx, q, l.EventID, l.RegistrationID, l.EmailType, l.RecipientEmail, l.Subject, l.Status, l.SentAt, l.ErrorMessage).
		Scan(&l.ID, &l.CreatedAt)
}

// ListByEvent returns email logs for an event, newest first.
func (r *LogRepository) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]*models.EmailLog, error) {
	const q = `SELECT id, event_id, registration_id, email_type, recipient_email, COALESCE(subject, ''), status, sent_at, COALESCE(error_message, ''), created_at
		FROM email_logs
		WHERE event_id = $1
		ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.EmailLog
	for rows.Next() {
		var el models.EmailLog
		if err := rows.Scan(&el.ID, &el.EventID, &el.RegistrationID, &el.EmailType, &el.RecipientEmail, &el.Subject, &el.Status, &el.SentAt, &el.ErrorMessage, &el.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &el)
	}
	return list, rows.Err()
}
