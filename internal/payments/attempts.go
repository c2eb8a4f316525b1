package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Attempt is one hosted payment opened for a record.
type Attempt struct {
	TrackingID        string
	MerchantReference string
	CreatedAt         time.Time
}

// AttemptStore remembers which record each tracking id was opened for, so a payment
// completed on an earlier page can still be verified after a re-initiation.
type AttemptStore interface {
	Record(ctx context.Context, a Attempt) error
	// Get returns ErrUnknownTracking when the tracking id was never issued here.
	Get(ctx context.Context, trackingID string) (*Attempt, error)
}

// AttemptRepository is the Postgres AttemptStore.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a payment attempts repository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Record stores an attempt. Recording the same tracking id again is a no-op.
func (r *AttemptRepository) Record(ctx context.Context, a Attempt) error {
	const q = `INSERT INTO payment_attempts (order_tracking_id, merchant_reference, created_at)
		VALUES ($1, $2, $3) ON CONFLICT (order_tracking_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q, a.TrackingID, a.MerchantReference, a.CreatedAt); err != nil {
		return fmt.Errorf("record payment attempt: %w", err)
	}
	return nil
}

// Get returns the attempt for trackingID.
func (r *AttemptRepository) Get(ctx context.Context, trackingID string) (*Attempt, error) {
	const q = `SELECT order_tracking_id, merchant_reference, created_at FROM payment_attempts WHERE order_tracking_id = $1`
	var a Attempt
	err := r.pool.QueryRow(ctx, q, trackingID).Scan(&a.TrackingID, &a.MerchantReference, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: tracking id %q", ErrUnknownTracking, trackingID)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// MemoryAttempts is an in-process AttemptStore for tests and single-instance runs.
type MemoryAttempts struct {
	mu       sync.RWMutex
	attempts map[string]Attempt
}

// NewMemoryAttempts creates an empty in-process store.
func NewMemoryAttempts() *MemoryAttempts {
	return &MemoryAttempts{attempts: make(map[string]Attempt)}
}

func (m *MemoryAttempts) Record(_ context.Context, a Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.attempts[a.TrackingID]; !ok {
		m.attempts[a.TrackingID] = a
	}
	return nil
}

func (m *MemoryAttempts) Get(_ context.Context, trackingID string) (*Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.attempts[trackingID]
	if !ok {
		return nil, fmt.Errorf("%w: tracking id %q", ErrUnknownTracking, trackingID)
	}
	return &a, nil
}
