package memberships

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/queue"
)

type memStore struct {
	mu      sync.Mutex
	apps    map[uuid.UUID]*models.MembershipApplication
	paidErr error
}

func newMemStore() *memStore {
	return &memStore{apps: map[uuid.UUID]*models.MembershipApplication{}}
}

func (m *memStore) Create(_ context.Context, a *models.MembershipApplication) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = uuid.New()
	cp := *a
	m.apps[a.ID] = &cp
	return nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.MembershipApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) List(_ context.Context, status models.MembershipStatus) ([]models.MembershipApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MembershipApplication
	for _, a := range m.apps {
		if status == "" || a.Status == status {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memStore) AttachPayment(_ context.Context, id uuid.UUID, trackingID, merchantRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok {
		return ErrNotFound
	}
	a.OrderTrackingID, a.MerchantReference = trackingID, merchantRef
	return nil
}

func (m *memStore) MarkPaid(_ context.Context, id uuid.UUID, _ string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.paidErr != nil {
		return false, m.paidErr
	}
	a, ok := m.apps[id]
	if !ok || (a.Status != models.MembershipPendingPayment && a.Status != models.MembershipPaymentFailed) {
		return false, nil
	}
	a.Status, a.PaidAt = models.MembershipPaid, &paidAt
	return true, nil
}

func (m *memStore) MarkPaymentFailed(_ context.Context, id uuid.UUID, _ string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok || a.Status != models.MembershipPendingPayment {
		return false, nil
	}
	a.Status = models.MembershipPaymentFailed
	return true, nil
}

func (m *memStore) Review(_ context.Context, id uuid.UUID, status models.MembershipStatus, reviewer uuid.UUID, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.apps[id]
	if !ok || a.Status != models.MembershipPaid {
		return false, nil
	}
	a.Status, a.ReviewedBy, a.ReviewedAt = status, &reviewer, &at
	return true, nil
}

type countingMailer struct{ n int }

func (m *countingMailer) EnqueueEmail(context.Context, queue.EmailPayload) error {
	m.n++
	return nil
}

var fees = map[string]int64{"full": 1000000, "student": 150000, "honorary": 0}

func validInput() ApplyInput {
	return ApplyInput{FirstName: "Wanjiru", LastName: "Kamau", Email: "W@Clinic.org", Phone: "+254711000000", Category: "Student"}
}

func TestApply(t *testing.T) {
	svc := NewService(newMemStore(), fees, nil, nil, nil)
	a, err := svc.Apply(context.Background(), nil, validInput())
	require.NoError(t, err)
	assert.Equal(t, int64(150000), a.AmountCents)
	assert.Equal(t, models.MembershipPendingPayment, a.Status)
	assert.Equal(t, "w@clinic.org", a.Email)

	in := validInput()
	in.Category = "platinum"
	_, err = svc.Apply(context.Background(), nil, in)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "category", ve.Field)

	in = validInput()
	in.Email = "nope"
	_, err = svc.Apply(context.Background(), nil, in)
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "email", ve.Field)
}

func TestApply_FreeCategoryIsPaid(t *testing.T) {
	mailer := &countingMailer{}
	svc := NewService(newMemStore(), fees, mailer, nil, nil)
	in := validInput()
	in.Category = "honorary"
	a, err := svc.Apply(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipPaid, a.Status)
	assert.Equal(t, 1, mailer.n)
}

func TestFinalize_IdempotentAndCompensating(t *testing.T) {
	store := newMemStore()
	mailer := &countingMailer{}
	svc := NewService(store, fees, mailer, nil, nil)
	ctx := context.Background()
	a, err := svc.Apply(ctx, nil, validInput())
	require.NoError(t, err)

	got, err := svc.Finalize(ctx, a.ID, "T1", models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipPaid, got.Status)

	_, err = svc.Finalize(ctx, a.ID, "T1", models.PaymentStatusCompleted)
	require.NoError(t, err)

	store.paidErr = errors.New("db down")
	_, err = svc.Finalize(ctx, a.ID, "T1", models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, 1, mailer.n)

	other, err := svc.Apply(ctx, nil, validInput())
	require.NoError(t, err)
	_, err = svc.Finalize(ctx, other.ID, "T2", models.PaymentStatusCompleted)
	assert.ErrorIs(t, err, ErrFinalizationFailed)
}

func TestFinalize_FailedThenPaid(t *testing.T) {
	svc := NewService(newMemStore(), fees, nil, nil, nil)
	ctx := context.Background()
	a, err := svc.Apply(ctx, nil, validInput())
	require.NoError(t, err)

	got, err := svc.Finalize(ctx, a.ID, "T1", models.PaymentStatusFailed)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipPaymentFailed, got.Status)

	got, err = svc.Finalize(ctx, a.ID, "T2", models.PaymentStatusCompleted)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipPaid, got.Status)
}

func TestReview(t *testing.T) {
	svc := NewService(newMemStore(), fees, nil, nil, nil)
	ctx := context.Background()
	a, err := svc.Apply(ctx, nil, validInput())
	require.NoError(t, err)
	admin := uuid.New()

	_, err = svc.Review(ctx, a.ID, admin, true)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = svc.Finalize(ctx, a.ID, "T1", models.PaymentStatusCompleted)
	require.NoError(t, err)
	got, err := svc.Review(ctx, a.ID, admin, true)
	require.NoError(t, err)
	assert.Equal(t, models.MembershipApproved, got.Status)

	_, err = svc.Review(ctx, uuid.New(), admin, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCategories_Sorted(t *testing.T) {
	svc := NewService(newMemStore(), fees, nil, nil, nil)
	cats := svc.Categories()
	require.Len(t, cats, 3)
	assert.Equal(t, "full", cats[0].Name)
	assert.Equal(t, "student", cats[2].Name)
}
