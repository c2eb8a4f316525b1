package registrations

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/queue"
)

// memStore mirrors Repository semantics in memory. One mutex plays the event row lock.
type memStore struct {
	mu          sync.Mutex
	events      map[uuid.UUID]*models.Event
	regs        map[uuid.UUID]*models.Registration
	completeErr error
}

func newMemStore() *memStore {
	return &memStore{events: map[uuid.UUID]*models.Event{}, regs: map[uuid.UUID]*models.Registration{}}
}

func (m *memStore) addEvent(e *models.Event) *models.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	m.events[e.ID] = e
	return e
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regs)
}

func clone(r *models.Registration) *models.Registration {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

func (m *memStore) Book(_ context.Context, eventID uuid.UUID, email string, userID *uuid.UUID, admit Admit) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	taken := 0
	var existing *models.Registration
	for _, r := range m.regs {
		if r.EventID != eventID {
			continue
		}
		if r.PaymentStatus != models.PaymentStatusFailed {
			taken++
		}
		match := strings.EqualFold(r.Email, email) || (userID != nil && r.UserID != nil && *r.UserID == *userID)
		if match && (existing == nil || existing.PaymentStatus == models.PaymentStatusFailed) {
			existing = r
		}
	}
	reg, err := admit(e, taken, clone(existing))
	if err != nil {
		return reg, err
	}
	now := time.Now()
	if existing != nil {
		reg.ID, reg.CreatedAt = existing.ID, existing.CreatedAt
	} else {
		reg.ID, reg.CreatedAt = uuid.New(), now
	}
	reg.UpdatedAt = now
	m.regs[reg.ID] = clone(reg)
	return reg, nil
}

func (m *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.regs[id]; ok {
		return clone(r), nil
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByEventEmail(_ context.Context, eventID uuid.UUID, email string) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.EventID == eventID && strings.EqualFold(r.Email, email) {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GetByEventUser(_ context.Context, eventID, userID uuid.UUID) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.regs {
		if r.EventID == eventID && r.UserID != nil && *r.UserID == userID {
			return clone(r), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) MarkCompleted(_ context.Context, id uuid.UUID, trackingID string, paidAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		return false, m.completeErr
	}
	r, ok := m.regs[id]
	if !ok || r.PaymentStatus == models.PaymentStatusCompleted {
		return false, nil
	}
	r.PaymentStatus = models.PaymentStatusCompleted
	r.PaidAt = &paidAt
	if trackingID != "" {
		r.OrderTrackingID = trackingID
	}
	return true, nil
}

func (m *memStore) MarkFailed(_ context.Context, id uuid.UUID, trackingID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok || r.PaymentStatus != models.PaymentStatusPending {
		return false, nil
	}
	r.PaymentStatus = models.PaymentStatusFailed
	if trackingID != "" {
		r.OrderTrackingID = trackingID
	}
	return true, nil
}

func (m *memStore) AttachPayment(_ context.Context, id uuid.UUID, trackingID, merchantRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return ErrNotFound
	}
	r.OrderTrackingID, r.MerchantReference = trackingID, merchantRef
	return nil
}

func (m *memStore) ListByEvent(_ context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Registration
	for _, r := range m.regs {
		if r.EventID == eventID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (m *memStore) SetAttendance(_ context.Context, id uuid.UUID, attended bool) (*models.Registration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regs[id]
	if !ok {
		return nil, ErrNotFound
	}
	r.Attended = attended
	return clone(r), nil
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []queue.EmailPayload
}

func (m *recordingMailer) EnqueueEmail(_ context.Context, p queue.EmailPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, p)
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type recordingPublisher struct {
	mu   sync.Mutex
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}
