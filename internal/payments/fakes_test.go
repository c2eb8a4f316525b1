package payments

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/medsociety/portal/internal/memberships"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/internal/registrations"
)

type statusReply struct {
	status models.PaymentStatus
	err    error
}

// scriptedGateway replays replies in order and repeats the last one.
type scriptedGateway struct {
	mu      sync.Mutex
	replies []statusReply
	calls   int
	block   bool
	entered chan struct{}
	initErr error
	orders  []Order
	nextID  int
}

func newScriptedGateway(replies ...statusReply) *scriptedGateway {
	return &scriptedGateway{replies: replies, entered: make(chan struct{}, 16)}
}

func (g *scriptedGateway) Initiate(_ context.Context, o Order) (*models.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.orders = append(g.orders, o)
	g.nextID++
	return &models.PaymentIntent{
		RedirectURL:       "https://pay.example/" + o.MerchantReference,
		OrderTrackingID:   "trk-" + string(rune('0'+g.nextID)),
		MerchantReference: o.MerchantReference,
		AmountCents:       o.AmountCents,
		Currency:          o.Currency,
	}, nil
}

// Status returns the next reply. With block set it waits for cancellation and then
// answers COMPLETED, standing in for a response that arrives too late.
func (g *scriptedGateway) Status(ctx context.Context, _ string) (models.PaymentStatus, error) {
	g.mu.Lock()
	g.calls++
	block := g.block
	var r statusReply
	if len(g.replies) > 0 {
		i := g.calls - 1
		if i >= len(g.replies) {
			i = len(g.replies) - 1
		}
		r = g.replies[i]
	} else {
		r = statusReply{status: models.PaymentStatusPending}
	}
	g.mu.Unlock()

	select {
	case g.entered <- struct{}{}:
	default:
	}
	if block {
		<-ctx.Done()
		return models.PaymentStatusCompleted, nil
	}
	return r.status, r.err
}

func (g *scriptedGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type finalizeCall struct {
	merchantRef string
	trackingID  string
	status      models.PaymentStatus
}

type recordingFinalizer struct {
	mu    sync.Mutex
	calls []finalizeCall
	err   error
}

func (f *recordingFinalizer) finalize(_ context.Context, ref, trackingID string, status models.PaymentStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, finalizeCall{ref, trackingID, status})
	return f.err
}

func (f *recordingFinalizer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// eventLog subscribes to a bus and keeps every event.
type eventLog struct {
	mu     sync.Mutex
	events []StatusEvent
}

func watch(bus StatusBus, trackingID string) *eventLog {
	l := &eventLog{}
	_, _ = bus.Subscribe(trackingID, func(ev StatusEvent) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.events = append(l.events, ev)
	})
	return l
}

func (l *eventLog) stages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Stage)
	}
	return out
}

type fakeRegistrations struct {
	mu          sync.Mutex
	regs        map[uuid.UUID]*models.Registration
	finalized   []registrations.FinalizeInput
	finalizeErr error
}

func newFakeRegistrations() *fakeRegistrations {
	return &fakeRegistrations{regs: map[uuid.UUID]*models.Registration{}}
}

func (f *fakeRegistrations) add(r *models.Registration) *models.Registration {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	f.regs[r.ID] = r
	return r
}

func (f *fakeRegistrations) Get(_ context.Context, id uuid.UUID) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[id]
	if !ok {
		return nil, registrations.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRegistrations) AttachPayment(_ context.Context, id uuid.UUID, trackingID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.regs[id]
	if !ok {
		return registrations.ErrNotFound
	}
	r.OrderTrackingID, r.MerchantReference = trackingID, ref
	return nil
}

func (f *fakeRegistrations) Finalize(_ context.Context, in registrations.FinalizeInput) (*models.Registration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finalized = append(f.finalized, in)
	if f.finalizeErr != nil {
		return nil, f.finalizeErr
	}
	r, ok := f.regs[in.RegistrationID]
	if !ok {
		return nil, registrations.ErrNotFound
	}
	r.PaymentStatus = in.Status
	cp := *r
	return &cp, nil
}

func (f *fakeRegistrations) finalizeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finalized)
}

type fakeMemberships struct {
	mu   sync.Mutex
	apps map[uuid.UUID]*models.MembershipApplication
}

func newFakeMemberships() *fakeMemberships {
	return &fakeMemberships{apps: map[uuid.UUID]*models.MembershipApplication{}}
}

func (f *fakeMemberships) add(a *models.MembershipApplication) *models.MembershipApplication {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	f.apps[a.ID] = a
	return a
}

func (f *fakeMemberships) Get(_ context.Context, id uuid.UUID) (*models.MembershipApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, memberships.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeMemberships) AttachPayment(_ context.Context, id uuid.UUID, trackingID, ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return memberships.ErrNotFound
	}
	a.OrderTrackingID, a.MerchantReference = trackingID, ref
	return nil
}

func (f *fakeMemberships) Finalize(_ context.Context, id uuid.UUID, trackingID string, status models.PaymentStatus) (*models.MembershipApplication, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.apps[id]
	if !ok {
		return nil, memberships.ErrNotFound
	}
	switch status {
	case models.PaymentStatusCompleted:
		now := time.Now()
		a.Status, a.PaidAt = models.MembershipPaid, &now
	case models.PaymentStatusFailed:
		a.Status = models.MembershipPaymentFailed
	}
	cp := *a
	return &cp, nil
}

type fakeEvents map[uuid.UUID]*models.Event

func (f fakeEvents) GetByID(_ context.Context, id uuid.UUID) (*models.Event, error) {
	e, ok := f[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return e, nil
}
