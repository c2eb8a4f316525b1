package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/memberships"
	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/internal/registrations"
)

// ErrNotPayable is returned when the record is not awaiting payment.
var ErrNotPayable = errors.New("record is not awaiting payment")

// Registrations is the registration side of payment orchestration.
type Registrations interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error
	Finalize(ctx context.Context, in registrations.FinalizeInput) (*models.Registration, error)
}

// Memberships is the membership side of payment orchestration.
type Memberships interface {
	Get(ctx context.Context, id uuid.UUID) (*models.MembershipApplication, error)
	AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error
	Finalize(ctx context.Context, id uuid.UUID, trackingID string, status models.PaymentStatus) (*models.MembershipApplication, error)
}

// EventLookup resolves event titles for payment descriptions.
type EventLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Event, error)
}

// CheckResult is the outcome of a one-shot status check.
type CheckResult struct {
	TrackingID        string               `json:"order_tracking_id"`
	MerchantReference string               `json:"merchant_reference"`
	Status            models.PaymentStatus `json:"status"`
	Finalized         bool                 `json:"finalized"`
	Watching          bool                 `json:"watching"`
}

// ServiceConfig holds payment orchestration settings.
type ServiceConfig struct {
	Currency string
	Poll     PollerConfig
}

// Service initiates payments, watches them and routes confirmed results to the owning record.
type Service struct {
	gateway  Gateway
	regs     Registrations
	members  Memberships
	events   EventLookup
	attempts AttemptStore
	bus      StatusBus
	registry *PollerRegistry
	currency string
	now      func() time.Time
	logger   *zap.Logger
}

// NewService wires the orchestration. members and events may be nil; nil attempts and bus
// fall back to in-process implementations.
func NewService(gateway Gateway, regs Registrations, members Memberships, events EventLookup, attempts AttemptStore, bus StatusBus, cfg ServiceConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if bus == nil {
		bus = NewMemoryBus()
	}
	if attempts == nil {
		attempts = NewMemoryAttempts()
	}
	if cfg.Currency == "" {
		cfg.Currency = "KES"
	}
	s := &Service{
		gateway:  gateway,
		regs:     regs,
		members:  members,
		events:   events,
		attempts: attempts,
		bus:      bus,
		currency: cfg.Currency,
		now:      time.Now,
		logger:   logger,
	}
	s.registry = NewPollerRegistry(gateway, s.finalize, bus, cfg.Poll, logger)
	return s
}

// Registry exposes the running pollers.
func (s *Service) Registry() *PollerRegistry {
	return s.registry
}

// Bus is the status bus watchers subscribe to.
func (s *Service) Bus() StatusBus {
	return s.bus
}

// InitiateRegistrationPayment opens a hosted payment for a pending registration and starts
// watching it. A completed or free registration returns an intent marked paid.
func (s *Service) InitiateRegistrationPayment(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	reg, err := s.regs.Get(ctx, id)
	if errors.Is(err, registrations.ErrNotFound) {
		return nil, fmt.Errorf("%w: registration %s", ErrUnknownTracking, id)
	}
	if err != nil {
		return nil, err
	}
	description, currency := "Event registration", s.currency
	if s.events != nil {
		if e, err := s.events.GetByID(ctx, reg.EventID); err == nil {
			description = "Registration: " + e.Title
			if e.Currency != "" {
				currency = e.Currency
			}
		}
	}
	if reg.PaymentStatus == models.PaymentStatusCompleted || reg.AmountCents <= 0 {
		return &models.PaymentIntent{
			OrderTrackingID:   reg.OrderTrackingID,
			MerchantReference: reg.MerchantReference,
			AmountCents:       reg.AmountCents,
			Currency:          currency,
			Paid:              true,
		}, nil
	}
	if reg.PaymentStatus != models.PaymentStatusPending {
		return nil, fmt.Errorf("%w: registration payment %s, register again", ErrNotPayable, reg.PaymentStatus)
	}

	order := Order{
		MerchantReference: NewMerchantReference(models.PaymentTagEvent, reg.ID, s.now()),
		Description:       description,
		AmountCents:       reg.AmountCents,
		Currency:          currency,
		Email:             reg.Email,
		FirstName:         reg.FirstName,
		LastName:          reg.LastName,
		Phone:             reg.Phone,
	}
	return s.initiate(ctx, order, reg.OrderTrackingID, func(trackingID, ref string) error {
		return s.regs.AttachPayment(ctx, reg.ID, trackingID, ref)
	})
}

// InitiateMembershipPayment opens a hosted payment for an unpaid membership application.
func (s *Service) InitiateMembershipPayment(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	if s.members == nil {
		return nil, fmt.Errorf("%w: memberships are not enabled", ErrUnknownTracking)
	}
	a, err := s.members.Get(ctx, id)
	if errors.Is(err, memberships.ErrNotFound) {
		return nil, fmt.Errorf("%w: membership application %s", ErrUnknownTracking, id)
	}
	if err != nil {
		return nil, err
	}
	if a.PaidAt != nil {
		return &models.PaymentIntent{
			OrderTrackingID:   a.OrderTrackingID,
			MerchantReference: a.MerchantReference,
			AmountCents:       a.AmountCents,
			Currency:          s.currency,
			Paid:              true,
		}, nil
	}
	if a.Status != models.MembershipPendingPayment && a.Status != models.MembershipPaymentFailed {
		return nil, fmt.Errorf("%w: application is %s", ErrNotPayable, a.Status)
	}
	order := Order{
		MerchantReference: NewMerchantReference(models.PaymentTagMembership, a.ID, s.now()),
		Description:       "Membership: " + a.Category,
		AmountCents:       a.AmountCents,
		Currency:          s.currency,
		Email:             a.Email,
		FirstName:         a.FirstName,
		LastName:          a.LastName,
		Phone:             a.Phone,
	}
	return s.initiate(ctx, order, a.OrderTrackingID, func(trackingID, ref string) error {
		return s.members.AttachPayment(ctx, a.ID, trackingID, ref)
	})
}

// initiate opens the hosted page and records it. The attempt is stored before the record
// moves to the new tracking id, so every issued tracking id stays verifiable.
func (s *Service) initiate(ctx context.Context, order Order, previousTracking string, attach func(trackingID, ref string) error) (*models.PaymentIntent, error) {
	intent, err := s.gateway.Initiate(ctx, order)
	if err != nil {
		s.logger.Error("payment initiation failed", zap.Error(err), zap.String("merchant_reference", order.MerchantReference))
		if !errors.Is(err, ErrInitiationFailed) {
			err = fmt.Errorf("%w: %v", ErrInitiationFailed, err)
		}
		return nil, err
	}
	if err := s.attempts.Record(ctx, Attempt{
		TrackingID:        intent.OrderTrackingID,
		MerchantReference: intent.MerchantReference,
		CreatedAt:         s.now().UTC(),
	}); err != nil {
		return nil, err
	}
	if err := attach(intent.OrderTrackingID, intent.MerchantReference); err != nil {
		return nil, fmt.Errorf("record payment reference: %w", err)
	}
	if previousTracking != "" && previousTracking != intent.OrderTrackingID {
		s.registry.Stop(previousTracking)
	}
	s.registry.Start(intent.OrderTrackingID, intent.MerchantReference)
	return intent, nil
}

// finalize routes a terminal status to the record named by the merchant reference.
func (s *Service) finalize(ctx context.Context, merchantRef, trackingID string, status models.PaymentStatus) error {
	tag, id, err := ParseMerchantReference(merchantRef)
	if err != nil {
		return err
	}
	switch tag {
	case models.PaymentTagEvent:
		_, err = s.regs.Finalize(ctx, registrations.FinalizeInput{RegistrationID: id, TrackingID: trackingID, Status: status})
	case models.PaymentTagMembership:
		if s.members == nil {
			return fmt.Errorf("%w: memberships are not enabled", ErrUnknownTracking)
		}
		_, err = s.members.Finalize(ctx, id, trackingID, status)
	}
	return err
}

// target is a payment resolved to the record it pays for.
type target struct {
	trackingID  string
	merchantRef string
	// settled is the recorded outcome, empty while the record still awaits payment.
	settled models.PaymentStatus
}

// resolve loads the record behind a payment and checks that trackingID was issued for it:
// either it is the record's current tracking id or an earlier attempt for the same record.
// An empty trackingID is filled from the record. An empty merchantRef is taken from a
// running poller or the attempt store.
func (s *Service) resolve(ctx context.Context, trackingID, merchantRef string) (*target, error) {
	if merchantRef == "" && trackingID != "" {
		if p, ok := s.registry.Get(trackingID); ok {
			merchantRef = p.MerchantReference()
		} else if a, err := s.attempts.Get(ctx, trackingID); err == nil {
			merchantRef = a.MerchantReference
		}
	}
	if merchantRef == "" {
		return nil, fmt.Errorf("%w: merchant reference required", ErrUnknownTracking)
	}
	tag, id, err := ParseMerchantReference(merchantRef)
	if err != nil {
		return nil, err
	}
	t := &target{merchantRef: merchantRef}
	var stored string
	switch tag {
	case models.PaymentTagEvent:
		reg, err := s.regs.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownTracking, err)
		}
		stored = reg.OrderTrackingID
		if reg.PaymentStatus.Terminal() {
			t.settled = reg.PaymentStatus
		}
	case models.PaymentTagMembership:
		if s.members == nil {
			return nil, fmt.Errorf("%w: memberships are not enabled", ErrUnknownTracking)
		}
		a, err := s.members.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownTracking, err)
		}
		stored = a.OrderTrackingID
		// A failed application may be paid again, so only a payment settles it.
		if a.PaidAt != nil {
			t.settled = models.PaymentStatusCompleted
		}
	}

	switch {
	case trackingID == "":
		trackingID = stored
	case trackingID != stored:
		ok, err := s.issuedFor(ctx, trackingID, tag, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: tracking id does not match %s", ErrUnknownTracking, merchantRef)
		}
	}
	if trackingID == "" {
		return nil, fmt.Errorf("%w: no payment started for %s", ErrUnknownTracking, merchantRef)
	}
	t.trackingID = trackingID
	return t, nil
}

// issuedFor reports whether trackingID is an earlier attempt for the record tag/id.
func (s *Service) issuedFor(ctx context.Context, trackingID, tag string, id uuid.UUID) (bool, error) {
	a, err := s.attempts.Get(ctx, trackingID)
	if errors.Is(err, ErrUnknownTracking) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("look up payment attempt: %w", err)
	}
	attemptTag, attemptID, err := ParseMerchantReference(a.MerchantReference)
	if err != nil {
		return false, nil
	}
	return attemptTag == tag && attemptID == id, nil
}

// CheckNow runs one status check immediately and finalizes a terminal result. A payment
// still pending keeps (or resumes) its background poller.
func (s *Service) CheckNow(ctx context.Context, trackingID, merchantRef string) (*CheckResult, error) {
	t, err := s.resolve(ctx, trackingID, merchantRef)
	if err != nil {
		return nil, err
	}
	trackingID, merchantRef = t.trackingID, t.merchantRef
	status, err := s.gateway.Status(ctx, trackingID)
	if err != nil {
		s.logger.Warn("manual status check failed", zap.Error(err), zap.String("order_tracking_id", trackingID))
		if !errors.Is(err, ErrVerificationFailed) {
			err = fmt.Errorf("%w: %v", ErrVerificationFailed, err)
		}
		return nil, err
	}
	res := &CheckResult{TrackingID: trackingID, MerchantReference: merchantRef, Status: status}
	s.publish(ctx, StatusEvent{TrackingID: trackingID, MerchantReference: merchantRef, Stage: StageStatus, Status: status})

	if !status.Terminal() {
		s.registry.Start(trackingID, merchantRef)
		res.Watching = true
		return res, nil
	}
	if err := s.finalize(ctx, merchantRef, trackingID, status); err != nil {
		s.publish(ctx, StatusEvent{TrackingID: trackingID, MerchantReference: merchantRef, Stage: StageFinalizationFailed, Status: status, Message: err.Error()})
		return res, err
	}
	res.Finalized = true
	s.publish(ctx, StatusEvent{TrackingID: trackingID, MerchantReference: merchantRef, Stage: StageFinalized, Status: status})
	s.registry.Stop(trackingID)
	return res, nil
}

// ConfirmRegistrationPayment re-verifies a payment reported for a registration. The status
// is always read from the gateway; an empty trackingID checks the latest attempt.
func (s *Service) ConfirmRegistrationPayment(ctx context.Context, id uuid.UUID, trackingID string) (*CheckResult, error) {
	reg, err := s.regs.Get(ctx, id)
	if errors.Is(err, registrations.ErrNotFound) {
		return nil, fmt.Errorf("%w: registration %s", ErrUnknownTracking, id)
	}
	if err != nil {
		return nil, err
	}
	if reg.MerchantReference == "" {
		return nil, fmt.Errorf("%w: no payment started for registration %s", ErrUnknownTracking, id)
	}
	return s.CheckNow(ctx, trackingID, reg.MerchantReference)
}

// Watch prepares a live status stream for trackingID. When the record has already settled
// it returns the final event and nothing is polled. Otherwise polling runs on this
// instance (a no-op if it already does) and nil is returned.
func (s *Service) Watch(ctx context.Context, trackingID, merchantRef string) (*StatusEvent, error) {
	if trackingID == "" {
		return nil, fmt.Errorf("%w: tracking id required", ErrUnknownTracking)
	}
	t, err := s.resolve(ctx, trackingID, merchantRef)
	if err != nil {
		return nil, err
	}
	if t.settled != "" {
		return &StatusEvent{
			TrackingID:        t.trackingID,
			MerchantReference: t.merchantRef,
			Stage:             StageFinalized,
			Status:            t.settled,
			At:                s.now().UTC(),
		}, nil
	}
	s.registry.Start(t.trackingID, t.merchantRef)
	return nil, nil
}

// StopWatching cancels polling of trackingID here and asks other instances to do the same.
// It reports whether a poller was running on this instance.
func (s *Service) StopWatching(ctx context.Context, trackingID string) bool {
	stopped := s.registry.Stop(trackingID)
	s.publish(ctx, StatusEvent{TrackingID: trackingID, Stage: StageStopRequested})
	return stopped
}

// Shutdown stops all pollers.
func (s *Service) Shutdown() {
	s.registry.StopAll()
}

func (s *Service) publish(ctx context.Context, ev StatusEvent) {
	ev.At = s.now().UTC()
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish status event", zap.Error(err))
	}
}
