package registrations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/mq"
	"github.com/medsociety/portal/pkg/queue"
)

// Caller is the authenticated identity behind a request. A nil *Caller is a guest.
type Caller struct {
	UserID uuid.UUID
	Email  string
	Role   models.Role
}

// IsMember reports whether the caller pays member prices.
func (c *Caller) IsMember() bool {
	return c != nil && (c.Role == models.RoleMember || c.Role == models.RoleAdmin)
}

// Admit decides under the event lock what to insert. taken counts registrations
// holding a seat; existing is the caller's prior registration, if any.
type Admit func(e *models.Event, taken int, existing *models.Registration) (*models.Registration, error)

// Store persists registrations.
type Store interface {
	// Book serializes admissions per event. When admit returns a registration, it is inserted
	// (or replaces existing when that one failed payment) and returned with its ID set.
	Book(ctx context.Context, eventID uuid.UUID, email string, userID *uuid.UUID, admit Admit) (*models.Registration, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Registration, error)
	GetByEventEmail(ctx context.Context, eventID uuid.UUID, email string) (*models.Registration, error)
	GetByEventUser(ctx context.Context, eventID, userID uuid.UUID) (*models.Registration, error)
	// MarkCompleted moves a not-yet-completed registration to COMPLETED; false means no row changed.
	MarkCompleted(ctx context.Context, id uuid.UUID, trackingID string, paidAt time.Time) (bool, error)
	// MarkFailed moves a PENDING registration to FAILED; false means no row changed.
	MarkFailed(ctx context.Context, id uuid.UUID, trackingID string) (bool, error)
	AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error
	ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error)
	SetAttendance(ctx context.Context, id uuid.UUID, attended bool) (*models.Registration, error)
}

// Mailer enqueues transactional emails.
type Mailer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, key string, data interface{}) error
}

// RegisterInput is a registrant's submission for an event.
type RegisterInput struct {
	EventID       uuid.UUID
	FirstName     string
	LastName      string
	Email         string
	Phone         string
	PaymentMethod models.PaymentMethod
}

// FinalizeInput identifies a registration either by ID or by (EventID, Email).
type FinalizeInput struct {
	RegistrationID uuid.UUID
	EventID        uuid.UUID
	Email          string
	TrackingID     string
	Status         models.PaymentStatus
}

// Service records and finalizes event registrations.
type Service struct {
	store     Store
	mailer    Mailer
	publisher Publisher
	validate  *validator.Validate
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a registration service. mailer and publisher may be nil.
func NewService(store Store, mailer Mailer, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = mq.Noop{}
	}
	return &Service{
		store:     store,
		mailer:    mailer,
		publisher: publisher,
		validate:  validator.New(),
		now:       time.Now,
		logger:    logger,
	}
}

var phoneCleaner = strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")

func (s *Service) normalize(in *RegisterInput) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = phoneCleaner.Replace(strings.TrimSpace(in.Phone))
	if in.FirstName == "" {
		return invalid("first_name", "is required")
	}
	if in.LastName == "" {
		return invalid("last_name", "is required")
	}
	if err := s.validate.Var(in.Email, "required,email"); err != nil {
		return invalid("email", "must be a valid email address")
	}
	if in.Phone != "" {
		if err := s.validate.Var(in.Phone, "e164|numeric"); err != nil {
			return invalid("phone", "must be digits, optionally in +E.164 form")
		}
	}
	if in.PaymentMethod != "" && !in.PaymentMethod.Valid() {
		return invalid("payment_method", "must be FREE or GATEWAY")
	}
	return nil
}

// Register records a registration. Checks run in order: event exists, deadline, duplicate,
// capacity. On ErrAlreadyRegistered the existing registration is returned alongside the error.
func (s *Service) Register(ctx context.Context, caller *Caller, in RegisterInput) (*models.Registration, error) {
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	var userID *uuid.UUID
	if caller != nil {
		id := caller.UserID
		userID = &id
	}
	now := s.now()

	reg, err := s.store.Book(ctx, in.EventID, in.Email, userID, func(e *models.Event, taken int, existing *models.Registration) (*models.Registration, error) {
		if e.DeadlinePassed(now) {
			return nil, ErrDeadlineExceeded
		}
		if existing != nil && existing.PaymentStatus != models.PaymentStatusFailed {
			return existing, ErrAlreadyRegistered
		}
		if e.Full(taken) {
			return nil, ErrCapacityExceeded
		}
		amount := e.PriceFor(caller.IsMember())
		r := &models.Registration{
			EventID:     e.ID,
			UserID:      userID,
			FirstName:   in.FirstName,
			LastName:    in.LastName,
			Email:       in.Email,
			Phone:       in.Phone,
			AmountCents: amount,
		}
		switch {
		case amount <= 0:
			r.PaymentMethod = models.PaymentMethodFree
			r.PaymentStatus = models.PaymentStatusCompleted
			r.PaidAt = &now
		case in.PaymentMethod == models.PaymentMethodFree:
			return nil, invalid("payment_method", "this event requires payment")
		default:
			r.PaymentMethod = models.PaymentMethodGateway
			r.PaymentStatus = models.PaymentStatusPending
		}
		return r, nil
	})
	if errors.Is(err, ErrAlreadyRegistered) {
		return reg, err
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("registration recorded",
		zap.String("registration_id", reg.ID.String()),
		zap.String("event_id", reg.EventID.String()),
		zap.String("payment_status", string(reg.PaymentStatus)),
		zap.Bool("guest", caller == nil),
	)
	if reg.PaymentStatus == models.PaymentStatusCompleted {
		s.completed(ctx, reg)
	}
	return reg, nil
}

// IsRegistered reports whether email holds a live registration for the event.
func (s *Service) IsRegistered(ctx context.Context, eventID uuid.UUID, email string) (bool, error) {
	reg, err := s.store.GetByEventEmail(ctx, eventID, strings.ToLower(strings.TrimSpace(email)))
	return live(reg, err)
}

// IsUserRegistered reports whether the user holds a live registration for the event.
func (s *Service) IsUserRegistered(ctx context.Context, eventID, userID uuid.UUID) (bool, error) {
	reg, err := s.store.GetByEventUser(ctx, eventID, userID)
	return live(reg, err)
}

func live(reg *models.Registration, err error) (bool, error) {
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return reg.PaymentStatus != models.PaymentStatusFailed, nil
}

// Get returns a registration by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Registration, error) {
	return s.store.GetByID(ctx, id)
}

func (s *Service) resolve(ctx context.Context, in FinalizeInput) (*models.Registration, error) {
	if in.RegistrationID != uuid.Nil {
		return s.store.GetByID(ctx, in.RegistrationID)
	}
	if in.EventID == uuid.Nil || in.Email == "" {
		return nil, invalid("registration_id", "registration id or event id and email are required")
	}
	return s.store.GetByEventEmail(ctx, in.EventID, strings.ToLower(strings.TrimSpace(in.Email)))
}

// Finalize applies a gateway-confirmed status to a registration. It is idempotent:
// finalizing an already completed registration succeeds without repeating side effects.
//
// COMPLETED runs as a two-step saga. The conditional update is attempted first; if it
// fails or changes nothing, the registration is re-read and a completed row counts as
// success. Only a registration that is still not completed yields ErrFinalizationFailed.
func (s *Service) Finalize(ctx context.Context, in FinalizeInput) (*models.Registration, error) {
	switch in.Status {
	case models.PaymentStatusCompleted:
		return s.finalizeCompleted(ctx, in)
	case models.PaymentStatusFailed:
		return s.finalizeFailed(ctx, in)
	case models.PaymentStatusPending:
		return s.resolve(ctx, in)
	default:
		return nil, invalid("status", "must be PENDING, COMPLETED or FAILED")
	}
}

func (s *Service) finalizeCompleted(ctx context.Context, in FinalizeInput) (*models.Registration, error) {
	reg, attemptErr := s.resolve(ctx, in)
	var ve *ValidationError
	if errors.As(attemptErr, &ve) {
		return nil, attemptErr
	}
	if attemptErr == nil {
		var changed bool
		changed, attemptErr = s.store.MarkCompleted(ctx, reg.ID, in.TrackingID, s.now())
		if attemptErr == nil && changed {
			if fresh, err := s.store.GetByID(ctx, reg.ID); err == nil {
				reg = fresh
			} else {
				s.logger.Warn("reload finalized registration", zap.Error(err))
				reg.PaymentStatus = models.PaymentStatusCompleted
				if in.TrackingID != "" {
					reg.OrderTrackingID = in.TrackingID
				}
			}
			s.logger.Info("registration finalized",
				zap.String("registration_id", reg.ID.String()),
				zap.String("order_tracking_id", in.TrackingID),
			)
			s.completed(ctx, reg)
			return reg, nil
		}
	}

	// Compensation: is the registrant already registered with a completed payment?
	current, err := s.resolve(ctx, in)
	if err == nil && current.PaymentStatus == models.PaymentStatusCompleted {
		s.logger.Info("registration already finalized",
			zap.String("registration_id", current.ID.String()),
			zap.String("order_tracking_id", in.TrackingID),
		)
		return current, nil
	}
	cause := attemptErr
	if cause == nil {
		cause = err
	}
	if cause == nil {
		cause = errors.New("registration not updated")
	}
	s.logger.Error("registration finalization failed",
		zap.Error(cause),
		zap.String("registration_id", in.RegistrationID.String()),
		zap.String("event_id", in.EventID.String()),
		zap.String("order_tracking_id", in.TrackingID),
	)
	return nil, fmt.Errorf("%w: %v", ErrFinalizationFailed, cause)
}

func (s *Service) finalizeFailed(ctx context.Context, in FinalizeInput) (*models.Registration, error) {
	reg, err := s.resolve(ctx, in)
	if err != nil {
		return nil, err
	}
	changed, err := s.store.MarkFailed(ctx, reg.ID, in.TrackingID)
	if err != nil {
		return nil, fmt.Errorf("mark registration failed: %w", err)
	}
	if changed {
		reg.PaymentStatus = models.PaymentStatusFailed
		s.logger.Info("registration payment failed",
			zap.String("registration_id", reg.ID.String()),
			zap.String("order_tracking_id", in.TrackingID),
		)
		if err := s.publisher.Publish(ctx, mq.RoutingRegistrationFailed, reg); err != nil {
			s.logger.Warn("publish registration failed", zap.Error(err))
		}
	}
	return reg, nil
}

// completed runs the side effects of a newly completed registration. Failures are logged.
func (s *Service) completed(ctx context.Context, reg *models.Registration) {
	if s.mailer != nil {
		if err := s.mailer.EnqueueEmail(ctx, ConfirmationEmail(reg)); err != nil {
			s.logger.Warn("enqueue confirmation email", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		}
	}
	if err := s.publisher.Publish(ctx, mq.RoutingRegistrationCompleted, reg); err != nil {
		s.logger.Warn("publish registration completed", zap.Error(err))
	}
}

// ConfirmationEmail builds the email job for a completed registration: a receipt for
// gateway payments, a plain confirmation otherwise.
func ConfirmationEmail(reg *models.Registration) queue.EmailPayload {
	emailType := models.EmailTypeRegistrationConfirmation
	if reg.PaymentMethod == models.PaymentMethodGateway {
		emailType = models.EmailTypePaymentReceipt
	}
	eventID, regID := reg.EventID, reg.ID
	return queue.EmailPayload{
		EmailType:      emailType,
		RecipientEmail: reg.Email,
		EventID:        &eventID,
		RegistrationID: &regID,
		Data: map[string]string{
			"first_name":         reg.FirstName,
			"last_name":          reg.LastName,
			"amount_cents":       fmt.Sprint(reg.AmountCents),
			"order_tracking_id":  reg.OrderTrackingID,
			"merchant_reference": reg.MerchantReference,
		},
	}
}

// AttachPayment records the gateway identifiers of an initiated payment.
func (s *Service) AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error {
	return s.store.AttachPayment(ctx, id, trackingID, merchantRef)
}

// ListByEvent returns every registration of an event.
func (s *Service) ListByEvent(ctx context.Context, eventID uuid.UUID) ([]models.Registration, error) {
	return s.store.ListByEvent(ctx, eventID)
}

// SetAttendance records whether a registrant attended. Only paid-up registrations may attend.
func (s *Service) SetAttendance(ctx context.Context, id uuid.UUID, attended bool) (*models.Registration, error) {
	reg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if attended && reg.PaymentStatus != models.PaymentStatusCompleted {
		return nil, invalid("attended", "registration payment is not completed")
	}
	return s.store.SetAttendance(ctx, id, attended)
}
