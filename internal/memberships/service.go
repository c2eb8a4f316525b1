package memberships

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/medsociety/portal/internal/models"
	"github.com/medsociety/portal/pkg/mq"
	"github.com/medsociety/portal/pkg/queue"
)

var (
	ErrNotFound = errors.New("membership application not found")
	// ErrInvalidState is returned when an action does not fit the application's status.
	ErrInvalidState = errors.New("membership application is not in a valid state for this action")
	// ErrFinalizationFailed means payment succeeded but the application could not be marked paid.
	ErrFinalizationFailed = errors.New("payment successful, membership update failed")
)

// ValidationError reports a missing or malformed application field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Store persists membership applications.
type Store interface {
	Create(ctx context.Context, a *models.MembershipApplication) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.MembershipApplication, error)
	List(ctx context.Context, status models.MembershipStatus) ([]models.MembershipApplication, error)
	AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error
	// MarkPaid moves an unpaid application to paid; false means no row changed.
	MarkPaid(ctx context.Context, id uuid.UUID, trackingID string, paidAt time.Time) (bool, error)
	// MarkPaymentFailed moves a pending application to payment_failed.
	MarkPaymentFailed(ctx context.Context, id uuid.UUID, trackingID string) (bool, error)
	// Review moves a paid application to approved or rejected; false means it was not paid.
	Review(ctx context.Context, id uuid.UUID, status models.MembershipStatus, reviewer uuid.UUID, at time.Time) (bool, error)
}

// Mailer enqueues transactional emails.
type Mailer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// Publisher emits domain events.
type Publisher interface {
	Publish(ctx context.Context, key string, data interface{}) error
}

// ApplyInput is a membership application form.
type ApplyInput struct {
	FirstName     string `json:"first_name" validate:"required"`
	LastName      string `json:"last_name" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone" validate:"required"`
	Category      string `json:"category" validate:"required"`
	Profession    string `json:"profession"`
	Institution   string `json:"institution"`
	LicenseNumber string `json:"license_number"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Service manages membership applications and their payment.
type Service struct {
	store     Store
	fees      map[string]int64
	mailer    Mailer
	publisher Publisher
	validate  *validator.Validate
	now       func() time.Time
	logger    *zap.Logger
}

// NewService creates a membership service. fees maps category to amount in minor units.
func NewService(store Store, fees map[string]int64, mailer Mailer, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if publisher == nil {
		publisher = mq.Noop{}
	}
	return &Service{
		store:     store,
		fees:      fees,
		mailer:    mailer,
		publisher: publisher,
		validate:  newValidator(),
		now:       time.Now,
		logger:    logger,
	}
}

// Categories returns the configured categories and fees, sorted by name.
func (s *Service) Categories() []Category {
	out := make([]Category, 0, len(s.fees))
	for name, fee := range s.fees {
		out = append(out, Category{Name: name, FeeCents: fee})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Category is a membership tier with its fee.
type Category struct {
	Name     string `json:"name"`
	FeeCents int64  `json:"fee_cents"`
}

// Apply records an application. Categories without a fee are paid on submission.
func (s *Service) Apply(ctx context.Context, userID *uuid.UUID, in ApplyInput) (*models.MembershipApplication, error) {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Category = strings.ToLower(strings.TrimSpace(in.Category))
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return nil, &ValidationError{Field: verrs[0].Field(), Message: "failed " + verrs[0].Tag() + " check"}
		}
		return nil, err
	}
	fee, ok := s.fees[in.Category]
	if !ok {
		return nil, &ValidationError{Field: "category", Message: "unknown membership category"}
	}

	a := &models.MembershipApplication{
		UserID:        userID,
		FirstName:     in.FirstName,
		LastName:      in.LastName,
		Email:         in.Email,
		Phone:         in.Phone,
		Category:      in.Category,
		Profession:    in.Profession,
		Institution:   in.Institution,
		LicenseNumber: in.LicenseNumber,
		AmountCents:   fee,
		Status:        models.MembershipPendingPayment,
	}
	if fee <= 0 {
		now := s.now()
		a.Status = models.MembershipPaid
		a.PaidAt = &now
	}
	if err := s.store.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("create application: %w", err)
	}
	s.logger.Info("membership application received",
		zap.String("application_id", a.ID.String()),
		zap.String("category", a.Category),
	)
	if a.Status == models.MembershipPaid {
		s.paid(ctx, a)
	}
	return a, nil
}

// Get returns an application by ID.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.MembershipApplication, error) {
	return s.store.GetByID(ctx, id)
}

// List returns applications, optionally filtered by status.
func (s *Service) List(ctx context.Context, status models.MembershipStatus) ([]models.MembershipApplication, error) {
	return s.store.List(ctx, status)
}

// AttachPayment records the gateway identifiers of an initiated payment.
func (s *Service) AttachPayment(ctx context.Context, id uuid.UUID, trackingID, merchantRef string) error {
	return s.store.AttachPayment(ctx, id, trackingID, merchantRef)
}

// Finalize applies a gateway status. COMPLETED is idempotent and, if the update fails,
// succeeds anyway when the application is found already paid or reviewed.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, trackingID string, status models.PaymentStatus) (*models.MembershipApplication, error) {
	switch status {
	case models.PaymentStatusPending:
		return s.store.GetByID(ctx, id)
	case models.PaymentStatusFailed:
		changed, err := s.store.MarkPaymentFailed(ctx, id, trackingID)
		if err != nil {
			return nil, fmt.Errorf("mark payment failed: %w", err)
		}
		if changed {
			s.logger.Info("membership payment failed", zap.String("application_id", id.String()))
		}
		return s.store.GetByID(ctx, id)
	case models.PaymentStatusCompleted:
	default:
		return nil, &ValidationError{Field: "status", Message: "must be PENDING, COMPLETED or FAILED"}
	}

	changed, attemptErr := s.store.MarkPaid(ctx, id, trackingID, s.now())
	current, err := s.store.GetByID(ctx, id)
	if attemptErr == nil && changed && err == nil {
		s.logger.Info("membership payment finalized", zap.String("application_id", id.String()), zap.String("order_tracking_id", trackingID))
		s.paid(ctx, current)
		return current, nil
	}
	if err == nil && current.PaidAt != nil {
		return current, nil
	}
	cause := attemptErr
	if cause == nil {
		cause = err
	}
	if cause == nil {
		cause = errors.New("application not updated")
	}
	s.logger.Error("membership finalization failed", zap.Error(cause), zap.String("application_id", id.String()))
	return nil, fmt.Errorf("%w: %v", ErrFinalizationFailed, cause)
}

// Review approves or rejects a paid application.
func (s *Service) Review(ctx context.Context, id, reviewer uuid.UUID, approve bool) (*models.MembershipApplication, error) {
	status := models.MembershipRejected
	if approve {
		status = models.MembershipApproved
	}
	changed, err := s.store.Review(ctx, id, status, reviewer, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		if _, err := s.store.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrInvalidState
	}
	return s.store.GetByID(ctx, id)
}

func (s *Service) paid(ctx context.Context, a *models.MembershipApplication) {
	if s.mailer != nil {
		err := s.mailer.EnqueueEmail(ctx, queue.EmailPayload{
			EmailType:      models.EmailTypeMembershipReceived,
			RecipientEmail: a.Email,
			MembershipID:   &a.ID,
			Data: map[string]string{
				"first_name":         a.FirstName,
				"last_name":          a.LastName,
				"category":           a.Category,
				"amount_cents":       fmt.Sprint(a.AmountCents),
				"merchant_reference": a.MerchantReference,
			},
		})
		if err != nil {
			s.logger.Warn("enqueue membership email", zap.Error(err))
		}
	}
	if err := s.publisher.Publish(ctx, mq.RoutingMembershipPaid, a); err != nil {
		s.logger.Warn("publish membership paid", zap.Error(err))
	}
}
