// Package payments drives hosted gateway payments for event registrations and membership
// applications: initiation, background status polling and finalization.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medsociety/portal/internal/models"
)

var (
	// ErrInitiationFailed wraps any failure to open a hosted payment.
	ErrInitiationFailed = errors.New("payment initiation failed")
	// ErrVerificationFailed wraps a failed status lookup. Pollers treat it as transient.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrUnknownTracking means a tracking id or merchant reference maps to no payable record.
	ErrUnknownTracking = errors.New("unknown payment reference")
)

// Order is what the gateway needs to open a hosted payment page.
type Order struct {
	MerchantReference string
	Description       string
	AmountCents       int64
	Currency          string
	Email             string
	FirstName         string
	LastName          string
	Phone             string
}

// Gateway is a hosted payment provider. Status must be free of side effects.
type Gateway interface {
	Initiate(ctx context.Context, o Order) (*models.PaymentIntent, error)
	Status(ctx context.Context, trackingID string) (models.PaymentStatus, error)
}

// NewMerchantReference builds "<TAG>-<id>-<attempt>". The attempt suffix keeps references
// unique when a payment is re-initiated for the same record.
func NewMerchantReference(tag string, id uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s-%s-%s", tag, id, strconv.FormatInt(at.UnixMilli(), 36))
}

// ParseMerchantReference splits a merchant reference into its tag and record id.
func ParseMerchantReference(ref string) (tag string, id uuid.UUID, err error) {
	tag, rest, ok := strings.Cut(strings.TrimSpace(ref), "-")
	if !ok || len(rest) < 36 {
		return "", uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownTracking, ref)
	}
	if tag != models.PaymentTagEvent && tag != models.PaymentTagMembership {
		return "", uuid.Nil, fmt.Errorf("%w: tag %q", ErrUnknownTracking, tag)
	}
	id, err = uuid.Parse(rest[:36])
	if err != nil {
		return "", uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownTracking, ref)
	}
	return tag, id, nil
}
