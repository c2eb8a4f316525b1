package models

import (
	"time"

	"github.com/google/uuid"
)

// MembershipStatus tracks an application from submission to review.
type MembershipStatus string

const (
	MembershipPendingPayment MembershipStatus = "pending_payment"
	MembershipPaid           MembershipStatus = "paid"
	MembershipPaymentFailed  MembershipStatus = "payment_failed"
	MembershipApproved       MembershipStatus = "approved"
	MembershipRejected       MembershipStatus = "rejected"
)

// MembershipApplication is a request to join the society, paid through the gateway.
type MembershipApplication struct {
	ID                uuid.UUID        `json:"id"`
	UserID            *uuid.UUID       `json:"user_id,omitempty"`
	FirstName         string           `json:"first_name"`
	LastName          string           `json:"last_name"`
	Email             string           `json:"email"`
	Phone             string           `json:"phone"`
	Category          string           `json:"category"`
	Profession        string           `json:"profession"`
	Institution       string           `json:"institution"`
	LicenseNumber     string           `json:"license_number"`
	AmountCents       int64            `json:"amount_cents"`
	Status            MembershipStatus `json:"status"`
	OrderTrackingID   string           `json:"order_tracking_id,omitempty"`
	MerchantReference string           `json:"merchant_reference,omitempty"`
	PaidAt            *time.Time       `json:"paid_at,omitempty"`
	ReviewedAt        *time.Time       `json:"reviewed_at,omitempty"`
	ReviewedBy        *uuid.UUID       `json:"reviewed_by,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}
