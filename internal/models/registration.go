package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod is how a registrant pays.
type PaymentMethod string

const (
	PaymentMethodFree    PaymentMethod = "FREE"
	PaymentMethodGateway PaymentMethod = "GATEWAY"
)

// Valid reports whether m is a known method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodFree || m == PaymentMethodGateway
}

// Registration is a guest or member registration for an event.
type Registration struct {
	ID                uuid.UUID     `json:"id"`
	EventID           uuid.UUID     `json:"event_id"`
	UserID            *uuid.UUID    `json:"user_id,omitempty"`
	FirstName         string        `json:"first_name"`
	LastName          string        `json:"last_name"`
	Email             string        `json:"email"`
	Phone             string        `json:"phone"`
	PaymentMethod     PaymentMethod `json:"payment_method"`
	PaymentStatus     PaymentStatus `json:"payment_status"`
	AmountCents       int64         `json:"amount_cents"`
	OrderTrackingID   string        `json:"order_tracking_id,omitempty"`
	MerchantReference string        `json:"merchant_reference,omitempty"`
	Attended          bool          `json:"attended"`
	PaidAt            *time.Time    `json:"paid_at,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

// FullName joins first and last name.
func (r *Registration) FullName() string {
	return r.FirstName + " " + r.LastName
}
