package models

import (
	"time"

	"github.com/google/uuid"
)

// Event is a society event (conference, CME session, workshop) open for registration.
type Event struct {
	ID                   uuid.UUID  `json:"id"`
	Title                string     `json:"title"`
	Description          string     `json:"description"`
	Venue                string     `json:"venue"`
	StartsAt             time.Time  `json:"starts_at"`
	EndsAt               *time.Time `json:"ends_at,omitempty"`
	Capacity             *int       `json:"capacity,omitempty"`
	RegistrationDeadline *time.Time `json:"registration_deadline,omitempty"`
	MemberPriceCents     *int64     `json:"member_price_cents,omitempty"`
	NonMemberPriceCents  *int64     `json:"non_member_price_cents,omitempty"`
	Currency             string     `json:"currency"`
	MaterialKey          string     `json:"-"`
	MaterialURL          string     `json:"material_url,omitempty"`
	RegistrationCount    int        `json:"registration_count"`
	CreatedBy            *uuid.UUID `json:"created_by,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// PriceFor returns the amount (minor units) the caller pays. Non-members fall back to
// the member price when no non-member price is set.
func (e *Event) PriceFor(isMember bool) int64 {
	if !isMember && e.NonMemberPriceCents != nil {
		return *e.NonMemberPriceCents
	}
	if e.MemberPriceCents != nil {
		return *e.MemberPriceCents
	}
	return 0
}

// IsFreeFor reports whether the caller pays nothing.
func (e *Event) IsFreeFor(isMember bool) bool {
	return e.PriceFor(isMember) <= 0
}

// DeadlinePassed reports whether registration closed before now.
func (e *Event) DeadlinePassed(now time.Time) bool {
	return e.RegistrationDeadline != nil && now.After(*e.RegistrationDeadline)
}

// Full reports whether count registrations exhaust the capacity.
func (e *Event) Full(count int) bool {
	return e.Capacity != nil && count >= *e.Capacity
}
