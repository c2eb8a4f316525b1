package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestEvent_PriceFor(t *testing.T) {
	tests := []struct {
		name      string
		member    *int64
		nonMember *int64
		isMember  bool
		want      int64
	}{
		{name: "no prices", want: 0},
		{name: "member price zero", member: ptr(int64(0)), want: 0},
		{name: "member pays member price", member: ptr(int64(1000)), nonMember: ptr(int64(2500)), isMember: true, want: 1000},
		{name: "guest pays non-member price", member: ptr(int64(1000)), nonMember: ptr(int64(2500)), want: 2500},
		{name: "guest falls back to member price", member: ptr(int64(1000)), want: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Event{MemberPriceCents: tt.member, NonMemberPriceCents: tt.nonMember}
			assert.Equal(t, tt.want, e.PriceFor(tt.isMember))
			assert.Equal(t, tt.want == 0, e.IsFreeFor(tt.isMember))
		})
	}
}

func TestEvent_DeadlineAndCapacity(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := &Event{}
	assert.False(t, e.DeadlinePassed(now))
	assert.False(t, e.Full(1_000_000))

	e.RegistrationDeadline = ptr(now.Add(-time.Minute))
	e.Capacity = ptr(2)
	assert.True(t, e.DeadlinePassed(now))
	assert.False(t, e.Full(1))
	assert.True(t, e.Full(2))
}

func TestPaymentStatus_Terminal(t *testing.T) {
	assert.False(t, PaymentStatusPending.Terminal())
	assert.True(t, PaymentStatusCompleted.Terminal())
	assert.True(t, PaymentStatusFailed.Terminal())
}
