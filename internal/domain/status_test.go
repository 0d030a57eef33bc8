package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestCheckTransition(t *testing.T) {
	tests := []struct {
		name       string
		from, to   PaymentStatus
		actor      Actor
		correction bool
		ok         bool
	}{
		{"student pays partially", StatusPending, StatusPartial, ActorStudent, false, true},
		{"student settles", StatusPartial, StatusCompleted, ActorStudent, false, true},
		{"student pays overdue", StatusOverdue, StatusCompleted, ActorStudent, false, true},
		{"student cannot pay rejected", StatusRejected, StatusPartial, ActorStudent, false, false},
		{"student cannot approve", StatusPending, StatusApproved, ActorStudent, false, false},
		{"system marks overdue", StatusPending, StatusOverdue, ActorSystem, false, true},
		{"system leaves approved alone", StatusApproved, StatusOverdue, ActorSystem, false, false},
		{"admin approves", StatusPending, StatusApproved, ActorAdmin, false, true},
		{"admin rejects partial", StatusPartial, StatusRejected, ActorAdmin, false, true},
		{"admin cannot complete rejected", StatusRejected, StatusCompleted, ActorAdmin, false, false},
		{"admin reopens rejected", StatusRejected, StatusPending, ActorAdmin, false, true},
		{"completed is terminal for admin", StatusCompleted, StatusPartial, ActorAdmin, false, false},
		{"admin correction reopens completed", StatusCompleted, StatusPartial, ActorAdmin, true, true},
		{"student correction is ignored", StatusCompleted, StatusPartial, ActorStudent, true, false},
		{"same status is a no-op", StatusCompleted, StatusCompleted, ActorStudent, false, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckTransition(tc.from, tc.to, tc.actor, tc.correction)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.True(t, errors.Is(err, ErrInvalidTransition), "got %v", err)
			}
		})
	}
}

func TestParseStatus(t *testing.T) {
	st, ok := ParseStatus("due")
	assert.True(t, ok)
	assert.Equal(t, StatusPending, st)

	st, ok = ParseStatus(" Completed ")
	assert.True(t, ok)
	assert.Equal(t, StatusCompleted, st)

	_, ok = ParseStatus("refunded")
	assert.False(t, ok)
}

func TestSettlementStatus(t *testing.T) {
	p := Payment{Amount: decimal.NewFromInt(1000), AmountPaid: decimal.NewFromInt(400), Status: StatusPending}
	assert.Equal(t, StatusPartial, SettlementStatus(p))

	p.AmountPaid = decimal.NewFromInt(1000)
	assert.Equal(t, StatusCompleted, SettlementStatus(p))

	p.AmountPaid = decimal.Zero
	assert.Equal(t, StatusPending, SettlementStatus(p))
}

func TestPaymentValidate(t *testing.T) {
	p := Payment{ID: "p1", Amount: decimal.NewFromInt(100), AmountPaid: decimal.NewFromInt(100)}
	assert.NoError(t, p.Validate())

	p.AmountPaid = decimal.NewFromInt(101)
	assert.True(t, errors.Is(p.Validate(), ErrAmountOutOfBounds))

	p.AmountPaid = decimal.NewFromInt(-1)
	assert.True(t, errors.Is(p.Validate(), ErrAmountOutOfBounds))
}
