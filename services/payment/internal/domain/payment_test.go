package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/saga-choreography/pkg/saga"
)

// =============================================================================
// State Machine тесты
// =============================================================================

func TestPayment_CanTransitionTo(t *testing.T) {
	tests := []struct {
		name      string
		from      PaymentStatus
		to        PaymentStatus
		canChange bool
	}{
		{"PENDING -> SUCCESS", PaymentStatusPending, PaymentStatusSuccess, true},
		{"PENDING -> REFUND", PaymentStatusPending, PaymentStatusRefund, true},
		{"SUCCESS -> REFUND", PaymentStatusSuccess, PaymentStatusRefund, true},
		{"SUCCESS -> PENDING", PaymentStatusSuccess, PaymentStatusPending, false},
		{"REFUND -> SUCCESS", PaymentStatusRefund, PaymentStatusSuccess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Payment{Status: tt.from}
			assert.Equal(t, tt.canChange, p.CanTransitionTo(tt.to))
		})
	}
}

func TestPayment_Settle(t *testing.T) {
	p := &Payment{Status: PaymentStatusPending}

	require.NoError(t, p.Settle())
	assert.Equal(t, PaymentStatusSuccess, p.Status)
	assert.False(t, p.UpdatedAt.IsZero())

	assert.ErrorIs(t, p.Settle(), ErrInvalidTransition)
}

func TestPayment_Refund_Idempotent(t *testing.T) {
	p := &Payment{Status: PaymentStatusSuccess}

	require.NoError(t, p.Refund())
	require.NoError(t, p.Refund())
	assert.Equal(t, PaymentStatusRefund, p.Status)
	assert.True(t, p.Status.IsTerminal())
}

func TestPayment_ValidateAmount(t *testing.T) {
	tests := []struct {
		name    string
		amount  float64
		wantErr bool
	}{
		{"ноль", 0, true},
		{"меньше минимума", 0.009, true},
		{"ровно минимум", 0.01, false},
		{"обычная сумма", 25, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := (&Payment{TotalAmount: tt.amount}).ValidateAmount()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestErrDuplicatePayment_IsSagaDuplicate(t *testing.T) {
	assert.True(t, errors.Is(ErrDuplicatePayment, saga.ErrDuplicateTransaction))
}
