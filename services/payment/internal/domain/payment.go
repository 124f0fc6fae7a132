// Package domain содержит бизнес-сущности Payment Service.
package domain

import (
	"time"
)

// PaymentStatus — статус платежа в системе.
type PaymentStatus string

const (
	// PaymentStatusPending — платёж создан, сумма ещё не подтверждена.
	PaymentStatusPending PaymentStatus = "PENDING"

	// PaymentStatusSuccess — платёж проведён.
	PaymentStatusSuccess PaymentStatus = "SUCCESS"

	// PaymentStatusRefund — платёж возвращён (компенсация саги).
	PaymentStatusRefund PaymentStatus = "REFUND"
)

// MinAmount — минимальная сумма платежа.
const MinAmount = 0.01

// IsTerminal возвращает true, если платёж в финальном состоянии.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusRefund
}

// =============================================================================
// Допустимые переходы состояний (State Machine)
// =============================================================================

// PENDING → REFUND нужен для отката платежа, отклонённого по сумме:
// запись остаётся в PENDING, а компенсация всё равно должна её закрыть.
var allowedTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending: {PaymentStatusSuccess, PaymentStatusRefund},
	PaymentStatusSuccess: {PaymentStatusRefund},
}

// =============================================================================
// Payment — доменная сущность
// =============================================================================

// Payment — платёж по одной попытке саги (orderId, transactionId).
type Payment struct {
	ID            string
	OrderID       string
	TransactionID string
	TotalItems    int
	TotalAmount   float64
	Status        PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CanTransitionTo проверяет, допустим ли переход в указанное состояние.
func (p *Payment) CanTransitionTo(newStatus PaymentStatus) bool {
	for _, status := range allowedTransitions[p.Status] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// TransitionTo выполняет переход в новое состояние.
func (p *Payment) TransitionTo(newStatus PaymentStatus) error {
	if !p.CanTransitionTo(newStatus) {
		return ErrInvalidTransition
	}
	p.Status = newStatus
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// Settle проводит платёж.
func (p *Payment) Settle() error {
	return p.TransitionTo(PaymentStatusSuccess)
}

// Refund возвращает платёж. Повторный возврат не считается ошибкой.
func (p *Payment) Refund() error {
	if p.Status.IsTerminal() {
		return nil
	}
	return p.TransitionTo(PaymentStatusRefund)
}

// ValidateAmount проверяет, что сумма не меньше MinAmount.
func (p *Payment) ValidateAmount() error {
	if p.TotalAmount < MinAmount {
		return ErrInvalidAmount
	}
	return nil
}
