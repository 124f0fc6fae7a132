package domain

import (
	"errors"
	"fmt"

	"example.com/saga-choreography/pkg/saga"
)

// Доменные ошибки Payment Service.
var (
	// ErrPaymentNotFound — платёж не найден.
	ErrPaymentNotFound = errors.New("платёж не найден")

	// ErrInvalidTransition — недопустимый переход состояния.
	ErrInvalidTransition = errors.New("недопустимый переход состояния платежа")

	// ErrInvalidAmount — сумма меньше минимальной.
	ErrInvalidAmount = fmt.Errorf("сумма платежа должна быть не меньше %.2f", MinAmount)

	// ErrDuplicatePayment — платёж для (orderId, transactionId) уже существует.
	ErrDuplicatePayment = fmt.Errorf("платёж для этой транзакции уже существует: %w", saga.ErrDuplicateTransaction)
)
