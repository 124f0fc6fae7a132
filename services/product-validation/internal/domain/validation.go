// Package domain содержит бизнес-сущности Product Validation Service.
package domain

import (
	"errors"
	"fmt"
	"time"

	"example.com/saga-choreography/pkg/saga"
)

// Product — позиция каталога. Заказ может ссылаться только на существующий код.
type Product struct {
	ID        string
	Code      string
	CreatedAt time.Time
}

// Validation — результат проверки товаров одной попытки саги.
type Validation struct {
	ID            string
	OrderID       string
	TransactionID string
	Success       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

var (
	ErrEmptyProducts        = errors.New("список товаров пуст")
	ErrMissingIdentifiers   = errors.New("orderId и transactionId должны быть указаны")
	ErrProductNotInformed   = errors.New("товар должен быть указан")
	ErrProductNotFound      = errors.New("товар не найден в каталоге")
	ErrValidationNotFound   = errors.New("проверка не найдена")
	ErrDuplicateValidation  = fmt.Errorf("проверка для этой транзакции уже существует: %w", saga.ErrDuplicateTransaction)
	ErrInvalidQuantityValue = errors.New("количество товара должно быть больше нуля")
)

// CheckOrder проверяет форму заказа, не обращаясь к каталогу.
func CheckOrder(ev *saga.Event) error {
	if ev.Payload == nil || len(ev.Payload.Products) == 0 {
		return ErrEmptyProducts
	}
	if ev.OrderID == "" || ev.TransactionID == "" {
		return ErrMissingIdentifiers
	}
	for _, p := range ev.Payload.Products {
		if p.Product.Code == "" {
			return ErrProductNotInformed
		}
		if p.Quantity <= 0 {
			return fmt.Errorf("%s: %w", p.Product.Code, ErrInvalidQuantityValue)
		}
	}
	return nil
}
