package domain

import (
	"errors"
	"fmt"

	"example.com/saga-choreography/pkg/saga"
)

// Доменные ошибки Inventory Service.
var (
	ErrInventoryNotFound = errors.New("остаток для товара не найден")

	// ErrOutOfStock — заказано больше, чем есть на складе.
	ErrOutOfStock = errors.New("товара нет в наличии в нужном количестве")

	ErrInvalidQuantity = errors.New("количество товара должно быть больше нуля")

	// ErrEmptyOrder — в событии нет товаров.
	ErrEmptyOrder = errors.New("в заказе нет товаров")

	// ErrDuplicateReservation — для (orderId, transactionId) уже есть резервирование.
	ErrDuplicateReservation = fmt.Errorf("резервирование для этой транзакции уже существует: %w", saga.ErrDuplicateTransaction)
)
