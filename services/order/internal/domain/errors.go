package domain

import "errors"

// Доменные ошибки Order Service.
var (
	// ErrOrderNotFound возвращается, когда заказ не найден в базе данных.
	ErrOrderNotFound = errors.New("заказ не найден")

	// ErrEventNotFound возвращается, когда по фильтру нет ни одного события.
	ErrEventNotFound = errors.New("событие не найдено")

	// ErrEmptyFilter возвращается, если не передан ни orderId, ни transactionId.
	ErrEmptyFilter = errors.New("нужно указать orderId или transactionId")

	ErrEmptyProducts      = errors.New("заказ должен содержать хотя бы один товар")
	ErrInvalidProductCode = errors.New("код товара не может быть пустым")
	ErrInvalidQuantity    = errors.New("количество должно быть больше нуля")
	ErrInvalidUnitValue   = errors.New("цена не может быть отрицательной")

	// ErrDuplicateOrder — заказ с таким id или transactionId уже есть.
	ErrDuplicateOrder = errors.New("заказ уже существует")
)
