// Package domain содержит бизнес-сущности и доменные ошибки Order Service.
package domain

import (
	"fmt"
	"strings"
	"time"

	"example.com/saga-choreography/pkg/saga"
)

// OrderStatus — статус заказа с точки зрения саги.
type OrderStatus string

const (
	// OrderStatusPending — сага запущена, финального уведомления ещё не было.
	OrderStatusPending OrderStatus = "PENDING"

	// OrderStatusCompleted — сага дошла до конца цепочки.
	OrderStatusCompleted OrderStatus = "COMPLETED"

	// OrderStatusFailed — сага откатилась.
	OrderStatusFailed OrderStatus = "FAILED"
)

// Записи истории, которые добавляет order-service.
const (
	HistorySagaStarted  = "Сага запущена"
	HistorySagaFinished = "Сага завершена успешно"
	HistorySagaFailed   = "Сага завершена с ошибками"
)

// Order — заказ, с которого начинается сага.
type Order struct {
	ID            string
	TransactionID string
	Products      []saga.OrderProduct
	Status        OrderStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewOrder создаёт заказ в статусе PENDING с новым transactionId.
func NewOrder(id, nonce string, products []saga.OrderProduct, now time.Time) (*Order, error) {
	o := &Order{
		ID:            id,
		TransactionID: NewTransactionID(now, nonce),
		Products:      products,
		Status:        OrderStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return o, nil
}

// NewTransactionID строит идентификатор запуска саги: "<unixMillis>_<nonce>".
func NewTransactionID(now time.Time, nonce string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), nonce)
}

// Validate проверяет состав заказа до запуска саги.
// Наличие товаров в каталоге проверяет product-validation-service.
func (o *Order) Validate() error {
	if len(o.Products) == 0 {
		return ErrEmptyProducts
	}
	for _, p := range o.Products {
		if strings.TrimSpace(p.Product.Code) == "" {
			return ErrInvalidProductCode
		}
		if p.Quantity <= 0 {
			return ErrInvalidQuantity
		}
		if p.Product.UnitValue < 0 {
			return ErrInvalidUnitValue
		}
	}
	return nil
}

// Payload — полезная нагрузка события саги для этого заказа.
func (o *Order) Payload() *saga.Order {
	return &saga.Order{
		ID:            o.ID,
		Products:      append([]saga.OrderProduct(nil), o.Products...),
		CreatedAt:     o.CreatedAt,
		TransactionID: o.TransactionID,
	}
}

// FinalStatus — итоговый статус заказа для статуса саги.
func FinalStatus(status saga.Status) OrderStatus {
	if status == saga.StatusSuccess {
		return OrderStatusCompleted
	}
	return OrderStatusFailed
}

// Event — событие саги, сохранённое order-service.
// ClosedAt заполняется, когда пришло уведомление notify-ending.
type Event struct {
	saga.Event
	ClosedAt *time.Time `json:"closedAt,omitempty"`
}

// NewStartEvent создаёт первое событие саги: SUCCESS от ORDER_SERVICE
// с единственной записью истории.
func NewStartEvent(id string, o *Order) *Event {
	ev := &Event{Event: saga.Event{
		ID:            id,
		OrderID:       o.ID,
		TransactionID: o.TransactionID,
		Payload:       o.Payload(),
		Source:        saga.SourceOrder,
		Status:        saga.StatusSuccess,
		CreatedAt:     o.CreatedAt,
	}}
	ev.AddHistory(HistorySagaStarted)
	return ev
}

// Close фиксирует окончание саги: запись истории от ORDER_SERVICE и closed_at.
// Статус события не меняется.
func (e *Event) Close(now time.Time) {
	e.Source = saga.SourceOrder
	if e.Status == saga.StatusSuccess {
		e.AddHistory(HistorySagaFinished)
	} else {
		e.AddHistory(HistorySagaFailed)
	}
	e.CreatedAt = now
	e.ClosedAt = &now
}

func (e *Event) Closed() bool {
	return e.ClosedAt != nil
}
