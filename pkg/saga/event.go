// Package saga — общий протокол хореографической саги:
// конверт события с журналом истории, таблица маршрутизации по статусу
// и контракт шага участника (выполнение и компенсация).
//
// Оркестратора нет: каждый сервис по статусу полученного события сам решает,
// в какой топик отправить свою копию дальше.
package saga

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// Статусы и источники
// =============================================================================

// Status — состояние саги, которое видит следующий участник.
type Status string

const (
	// StatusSuccess — все шаги до текущего выполнены.
	StatusSuccess Status = "SUCCESS"

	// StatusFail — идёт откат, событие движется к началу цепочки.
	StatusFail Status = "FAIL"

	// StatusRollbackPending — текущий шаг не удался и должен откатить себя сам.
	StatusRollbackPending Status = "ROLLBACK_PENDING"
)

// Valid сообщает, входит ли статус в допустимое множество.
func (s Status) Valid() bool {
	switch s {
	case StatusSuccess, StatusFail, StatusRollbackPending:
		return true
	}
	return false
}

// Source — метка сервиса, последним изменившего событие.
type Source string

const (
	SourceOrder             Source = "ORDER_SERVICE"
	SourceProductValidation Source = "PRODUCT_VALIDATION_SERVICE"
	SourcePayment           Source = "PAYMENT_SERVICE"
	SourceInventory         Source = "INVENTORY_SERVICE"
)

// Service возвращает имя сервиса для логов и меток метрик.
func (s Source) Service() string {
	switch s {
	case SourceOrder:
		return "order-service"
	case SourceProductValidation:
		return "product-validation-service"
	case SourcePayment:
		return "payment-service"
	case SourceInventory:
		return "inventory-service"
	}
	return string(s)
}

// =============================================================================
// Полезная нагрузка
// =============================================================================

type Product struct {
	Code      string  `json:"code"`
	UnitValue float64 `json:"unitValue"`
}

type OrderProduct struct {
	Product  Product `json:"product"`
	Quantity int     `json:"quantity"`
}

// Order — заказ, который переносит событие. TotalAmount и TotalItems
// заполняет payment-service.
type Order struct {
	ID            string         `json:"id"`
	Products      []OrderProduct `json:"products"`
	CreatedAt     time.Time      `json:"createdAt"`
	TransactionID string         `json:"transactionId"`
	TotalAmount   float64        `json:"totalAmount"`
	TotalItems    int            `json:"totalItems"`
}

// Totals считает сумму (Σ quantity × unitValue) и число единиц (Σ quantity).
func (o *Order) Totals() (amount float64, items int) {
	if o == nil {
		return 0, 0
	}
	for _, p := range o.Products {
		amount += float64(p.Quantity) * p.Product.UnitValue
		items += p.Quantity
	}
	return amount, items
}

// History — одна запись журнала: кто, с каким статусом и что сделал.
type History struct {
	Source    Source    `json:"source"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// =============================================================================
// Конверт события
// =============================================================================

var (
	ErrInvalidEvent  = errors.New("некорректное событие саги")
	ErrUnknownStatus = errors.New("неизвестный статус саги")
)

// Event — конверт, который участники передают друг другу.
// History только дополняется: каждый шаг добавляет ровно одну запись.
type Event struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	TransactionID string    `json:"transactionId"`
	Payload       *Order    `json:"payload"`
	Source        Source    `json:"source"`
	Status        Status    `json:"status"`
	History       []History `json:"history"`
	CreatedAt     time.Time `json:"createdAt"`
}

// AddHistory добавляет запись с текущими Source и Status события.
func (e *Event) AddHistory(message string) {
	e.History = append(e.History, History{
		Source:    e.Source,
		Status:    e.Status,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
}

// Clone возвращает глубокую копию: участник меняет только свою копию события.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e

	if e.Payload != nil {
		p := *e.Payload
		p.Products = append([]OrderProduct(nil), e.Payload.Products...)
		c.Payload = &p
	}
	c.History = append([]History(nil), e.History...)
	return &c
}

// Validate проверяет конверт, пришедший извне.
// Бизнес-проверки полезной нагрузки выполняют сами шаги.
func (e *Event) Validate() error {
	if !e.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, e.Status)
	}
	return nil
}

// LogID — идентификатор для логов в формате "ORDER ID: ... | TRANSACTION ID: ... | EVENT ID: ...".
func (e *Event) LogID() string {
	return fmt.Sprintf("ORDER ID: %s | TRANSACTION ID: %s | EVENT ID: %s", e.OrderID, e.TransactionID, e.ID)
}

func (e *Event) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации события: %w", err)
	}
	return data, nil
}

// DecodeEvent разбирает JSON и проверяет конверт.
func DecodeEvent(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}
