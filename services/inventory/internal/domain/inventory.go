// Package domain содержит бизнес-сущности Inventory Service.
package domain

import (
	"time"
)

// Inventory — остаток одного товара на складе.
type Inventory struct {
	ID          string
	ProductCode string
	Available   int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Reserve проверяет остаток и возвращает строку журнала резервирования.
// Сам остаток не меняется: списание выполняет репозиторий в одной транзакции с журналом.
func (i *Inventory) Reserve(orderID, transactionID string, quantity int) (*OrderInventory, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}
	if quantity > i.Available {
		return nil, ErrOutOfStock
	}
	return &OrderInventory{
		InventoryID:   i.ID,
		ProductCode:   i.ProductCode,
		OrderID:       orderID,
		TransactionID: transactionID,
		OrderQuantity: quantity,
		OldQuantity:   i.Available,
		NewQuantity:   i.Available - quantity,
	}, nil
}

// OrderInventory — строка журнала резервирования: сколько было, сколько заказано,
// сколько осталось. По ней откат возвращает товар на склад.
type OrderInventory struct {
	ID            string
	InventoryID   string
	ProductCode   string
	OrderID       string
	TransactionID string
	OrderQuantity int
	OldQuantity   int
	NewQuantity   int
	// RestoredAt заполняется при откате; повторный откат строку пропускает.
	RestoredAt *time.Time
	CreatedAt  time.Time
}

// Restored сообщает, что товар по строке уже возвращён.
func (o *OrderInventory) Restored() bool {
	return o.RestoredAt != nil
}
