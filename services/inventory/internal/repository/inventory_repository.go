// Package repository содержит реализацию доступа к данным для Inventory Service.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "example.com/saga-choreography/pkg/db"
	"example.com/saga-choreography/services/inventory/internal/domain"
)

// InventoryRepository — остатки и журнал резервирований.
type InventoryRepository interface {
	FindByProductCode(ctx context.Context, code string) (*domain.Inventory, error)

	// ExistsByOrderIDAndTransactionID — проверка идемпотентности шага.
	ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error)

	// FindByOrderIDAndTransactionID возвращает строки журнала попытки саги.
	FindByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) ([]*domain.OrderInventory, error)

	// Reserve в одной транзакции пишет журнал и списывает остатки.
	// Если остатка не хватает в момент списания — domain.ErrOutOfStock, ничего не меняется.
	Reserve(ctx context.Context, rows []*domain.OrderInventory) error

	// Restore возвращает на склад товар по ещё не откаченным строкам журнала.
	// Возвращает число откаченных строк.
	Restore(ctx context.Context, rows []*domain.OrderInventory) (int, error)

	// Seed добавляет остатки, которых ещё нет (по product_code).
	Seed(ctx context.Context, items []domain.Inventory) error
}

// =============================================================================
// GORM модели
// =============================================================================

// InventoryModel — GORM модель для таблицы inventories.
type InventoryModel struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	ProductCode string    `gorm:"column:product_code;type:varchar(100);not null;uniqueIndex"`
	Available   int       `gorm:"column:available;not null"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (InventoryModel) TableName() string {
	return "inventories"
}

func (m *InventoryModel) toDomain() *domain.Inventory {
	return &domain.Inventory{
		ID:          m.ID,
		ProductCode: m.ProductCode,
		Available:   m.Available,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// OrderInventoryModel — GORM модель для журнала order_inventories.
// Уникальный индекс: одна строка на товар в рамках (order_id, transaction_id).
type OrderInventoryModel struct {
	ID            string     `gorm:"column:id;type:varchar(36);primaryKey"`
	InventoryID   string     `gorm:"column:inventory_id;type:varchar(36);not null;uniqueIndex:idx_order_inventories_key,priority:3"`
	ProductCode   string     `gorm:"column:product_code;type:varchar(100);not null"`
	OrderID       string     `gorm:"column:order_id;type:varchar(64);not null;uniqueIndex:idx_order_inventories_key,priority:1"`
	TransactionID string     `gorm:"column:transaction_id;type:varchar(100);not null;uniqueIndex:idx_order_inventories_key,priority:2"`
	OrderQuantity int        `gorm:"column:order_quantity;not null"`
	OldQuantity   int        `gorm:"column:old_quantity;not null"`
	NewQuantity   int        `gorm:"column:new_quantity;not null"`
	RestoredAt    *time.Time `gorm:"column:restored_at"`
	CreatedAt     time.Time  `gorm:"column:created_at;autoCreateTime"`
}

func (OrderInventoryModel) TableName() string {
	return "order_inventories"
}

func (m *OrderInventoryModel) toDomain() *domain.OrderInventory {
	return &domain.OrderInventory{
		ID:            m.ID,
		InventoryID:   m.InventoryID,
		ProductCode:   m.ProductCode,
		OrderID:       m.OrderID,
		TransactionID: m.TransactionID,
		OrderQuantity: m.OrderQuantity,
		OldQuantity:   m.OldQuantity,
		NewQuantity:   m.NewQuantity,
		RestoredAt:    m.RestoredAt,
		CreatedAt:     m.CreatedAt,
	}
}

func orderInventoryModelFromDomain(o *domain.OrderInventory) *OrderInventoryModel {
	return &OrderInventoryModel{
		ID:            o.ID,
		InventoryID:   o.InventoryID,
		ProductCode:   o.ProductCode,
		OrderID:       o.OrderID,
		TransactionID: o.TransactionID,
		OrderQuantity: o.OrderQuantity,
		OldQuantity:   o.OldQuantity,
		NewQuantity:   o.NewQuantity,
		RestoredAt:    o.RestoredAt,
		CreatedAt:     o.CreatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

type inventoryRepository struct {
	db *gorm.DB
}

func NewInventoryRepository(db *gorm.DB) InventoryRepository {
	return &inventoryRepository{db: db}
}

func (r *inventoryRepository) FindByProductCode(ctx context.Context, code string) (*domain.Inventory, error) {
	var model InventoryModel

	if err := r.db.WithContext(ctx).
		Where("product_code = ?", code).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInventoryNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *inventoryRepository) ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&OrderInventoryModel{}).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *inventoryRepository) FindByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) ([]*domain.OrderInventory, error) {
	var models []OrderInventoryModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	rows := make([]*domain.OrderInventory, 0, len(models))
	for i := range models {
		rows = append(rows, models[i].toDomain())
	}
	return rows, nil
}

func (r *inventoryRepository) Reserve(ctx context.Context, rows []*domain.OrderInventory) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		for _, row := range rows {
			if row.ID == "" {
				row.ID = uuid.New().String()
			}
			row.CreatedAt = now

			if err := tx.Create(orderInventoryModelFromDomain(row)).Error; err != nil {
				if dbpkg.IsDuplicateKey(err) {
					return domain.ErrDuplicateReservation
				}
				return fmt.Errorf("ошибка записи журнала резервирования: %w", err)
			}

			// Условное списание: параллельный заказ мог забрать остаток
			// между чтением и записью.
			result := tx.Model(&InventoryModel{}).
				Where("id = ? AND available >= ?", row.InventoryID, row.OrderQuantity).
				Updates(map[string]interface{}{
					"available":  gorm.Expr("available - ?", row.OrderQuantity),
					"updated_at": now,
				})
			if result.Error != nil {
				return fmt.Errorf("ошибка списания остатка: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return domain.ErrOutOfStock
			}
		}
		return nil
	})
}

func (r *inventoryRepository) Restore(ctx context.Context, rows []*domain.OrderInventory) (int, error) {
	restored := 0

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		for _, row := range rows {
			if row.Restored() {
				continue
			}

			// Сначала помечаем строку: повторный откат её уже не заберёт.
			mark := tx.Model(&OrderInventoryModel{}).
				Where("id = ? AND restored_at IS NULL", row.ID).
				Update("restored_at", now)
			if mark.Error != nil {
				return fmt.Errorf("ошибка пометки строки журнала: %w", mark.Error)
			}
			if mark.RowsAffected == 0 {
				continue
			}

			// available += order_quantity; без параллельных заказов того же товара
			// это ровно old_quantity.
			result := tx.Model(&InventoryModel{}).
				Where("id = ?", row.InventoryID).
				Updates(map[string]interface{}{
					"available":  gorm.Expr("available + ?", row.OrderQuantity),
					"updated_at": now,
				})
			if result.Error != nil {
				return fmt.Errorf("ошибка возврата остатка: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return domain.ErrInventoryNotFound
			}
			restored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return restored, nil
}

func (r *inventoryRepository) Seed(ctx context.Context, items []domain.Inventory) error {
	if len(items) == 0 {
		return nil
	}

	models := make([]InventoryModel, 0, len(items))
	for _, item := range items {
		id := item.ID
		if id == "" {
			id = uuid.New().String()
		}
		models = append(models, InventoryModel{ID: id, ProductCode: item.ProductCode, Available: item.Available})
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "product_code"}}, DoNothing: true}).
		Create(&models).Error
}
