// Package repository содержит реализацию доступа к данным для Order Service.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	dbpkg "example.com/saga-choreography/pkg/db"
	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/outbox"
	"example.com/saga-choreography/services/order/internal/domain"
)

// ErrOutboxDisabled — запись в outbox запрошена, а outbox у сервиса выключен.
var ErrOutboxDisabled = errors.New("outbox не настроен")

// OrderRepository определяет интерфейс для работы с заказами в БД.
type OrderRepository interface {
	// CreateWithEvent сохраняет заказ, первое событие саги и (если start != nil)
	// запись outbox в одной транзакции.
	CreateWithEvent(ctx context.Context, order *domain.Order, ev *domain.Event, start *outbox.Record) error

	FindByID(ctx context.Context, id string) (*domain.Order, error)

	// Finish сохраняет закрытое событие и итоговый статус заказа в одной транзакции.
	Finish(ctx context.Context, ev *domain.Event, status domain.OrderStatus) error
}

// OrderModel — GORM модель для таблицы orders.
type OrderModel struct {
	ID            string         `gorm:"column:id;type:varchar(36);primaryKey"`
	TransactionID string         `gorm:"column:transaction_id;type:varchar(100);not null;uniqueIndex"`
	Products      datatypes.JSON `gorm:"column:products;not null"`
	Status        string         `gorm:"column:status;type:varchar(20);not null;index"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

func (m *OrderModel) toDomain() (*domain.Order, error) {
	o := &domain.Order{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		Status:        domain.OrderStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
	if err := json.Unmarshal(m.Products, &o.Products); err != nil {
		return nil, fmt.Errorf("ошибка чтения товаров заказа %s: %w", m.ID, err)
	}
	return o, nil
}

func orderModelFromDomain(o *domain.Order) (*OrderModel, error) {
	products, err := json.Marshal(o.Products)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации товаров: %w", err)
	}
	return &OrderModel{
		ID:            o.ID,
		TransactionID: o.TransactionID,
		Products:      datatypes.JSON(products),
		Status:        string(o.Status),
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}, nil
}

// orderRepository — GORM реализация OrderRepository.
type orderRepository struct {
	db     *gorm.DB
	outbox outbox.Repository
}

// NewOrderRepository создаёт репозиторий заказов.
// outboxRepo может быть nil, если события публикуются напрямую.
func NewOrderRepository(db *gorm.DB, outboxRepo outbox.Repository) OrderRepository {
	return &orderRepository{db: db, outbox: outboxRepo}
}

func (r *orderRepository) CreateWithEvent(ctx context.Context, order *domain.Order, ev *domain.Event, start *outbox.Record) error {
	if start != nil && r.outbox == nil {
		return ErrOutboxDisabled
	}

	model, err := orderModelFromDomain(order)
	if err != nil {
		return err
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(model).Error; err != nil {
			return err
		}
		if err := upsertEvent(tx, ev); err != nil {
			return fmt.Errorf("ошибка сохранения события: %w", err)
		}
		if start != nil {
			return r.outbox.WithTx(tx).Create(ctx, start)
		}
		return nil
	})
	if err != nil {
		if dbpkg.IsDuplicateKey(err) {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}
	return model.toDomain()
}

func (r *orderRepository) Finish(ctx context.Context, ev *domain.Event, status domain.OrderStatus) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := upsertEvent(tx, ev); err != nil {
			return fmt.Errorf("ошибка сохранения события: %w", err)
		}

		res := tx.Model(&OrderModel{}).
			Where("id = ?", ev.OrderID).
			Updates(map[string]interface{}{
				"status":     string(status),
				"updated_at": time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// событие сохраняется и без заказа
			logger.Ctx(ctx).Warn().Str("order_id", ev.OrderID).Msg("Заказ для завершённой саги не найден")
		}
		return nil
	})
}
