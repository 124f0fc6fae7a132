// Package repository содержит реализацию доступа к данным для Payment Service.
package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	dbpkg "example.com/saga-choreography/pkg/db"
	"example.com/saga-choreography/services/payment/internal/domain"
)

// PaymentRepository определяет интерфейс для работы с платежами в БД.
type PaymentRepository interface {
	// Create создаёт платёж. Повтор (orderId, transactionId) → domain.ErrDuplicatePayment.
	Create(ctx context.Context, payment *domain.Payment) error

	// FindByOrderIDAndTransactionID возвращает платёж попытки саги.
	FindByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (*domain.Payment, error)

	// ExistsByOrderIDAndTransactionID — проверка идемпотентности шага.
	ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error)

	// Update сохраняет статус и суммы платежа.
	Update(ctx context.Context, payment *domain.Payment) error
}

// =============================================================================
// GORM модель
// =============================================================================

// PaymentModel — GORM модель для таблицы payments.
type PaymentModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID       string    `gorm:"column:order_id;type:varchar(64);not null;uniqueIndex:idx_payments_order_tx"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(100);not null;uniqueIndex:idx_payments_order_tx"`
	TotalItems    int       `gorm:"column:total_items;not null"`
	TotalAmount   float64   `gorm:"column:total_amount;not null"`
	Status        string    `gorm:"column:status;type:varchar(20);not null;index"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName возвращает имя таблицы в БД.
func (PaymentModel) TableName() string {
	return "payments"
}

func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:            m.ID,
		OrderID:       m.OrderID,
		TransactionID: m.TransactionID,
		TotalItems:    m.TotalItems,
		TotalAmount:   m.TotalAmount,
		Status:        domain.PaymentStatus(m.Status),
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:            p.ID,
		OrderID:       p.OrderID,
		TransactionID: p.TransactionID,
		TotalItems:    p.TotalItems,
		TotalAmount:   p.TotalAmount,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

// =============================================================================
// Реализация репозитория
// =============================================================================

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт новый репозиторий платежей.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *domain.Payment) error {
	model := paymentModelFromDomain(payment)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		// Уникальный индекс (order_id, transaction_id) — последняя линия защиты
		// от параллельной повторной доставки.
		if dbpkg.IsDuplicateKey(err) {
			return domain.ErrDuplicatePayment
		}
		return err
	}

	payment.CreatedAt = model.CreatedAt
	payment.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *paymentRepository) FindByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (*domain.Payment, error) {
	var model PaymentModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *paymentRepository) ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *paymentRepository) Update(ctx context.Context, payment *domain.Payment) error {
	payment.UpdatedAt = time.Now().UTC()

	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ?", payment.ID).
		Updates(map[string]interface{}{
			"status":       string(payment.Status),
			"total_items":  payment.TotalItems,
			"total_amount": payment.TotalAmount,
			"updated_at":   payment.UpdatedAt,
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}
