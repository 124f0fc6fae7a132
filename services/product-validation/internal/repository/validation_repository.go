package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	dbpkg "example.com/saga-choreography/pkg/db"
	"example.com/saga-choreography/services/product-validation/internal/domain"
)

// ValidationRepository — журнал проверок, ключ (order_id, transaction_id).
type ValidationRepository interface {
	Create(ctx context.Context, v *domain.Validation) error
	FindByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (*domain.Validation, error)
	ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error)

	// MarkFailed ставит success=false.
	MarkFailed(ctx context.Context, id string) error
}

// ValidationModel — GORM модель для таблицы validations.
type ValidationModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID       string    `gorm:"column:order_id;type:varchar(64);not null;uniqueIndex:idx_validations_order_tx"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(100);not null;uniqueIndex:idx_validations_order_tx"`
	Success       bool      `gorm:"column:success;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ValidationModel) TableName() string {
	return "validations"
}

func (m *ValidationModel) toDomain() *domain.Validation {
	return &domain.Validation{
		ID:            m.ID,
		OrderID:       m.OrderID,
		TransactionID: m.TransactionID,
		Success:       m.Success,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

type validationRepository struct {
	db *gorm.DB
}

func NewValidationRepository(db *gorm.DB) ValidationRepository {
	return &validationRepository{db: db}
}

func (r *validationRepository) Create(ctx context.Context, v *domain.Validation) error {
	model := &ValidationModel{
		ID:            v.ID,
		OrderID:       v.OrderID,
		TransactionID: v.TransactionID,
		Success:       v.Success,
	}

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if dbpkg.IsDuplicateKey(err) {
			return domain.ErrDuplicateValidation
		}
		return err
	}

	v.CreatedAt = model.CreatedAt
	v.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *validationRepository) FindByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (*domain.Validation, error) {
	var model ValidationModel

	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrValidationNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *validationRepository) ExistsByOrderIDAndTransactionID(ctx context.Context, orderID, transactionID string) (bool, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&ValidationModel{}).
		Where("order_id = ? AND transaction_id = ?", orderID, transactionID).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *validationRepository) MarkFailed(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&ValidationModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"success":    false,
			"updated_at": time.Now().UTC(),
		})

	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrValidationNotFound
	}
	return nil
}
