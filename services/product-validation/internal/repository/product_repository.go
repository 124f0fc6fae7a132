// Package repository содержит реализацию доступа к данным для Product Validation Service.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProductRepository — каталог товаров.
type ProductRepository interface {
	ExistsByCode(ctx context.Context, code string) (bool, error)

	// Seed добавляет коды, которых ещё нет в каталоге.
	Seed(ctx context.Context, codes []string) error
}

// ProductModel — GORM модель для таблицы products.
type ProductModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Code      string    `gorm:"column:code;type:varchar(100);not null;uniqueIndex"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (ProductModel) TableName() string {
	return "products"
}

type productRepository struct {
	db *gorm.DB
}

func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) ExistsByCode(ctx context.Context, code string) (bool, error) {
	var count int64

	if err := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("code = ?", code).
		Count(&count).Error; err != nil {
		return false, err
	}

	return count > 0, nil
}

func (r *productRepository) Seed(ctx context.Context, codes []string) error {
	if len(codes) == 0 {
		return nil
	}

	models := make([]ProductModel, 0, len(codes))
	for _, code := range codes {
		models = append(models, ProductModel{ID: uuid.New().String(), Code: code})
	}

	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(&models).Error
}
