package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var ErrRecordNotFound = errors.New("запись outbox не найдена")

// Repository — хранилище outbox одного сервиса.
type Repository interface {
	Create(ctx context.Context, record *Record) error
	GetUnprocessed(ctx context.Context, limit int) ([]*Record, error)
	MarkProcessed(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, err error) error
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)

	// WithTx возвращает репозиторий, пишущий в транзакцию tx.
	WithTx(tx *gorm.DB) Repository
}

type repository struct {
	db      *gorm.DB
	service string
}

// NewRepository создаёт репозиторий для записей сервиса service.
func NewRepository(db *gorm.DB, service string) Repository {
	return &repository{db: db, service: service}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	return &repository{db: tx, service: r.service}
}

func (r *repository) Create(ctx context.Context, record *Record) error {
	if record.Service == "" {
		record.Service = r.service
	}
	model := modelFromDomain(record)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("ошибка записи в outbox: %w", err)
	}
	record.CreatedAt = model.CreatedAt
	return nil
}

// GetUnprocessed возвращает неотправленные записи: сначала с меньшим числом
// неудачных попыток, затем по времени создания.
func (r *repository) GetUnprocessed(ctx context.Context, limit int) ([]*Record, error) {
	var models []RecordModel
	if err := r.db.WithContext(ctx).
		Where("service = ? AND processed_at IS NULL", r.service).
		Order("retry_count ASC, created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("ошибка чтения outbox: %w", err)
	}

	records := make([]*Record, len(models))
	for i := range models {
		records[i] = models[i].toDomain()
	}
	return records, nil
}

func (r *repository) MarkProcessed(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Model(&RecordModel{}).
		Where("id = ?", id).
		Update("processed_at", time.Now().UTC())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *repository) MarkFailed(ctx context.Context, id string, cause error) error {
	res := r.db.WithContext(ctx).Model(&RecordModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"retry_count": gorm.Expr("retry_count + 1"),
			"last_error":  cause.Error(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// DeleteProcessedBefore удаляет до 1000 отправленных записей старше before.
func (r *repository) DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("service = ? AND processed_at IS NOT NULL AND processed_at < ?", r.service, before).
		Limit(1000).
		Delete(&RecordModel{})
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
