package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/order/internal/domain"
)

// EventRepository — чтение сохранённых событий саги.
type EventRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Event, error)

	// FindAll возвращает все события, новые первыми.
	FindAll(ctx context.Context) ([]*domain.Event, error)

	// FindLatestByOrderID и FindLatestByTransactionID возвращают самое свежее событие.
	FindLatestByOrderID(ctx context.Context, orderID string) (*domain.Event, error)
	FindLatestByTransactionID(ctx context.Context, transactionID string) (*domain.Event, error)
}

// EventModel — GORM модель для таблицы events.
// Полезная нагрузка и история хранятся как JSON.
type EventModel struct {
	ID            string         `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID       string         `gorm:"column:order_id;type:varchar(64);not null;index"`
	TransactionID string         `gorm:"column:transaction_id;type:varchar(100);not null;index"`
	Source        string         `gorm:"column:source;type:varchar(50);not null"`
	Status        string         `gorm:"column:status;type:varchar(20);not null"`
	Payload       datatypes.JSON `gorm:"column:payload"`
	History       datatypes.JSON `gorm:"column:history"`
	CreatedAt     time.Time      `gorm:"column:created_at;index"`
	ClosedAt      *time.Time     `gorm:"column:closed_at"`
}

func (EventModel) TableName() string {
	return "events"
}

func (m *EventModel) toDomain() (*domain.Event, error) {
	e := &domain.Event{
		Event: saga.Event{
			ID:            m.ID,
			OrderID:       m.OrderID,
			TransactionID: m.TransactionID,
			Source:        saga.Source(m.Source),
			Status:        saga.Status(m.Status),
			CreatedAt:     m.CreatedAt,
		},
		ClosedAt: m.ClosedAt,
	}

	if len(m.Payload) > 0 {
		if err := json.Unmarshal(m.Payload, &e.Payload); err != nil {
			return nil, fmt.Errorf("ошибка чтения payload события %s: %w", m.ID, err)
		}
	}
	if len(m.History) > 0 {
		if err := json.Unmarshal(m.History, &e.History); err != nil {
			return nil, fmt.Errorf("ошибка чтения истории события %s: %w", m.ID, err)
		}
	}
	return e, nil
}

func eventModelFromDomain(e *domain.Event) (*EventModel, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации payload: %w", err)
	}
	history, err := json.Marshal(e.History)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации истории: %w", err)
	}

	return &EventModel{
		ID:            e.ID,
		OrderID:       e.OrderID,
		TransactionID: e.TransactionID,
		Source:        string(e.Source),
		Status:        string(e.Status),
		Payload:       datatypes.JSON(payload),
		History:       datatypes.JSON(history),
		CreatedAt:     e.CreatedAt,
		ClosedAt:      e.ClosedAt,
	}, nil
}

// upsertEvent вставляет событие или перезаписывает сохранённое с тем же id.
func upsertEvent(tx *gorm.DB, e *domain.Event) error {
	model, err := eventModelFromDomain(e)
	if err != nil {
		return err
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source", "status", "payload", "history", "created_at", "closed_at",
		}),
	}).Create(model).Error
}

type eventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) FindByID(ctx context.Context, id string) (*domain.Event, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *eventRepository) FindAll(ctx context.Context) ([]*domain.Event, error) {
	var models []EventModel

	if err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	events := make([]*domain.Event, 0, len(models))
	for i := range models {
		e, err := models[i].toDomain()
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, nil
}

func (r *eventRepository) FindLatestByOrderID(ctx context.Context, orderID string) (*domain.Event, error) {
	return r.first(r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at DESC"))
}

func (r *eventRepository) FindLatestByTransactionID(ctx context.Context, transactionID string) (*domain.Event, error) {
	return r.first(r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).Order("created_at DESC"))
}

func (r *eventRepository) first(query *gorm.DB) (*domain.Event, error) {
	var model EventModel

	if err := query.First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrEventNotFound
		}
		return nil, err
	}
	return model.toDomain()
}
