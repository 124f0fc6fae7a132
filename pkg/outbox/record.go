// Package outbox — transactional outbox для событий саги.
//
// Событие сначала записывается в таблицу outbox (в той же транзакции,
// что и бизнес-данные, если она есть), затем Worker пересылает его в Kafka.
// Так событие не теряется при недоступности брокера.
package outbox

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// Record — событие, ожидающее отправки в Kafka.
type Record struct {
	ID            string
	Service       string // сервис-отправитель, по нему Worker фильтрует свои записи
	OrderID       string
	TransactionID string
	Topic         string
	MessageKey    string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// RecordModel — строка таблицы outbox.
type RecordModel struct {
	ID            string         `gorm:"column:id;type:varchar(36);primaryKey"`
	Service       string         `gorm:"column:service;type:varchar(64);not null;index:idx_outbox_pending,priority:1"`
	OrderID       string         `gorm:"column:order_id;type:varchar(64);not null;index:idx_outbox_saga"`
	TransactionID string         `gorm:"column:transaction_id;type:varchar(100);not null;index:idx_outbox_saga"`
	Topic         string         `gorm:"column:topic;type:varchar(100);not null"`
	MessageKey    string         `gorm:"column:message_key;type:varchar(100);not null"`
	Payload       datatypes.JSON `gorm:"column:payload;not null"`
	Headers       datatypes.JSON `gorm:"column:headers"`
	CreatedAt     time.Time      `gorm:"column:created_at;autoCreateTime"`
	ProcessedAt   *time.Time     `gorm:"column:processed_at;index:idx_outbox_pending,priority:2"`
	RetryCount    int            `gorm:"column:retry_count;not null;default:0"`
	LastError     *string        `gorm:"column:last_error;type:text"`
}

func (RecordModel) TableName() string {
	return "outbox"
}

func (m *RecordModel) toDomain() *Record {
	r := &Record{
		ID:            m.ID,
		Service:       m.Service,
		OrderID:       m.OrderID,
		TransactionID: m.TransactionID,
		Topic:         m.Topic,
		MessageKey:    m.MessageKey,
		Payload:       []byte(m.Payload),
		CreatedAt:     m.CreatedAt,
		ProcessedAt:   m.ProcessedAt,
		RetryCount:    m.RetryCount,
		LastError:     m.LastError,
	}
	if len(m.Headers) > 0 {
		_ = json.Unmarshal(m.Headers, &r.Headers)
	}
	return r
}

func modelFromDomain(r *Record) *RecordModel {
	m := &RecordModel{
		ID:            r.ID,
		Service:       r.Service,
		OrderID:       r.OrderID,
		TransactionID: r.TransactionID,
		Topic:         r.Topic,
		MessageKey:    r.MessageKey,
		Payload:       datatypes.JSON(r.Payload),
		CreatedAt:     r.CreatedAt,
		ProcessedAt:   r.ProcessedAt,
		RetryCount:    r.RetryCount,
		LastError:     r.LastError,
	}
	if len(r.Headers) > 0 {
		if data, err := json.Marshal(r.Headers); err == nil {
			m.Headers = datatypes.JSON(data)
		}
	}
	return m
}
