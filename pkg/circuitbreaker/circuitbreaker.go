// Package circuitbreaker защищает отправку событий саги от недоступной Kafka.
// Пока breaker открыт, отправка отклоняется сразу, без ожидания таймаута брокера,
// а записи outbox остаются в очереди, не расходуя попытки.
//
// Состояния Circuit Breaker:
//   - Closed: нормальная работа, сообщения уходят в Kafka
//   - Open: Kafka недоступна, отправка отклоняется мгновенно
//   - Half-Open: пробный период, пропускаем часть сообщений для проверки восстановления
//
// Использование:
//
//	producer := circuitbreaker.Wrap(kafkaProducer, circuitbreaker.New("kafka"))
//	worker := outbox.NewWorker(repo, producer, cfg, service)
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"

	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/logger"
)

// ErrOpen — отправка отклонена без обращения к Kafka.
var ErrOpen = errors.New("kafka временно недоступна (circuit breaker open)")

// Settings — настройки Circuit Breaker.
type Settings struct {
	MaxRequests  uint32        // Макс. сообщений в Half-Open состоянии
	Interval     time.Duration // Интервал сброса счётчика в Closed
	Timeout      time.Duration // Время в Open до перехода в Half-Open
	FailureRatio float64       // Доля ошибок для перехода в Open
	MinRequests  uint32        // Мин. отправок для расчёта ratio
}

func DefaultSettings() Settings {
	return Settings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      15 * time.Second,
		FailureRatio: 0.5,
		MinRequests:  5,
	}
}

// Breaker — обёртка над gobreaker с логированием.
type Breaker struct {
	cb   *gobreaker.CircuitBreaker[any]
	name string
}

// New создаёт Circuit Breaker с настройками по умолчанию.
func New(name string) *Breaker {
	return NewWithSettings(name, DefaultSettings())
}

func NewWithSettings(name string, s Settings) *Breaker {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: s.MaxRequests,
		Interval:    s.Interval,
		Timeout:     s.Timeout,

		// Открываем, если доля ошибок >= FailureRatio и было >= MinRequests отправок.
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= s.FailureRatio
		},

		// Отмена контекста при остановке сервиса — не сбой Kafka.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},

		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log := logger.With().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Logger()

			switch to {
			case gobreaker.StateOpen:
				log.Warn().Msg("Circuit Breaker ОТКРЫТ — Kafka недоступна")
			case gobreaker.StateHalfOpen:
				log.Info().Msg("Circuit Breaker ПОЛУОТКРЫТ — пробуем отправить")
			case gobreaker.StateClosed:
				log.Info().Msg("Circuit Breaker ЗАКРЫТ — Kafka снова доступна")
			}
		},
	})

	return &Breaker{cb: cb, name: name}
}

func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) Name() string {
	return b.name
}

// Execute выполняет fn через breaker. Отказ открытого breaker возвращается как ErrOpen.
func (b *Breaker) Execute(fn func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s: %w", b.name, ErrOpen)
	}
	return err
}

// Sender — то, что Producer оборачивает (обычно *kafka.Producer).
type Sender interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// Producer отправляет сообщения через Breaker.
// Реализует outbox.KafkaProducer, saga.Publisher и kafka.DLQSender.
type Producer struct {
	next    Sender
	breaker *Breaker
}

func Wrap(next Sender, b *Breaker) *Producer {
	return &Producer{next: next, breaker: b}
}

func (p *Producer) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return p.breaker.Execute(func() error {
		return p.next.SendMessage(ctx, msg)
	})
}

func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.SendMessage(ctx, &kafka.Message{Topic: topic, Key: key, Value: value})
}

// SendToDLQ пересылает исходное сообщение в DLQ вместе с причиной ошибки.
func (p *Producer) SendToDLQ(ctx context.Context, original *kafka.Message, processingErr error) error {
	return p.SendMessage(ctx, kafka.DLQMessage(original, processingErr))
}
