// Package service содержит бизнес-логику Order Service:
// запуск саги по новому заказу, фиксация её окончания и чтение событий.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/metrics"
	"example.com/saga-choreography/pkg/outbox"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/services/order/internal/domain"
	"example.com/saga-choreography/services/order/internal/repository"
)

const serviceName = "order-service"

// OrderService запускает сагу и принимает уведомление о её окончании.
type OrderService struct {
	orders     repository.OrderRepository
	events     repository.EventRepository
	direct     saga.Publisher
	startTopic string
	now        func() time.Time
}

type Option func(*OrderService)

// WithDirectPublisher публикует старт саги сразу после коммита, минуя outbox.
func WithDirectPublisher(p saga.Publisher) Option {
	return func(s *OrderService) {
		s.direct = p
	}
}

// WithStartTopic переопределяет топик первого участника.
func WithStartTopic(topic string) Option {
	return func(s *OrderService) {
		if topic != "" {
			s.startTopic = topic
		}
	}
}

// NewOrderService создаёт сервис заказов. По умолчанию старт саги
// пишется в outbox в одной транзакции с заказом.
func NewOrderService(orders repository.OrderRepository, events repository.EventRepository, opts ...Option) *OrderService {
	s := &OrderService{
		orders:     orders,
		events:     events,
		startTopic: kafka.TopicProductValidationStart,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder сохраняет заказ и первое событие саги и отправляет его
// первому участнику.
func (s *OrderService) CreateOrder(ctx context.Context, products []saga.OrderProduct) (*domain.Order, *domain.Event, error) {
	order, err := domain.NewOrder(uuid.NewString(), uuid.NewString(), products, s.now())
	if err != nil {
		logger.Ctx(ctx).Debug().Err(err).Msg("Ошибка валидации заказа")
		return nil, nil, err
	}

	ctx = logger.WithSaga(ctx, order.ID, order.TransactionID)
	log := logger.Ctx(ctx)

	ev := domain.NewStartEvent(uuid.NewString(), order)
	payload, err := ev.Encode()
	if err != nil {
		return nil, nil, err
	}

	var start *outbox.Record
	if s.direct == nil {
		start = &outbox.Record{
			ID:            uuid.NewString(),
			OrderID:       order.ID,
			TransactionID: order.TransactionID,
			Topic:         s.startTopic,
			MessageKey:    order.TransactionID,
			Payload:       payload,
			Headers:       kafka.HeadersFromContext(ctx, nil),
		}
	}

	if err := s.orders.CreateWithEvent(ctx, order, ev, start); err != nil {
		log.Error().Err(err).Msg("Ошибка создания заказа")
		return nil, nil, fmt.Errorf("ошибка создания заказа: %w", err)
	}

	if s.direct != nil {
		err := s.direct.Publish(ctx, s.startTopic, []byte(order.TransactionID), payload)
		metrics.RecordPublish(serviceName, s.startTopic, err)
		if err != nil {
			log.Error().Err(err).Str("topic", s.startTopic).Msg("Заказ сохранён, но сага не запущена")
			return nil, nil, fmt.Errorf("ошибка запуска саги: %w", err)
		}
	}

	log.Info().
		Int("products", len(order.Products)).
		Str("topic", s.startTopic).
		Msgf("Сага запущена: %s", ev.LogID())

	return order, ev, nil
}

// NotifyEnding фиксирует окончание саги: запись истории, closed_at
// и итоговый статус заказа. Дальше событие не публикуется.
// Повторное уведомление для уже закрытой саги игнорируется.
func (s *OrderService) NotifyEnding(ctx context.Context, in *saga.Event) error {
	ctx = logger.WithSaga(ctx, in.OrderID, in.TransactionID)
	log := logger.Ctx(ctx)

	stored, err := s.events.FindByID(ctx, in.ID)
	switch {
	case err == nil && stored.Closed() && stored.TransactionID == in.TransactionID:
		log.Info().Msgf("Сага уже завершена, повторное уведомление пропущено: %s", in.LogID())
		return nil
	case err != nil && !errors.Is(err, domain.ErrEventNotFound):
		return fmt.Errorf("ошибка чтения события: %w", err)
	}

	ev := &domain.Event{Event: *in.Clone()}
	ev.Close(s.now())
	status := domain.FinalStatus(in.Status)

	if err := s.orders.Finish(ctx, ev, status); err != nil {
		return fmt.Errorf("ошибка сохранения окончания саги: %w", err)
	}

	metrics.SagasFinishedTotal.WithLabelValues(string(status)).Inc()
	log.Info().
		Str("saga_status", string(in.Status)).
		Str("order_status", string(status)).
		Msgf("Сага завершена: %s", ev.LogID())
	return nil
}

func (s *OrderService) FindOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.orders.FindByID(ctx, id)
}

// FindAll возвращает все события, новые первыми.
func (s *OrderService) FindAll(ctx context.Context) ([]*domain.Event, error) {
	return s.events.FindAll(ctx)
}

// FindByFilter возвращает последнее событие по orderId, а если он пуст, по transactionId.
func (s *OrderService) FindByFilter(ctx context.Context, orderID, transactionID string) (*domain.Event, error) {
	orderID = strings.TrimSpace(orderID)
	transactionID = strings.TrimSpace(transactionID)

	switch {
	case orderID != "":
		return s.events.FindLatestByOrderID(ctx, orderID)
	case transactionID != "":
		return s.events.FindLatestByTransactionID(ctx, transactionID)
	default:
		return nil, domain.ErrEmptyFilter
	}
}

// NotifyEndingHandler передаёт сообщения notify-ending в NotifyEnding.
// Нечитаемые сообщения пропускаются: повтор их не исправит.
func NotifyEndingHandler(s *OrderService) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		ev, err := saga.DecodeEvent(msg.Value)
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Str("topic", msg.Topic).Msg("Некорректное сообщение, пропускаем")
			return nil
		}
		return s.NotifyEnding(ctx, ev)
	}
}
