package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/metrics"
)

// Publisher отправляет сериализованное событие в топик.
// Реализации: kafka.Producer (напрямую) и outbox.Publisher (через outbox).
type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Topics — топики одного участника.
type Topics struct {
	// Start — откуда приходит событие для выполнения шага.
	Start string
	// Advance — следующий участник (при SUCCESS).
	Advance string
	// OwnCompensation — откат собственного шага (при ROLLBACK_PENDING).
	OwnCompensation string
	// PredecessorCompensation — откат предыдущего участника (при FAIL).
	PredecessorCompensation string
}

func (t Topics) Validate() error {
	if t.Start == "" || t.Advance == "" || t.OwnCompensation == "" || t.PredecessorCompensation == "" {
		return fmt.Errorf("не заданы все топики маршрутизации: %+v", t)
	}
	return nil
}

// Override заменяет топики непустыми значениями из аргументов.
func (t Topics) Override(start, advance, own, predecessor string) Topics {
	if start != "" {
		t.Start = start
	}
	if advance != "" {
		t.Advance = advance
	}
	if own != "" {
		t.OwnCompensation = own
	}
	if predecessor != "" {
		t.PredecessorCompensation = predecessor
	}
	return t
}

// DefaultTopics — топики по умолчанию для позиции сервиса в цепочке
// product-validation → payment → inventory.
// У первого участника нет предшественника: его FAIL уходит сразу в notify-ending.
func DefaultTopics(source Source) (Topics, error) {
	switch source {
	case SourceProductValidation:
		return Topics{
			Start:                   kafka.TopicProductValidationStart,
			Advance:                 kafka.TopicPaymentStart,
			OwnCompensation:         kafka.TopicProductValidationFail,
			PredecessorCompensation: kafka.TopicNotifyEnding,
		}, nil
	case SourcePayment:
		return Topics{
			Start:                   kafka.TopicPaymentStart,
			Advance:                 kafka.TopicInventoryStart,
			OwnCompensation:         kafka.TopicPaymentFail,
			PredecessorCompensation: kafka.TopicProductValidationFail,
		}, nil
	case SourceInventory:
		return Topics{
			Start:                   kafka.TopicInventoryStart,
			Advance:                 kafka.TopicNotifyEnding,
			OwnCompensation:         kafka.TopicInventoryFail,
			PredecessorCompensation: kafka.TopicPaymentFail,
		}, nil
	}
	return Topics{}, fmt.Errorf("нет маршрутов по умолчанию для %s", source)
}

// =============================================================================
// Router
// =============================================================================

// Router выбирает топик по статусу события и публикует событие целиком.
// Полезную нагрузку не читает.
type Router struct {
	topics    Topics
	publisher Publisher
	service   string
	retries   int
	backoff   time.Duration
}

type RouterOption func(*Router)

// WithPublishRetries задаёт число повторов публикации и начальную задержку.
// Задержка удваивается после каждой неудачи.
func WithPublishRetries(retries int, backoff time.Duration) RouterOption {
	return func(r *Router) {
		r.retries = retries
		r.backoff = backoff
	}
}

func NewRouter(service string, topics Topics, publisher Publisher, opts ...RouterOption) *Router {
	r := &Router{
		topics:    topics,
		publisher: publisher,
		service:   service,
		retries:   3,
		backoff:   100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Topics() Topics {
	return r.topics
}

// NextTopic — таблица маршрутизации:
//
//	SUCCESS          → Advance
//	FAIL             → PredecessorCompensation
//	ROLLBACK_PENDING → OwnCompensation
func (r *Router) NextTopic(status Status) (string, error) {
	switch status {
	case StatusSuccess:
		return r.topics.Advance, nil
	case StatusFail:
		return r.topics.PredecessorCompensation, nil
	case StatusRollbackPending:
		return r.topics.OwnCompensation, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, status)
}

// Route публикует событие в топик, соответствующий его статусу.
// Ключ сообщения — transactionId. При ошибке публикации повторяет отправку;
// сам шаг при этом повторно не выполняется.
func (r *Router) Route(ctx context.Context, ev *Event) error {
	topic, err := r.NextTopic(ev.Status)
	if err != nil {
		return err
	}

	value, err := ev.Encode()
	if err != nil {
		return err
	}

	log := logger.Ctx(ctx)
	delay := r.backoff

	for attempt := 0; ; attempt++ {
		err = r.publisher.Publish(ctx, topic, []byte(ev.TransactionID), value)
		metrics.RecordPublish(r.service, topic, err)
		if err == nil {
			log.Info().
				Str("topic", topic).
				Str("status", string(ev.Status)).
				Msgf("Событие опубликовано: %s", ev.LogID())
			return nil
		}

		if attempt >= r.retries {
			break
		}

		log.Warn().
			Err(err).
			Str("topic", topic).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("Повторная попытка публикации события")

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return fmt.Errorf("не удалось опубликовать событие в %s: %w", topic, err)
}
