package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/saga-choreography/pkg/logger"
)

// MessageHandler обрабатывает одно сообщение. Ошибка отправляет сообщение в DLQ.
type MessageHandler func(ctx context.Context, msg *Message) error

// DLQSender — получатель сообщений, которые не удалось обработать.
type DLQSender interface {
	SendToDLQ(ctx context.Context, original *Message, processingErr error) error
}

// Consumer читает сообщения группы с одного или нескольких топиков.
// Участник саги подписан на свой start-топик и на топик своей компенсации.
type Consumer struct {
	reader *kafka.Reader
	dlq    DLQSender
	topics []string

	dlqBackoff    time.Duration
	dlqMaxBackoff time.Duration
}

const (
	defaultDLQBackoff    = 500 * time.Millisecond
	defaultDLQMaxBackoff = 10 * time.Second
)

// NewConsumer создаёт Consumer группы groupID на топиках topics.
func NewConsumer(cfg Config, groupID string, topics ...string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("не указаны топики")
	}
	if groupID == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     groupID,
		GroupTopics: topics,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Strs("topics", topics).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{
		reader:        reader,
		topics:        topics,
		dlqBackoff:    defaultDLQBackoff,
		dlqMaxBackoff: defaultDLQMaxBackoff,
	}, nil
}

// SetDLQ подключает отправку необработанных сообщений в DLQ.
func (c *Consumer) SetDLQ(dlq DLQSender) {
	c.dlq = dlq
}

// Consume читает сообщения до отмены ctx.
// Offset коммитится после успешной обработки или после передачи сообщения в DLQ.
// Если сообщение так и не ушло в DLQ, offset не коммитится и после
// перезапуска сообщение будет прочитано повторно.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().Strs("topics", c.topics).Msg("Запуск чтения сообщений из Kafka")

	for {
		raw, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				logger.Info().Strs("topics", c.topics).Msg("Остановка Consumer")
				return ctx.Err()
			}
			logger.Error().Err(err).Strs("topics", c.topics).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		if err := c.handle(ctx, fromKafkaMessage(raw), handler); err != nil {
			logger.Warn().
				Err(err).
				Str("topic", raw.Topic).
				Int64("offset", raw.Offset).
				Msg("Offset не закоммичен, сообщение будет прочитано повторно")
			return ctx.Err()
		}

		if err := c.reader.CommitMessages(ctx, raw); err != nil && ctx.Err() == nil {
			logger.Error().Err(err).Msg("Ошибка коммита offset")
		}
	}
}

// handle возвращает ошибку, только если сообщение не обработано и не передано в DLQ
// до отмены ctx.
func (c *Consumer) handle(ctx context.Context, msg *Message, handler MessageHandler) error {
	msgCtx := contextFromMessage(ctx, msg)

	logger.Ctx(msgCtx).Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Int("partition", msg.Partition).
		Int64("offset", msg.Offset).
		Msg("Получено сообщение из Kafka")

	err := handler(msgCtx, msg)
	if err == nil {
		return nil
	}

	logger.Ctx(msgCtx).Error().
		Err(err).
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Int64("offset", msg.Offset).
		Msg("Ошибка обработки сообщения")

	if c.dlq == nil {
		return nil
	}
	return c.sendToDLQ(msgCtx, msg, err)
}

// sendToDLQ повторяет отправку в DLQ с растущей паузой, пока она не пройдёт или не отменят ctx.
// Обработчик повторно не вызывается: шаг саги уже отработал.
func (c *Consumer) sendToDLQ(ctx context.Context, msg *Message, processingErr error) error {
	delay := c.dlqBackoff
	if delay <= 0 {
		delay = defaultDLQBackoff
	}
	maxDelay := c.dlqMaxBackoff
	if maxDelay < delay {
		maxDelay = delay
	}

	for attempt := 1; ; attempt++ {
		dlqErr := c.dlq.SendToDLQ(ctx, msg, processingErr)
		if dlqErr == nil {
			return nil
		}

		logger.Ctx(ctx).Error().
			Err(dlqErr).
			Int("attempt", attempt).
			Dur("retry_in", delay).
			Msg("Ошибка отправки в DLQ")

		select {
		case <-ctx.Done():
			return fmt.Errorf("сообщение не передано в DLQ: %w", dlqErr)
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}

// Close закрывает reader и выходит из consumer group.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	logger.Info().Strs("topics", c.topics).Msg("Kafka Consumer закрыт")
	return nil
}

// Lag — отставание от конца партиций по последней статистике reader.
func (c *Consumer) Lag() int64 {
	return c.reader.Stats().Lag
}

func (c *Consumer) Topics() []string {
	return c.topics
}
