package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/saga-choreography/pkg/logger"
)

// Producer синхронно пишет сообщения в Kafka.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer создаёт Producer. Запись ждёт подтверждения всех ISR:
// потеря события саги оставит заказ незавершённым.
func NewProducer(cfg Config) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: false,
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Msg("Создан Kafka Producer")

	return &Producer{writer: writer}, nil
}

// Publish отправляет value в topic с ключом key.
// Ключ (transactionId) задаёт партицию, поэтому события одной саги упорядочены.
func (p *Producer) Publish(ctx context.Context, topic string, key, value []byte) error {
	return p.SendWithHeaders(ctx, topic, key, value, nil)
}

// SendWithHeaders — Publish с дополнительными заголовками.
func (p *Producer) SendWithHeaders(ctx context.Context, topic string, key, value []byte, extra map[string]string) error {
	return p.SendMessage(ctx, &Message{
		Topic:   topic,
		Key:     key,
		Value:   value,
		Headers: extra,
	})
}

// SendMessage отправляет подготовленное сообщение.
// Заголовки из msg.Headers дополняются заголовками из контекста.
func (p *Producer) SendMessage(ctx context.Context, msg *Message) error {
	msg.Headers = HeadersFromContext(ctx, msg.Headers)
	if msg.Time.IsZero() {
		msg.Time = time.Now()
	}

	if err := p.writer.WriteMessages(ctx, msg.toKafkaMessage()); err != nil {
		logger.Ctx(ctx).Error().
			Err(err).
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("Ошибка отправки сообщения в Kafka")
		return fmt.Errorf("ошибка отправки в Kafka: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("topic", msg.Topic).
		Str("key", string(msg.Key)).
		Msg("Сообщение отправлено в Kafka")
	return nil
}

// SendToDLQ пересылает исходное сообщение в DLQ вместе с причиной ошибки.
func (p *Producer) SendToDLQ(ctx context.Context, original *Message, processingErr error) error {
	return p.SendMessage(ctx, DLQMessage(original, processingErr))
}

// DLQMessage — копия original для TopicDLQ с заголовками dlq_*.
func DLQMessage(original *Message, processingErr error) *Message {
	headers := make(map[string]string, len(original.Headers)+3)
	for k, v := range original.Headers {
		headers[k] = v
	}
	headers["dlq_error"] = processingErr.Error()
	headers["dlq_original_topic"] = original.Topic
	headers["dlq_timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)

	return &Message{
		Topic:   TopicDLQ,
		Key:     original.Key,
		Value:   original.Value,
		Headers: headers,
	}
}

func (p *Producer) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("ошибка закрытия producer: %w", err)
	}
	logger.Info().Msg("Kafka Producer закрыт")
	return nil
}
