// Package kafka — обёртки над kafka-go для обмена событиями саги:
// Producer, Consumer группы на несколько топиков, DLQ и создание топиков.
package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/tracing"
)

// Топики хореографии. Имена совпадают у всех сервисов цепочки.
const (
	TopicProductValidationStart = "product-validation-start"
	TopicProductValidationFail  = "product-validation-fail"
	TopicPaymentStart           = "payment-start"
	TopicPaymentFail            = "payment-fail"
	TopicInventoryStart         = "inventory-start"
	TopicInventoryFail          = "inventory-fail"
	TopicNotifyEnding           = "notify-ending"

	// TopicDLQ получает сообщения, которые не удалось обработать или переслать.
	TopicDLQ = "dlq.saga"
)

// SagaTopics — все топики цепочки, включая DLQ.
func SagaTopics() []string {
	return []string{
		TopicProductValidationStart,
		TopicProductValidationFail,
		TopicPaymentStart,
		TopicPaymentFail,
		TopicInventoryStart,
		TopicInventoryFail,
		TopicNotifyEnding,
		TopicDLQ,
	}
}

const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
)

type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message — сообщение Kafka без привязки к типам kafka-go.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// HeadersFromContext собирает заголовки исходящего сообщения:
// trace_id и correlation_id из контекста, traceparent и метку времени.
// Явно переданные extra имеют приоритет.
func HeadersFromContext(ctx context.Context, extra map[string]string) map[string]string {
	headers := make(map[string]string, 4+len(extra))

	if traceID := logger.TraceIDFromContext(ctx); traceID != "" {
		headers[HeaderTraceID] = traceID
	} else if traceID := tracing.TraceID(ctx); traceID != "" {
		headers[HeaderTraceID] = traceID
	}
	if correlationID := logger.CorrelationIDFromContext(ctx); correlationID != "" {
		headers[HeaderCorrelationID] = correlationID
	}
	headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	tracing.Inject(ctx, headers)

	for k, v := range extra {
		headers[k] = v
	}
	return headers
}

// contextFromMessage переносит заголовки входящего сообщения в context:
// span context для трассировки и идентификаторы для логов.
func contextFromMessage(ctx context.Context, msg *Message) context.Context {
	ctx = tracing.Extract(ctx, msg.Headers)
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}
