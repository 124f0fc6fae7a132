package outbox

import (
	"context"

	"github.com/google/uuid"

	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/logger"
)

// Publisher записывает событие в outbox вместо прямой отправки в Kafka.
// Заголовки трассировки фиксируются в момент публикации,
// чтобы Worker отправил их вместе с сообщением.
type Publisher struct {
	repo Repository
}

func NewPublisher(repo Repository) *Publisher {
	return &Publisher{repo: repo}
}

// Publish сохраняет сообщение. key — transactionId события.
func (p *Publisher) Publish(ctx context.Context, topic string, key, value []byte) error {
	record := &Record{
		ID:            uuid.NewString(),
		OrderID:       logger.OrderIDFromContext(ctx),
		TransactionID: string(key),
		Topic:         topic,
		MessageKey:    string(key),
		Payload:       value,
		Headers:       kafka.HeadersFromContext(ctx, nil),
	}

	if err := p.repo.Create(ctx, record); err != nil {
		return err
	}

	logger.Ctx(ctx).Debug().
		Str("outbox_id", record.ID).
		Str("topic", topic).
		Msg("Событие записано в outbox")
	return nil
}
