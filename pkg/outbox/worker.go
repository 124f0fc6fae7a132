package outbox

import (
	"context"
	"errors"
	"time"

	"example.com/saga-choreography/pkg/circuitbreaker"
	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/metrics"
)

// KafkaProducer — то, что нужно Worker от kafka.Producer.
type KafkaProducer interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries — после стольких неудачных попыток запись выводится из очереди
	// и пересылается в DLQ.
	MaxRetries int
	// Retention — сколько хранить отправленные записи.
	Retention time.Duration
}

func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 500 * time.Millisecond,
		BatchSize:    100,
		MaxRetries:   5,
		Retention:    24 * time.Hour,
	}
}

// Worker пересылает записи outbox в Kafka (at-least-once).
// Порядок записей одной саги сохраняется: выборка идёт по created_at,
// а после первой неудачи остальные записи той же транзакции в пачке пропускаются.
type Worker struct {
	repo     Repository
	producer KafkaProducer
	cfg      WorkerConfig
	service  string
}

func NewWorker(repo Repository, producer KafkaProducer, cfg WorkerConfig, service string) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultWorkerConfig().PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultWorkerConfig().BatchSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultWorkerConfig().Retention
	}
	return &Worker{repo: repo, producer: producer, cfg: cfg, service: service}
}

const cleanupInterval = time.Hour

// Run блокирует до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	logger.Info().
		Str("service", w.service).
		Dur("poll_interval", w.cfg.PollInterval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск Outbox Worker")

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	cleanup := time.NewTicker(cleanupInterval)
	defer cleanup.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Str("service", w.service).Msg("Остановка Outbox Worker")
			return
		case <-ticker.C:
			w.ProcessBatch(ctx)
		case <-cleanup.C:
			w.cleanupProcessed(ctx)
		}
	}
}

// ProcessBatch отправляет одну пачку неотправленных записей.
func (w *Worker) ProcessBatch(ctx context.Context) {
	records, err := w.repo.GetUnprocessed(ctx, w.cfg.BatchSize)
	if err != nil {
		logger.Error().Err(err).Str("service", w.service).Msg("Ошибка чтения outbox")
		return
	}
	metrics.OutboxPending.WithLabelValues(w.service).Set(float64(len(records)))
	if len(records) == 0 {
		return
	}

	blocked := make(map[string]bool)
	for _, record := range records {
		if ctx.Err() != nil {
			return
		}
		if blocked[record.MessageKey] {
			continue
		}

		if w.cfg.MaxRetries > 0 && record.RetryCount >= w.cfg.MaxRetries {
			if err := w.deadLetter(ctx, record); err != nil {
				if errors.Is(err, circuitbreaker.ErrOpen) {
					return
				}
				blocked[record.MessageKey] = true
			}
			continue
		}

		if err := w.Send(ctx, record); err != nil {
			if errors.Is(err, circuitbreaker.ErrOpen) {
				return
			}
			blocked[record.MessageKey] = true
		}
	}
}

// Send отправляет одну запись и отмечает результат в outbox.
func (w *Worker) Send(ctx context.Context, record *Record) error {
	log := logger.With().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Str("order_id", record.OrderID).
		Str("transaction_id", record.TransactionID).
		Logger()

	err := w.producer.SendMessage(ctx, toMessage(record))
	metrics.RecordPublish(w.service, record.Topic, err)
	if errors.Is(err, circuitbreaker.ErrOpen) {
		log.Debug().Msg("Kafka недоступна, запись outbox остаётся в очереди")
		return err
	}
	if err != nil {
		log.Error().Err(err).Int("retry_count", record.RetryCount).Msg("Ошибка отправки записи outbox в Kafka")
		if markErr := w.repo.MarkFailed(ctx, record.ID, err); markErr != nil {
			log.Error().Err(markErr).Msg("Ошибка пометки записи outbox как неудачной")
		}
		return err
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		// Сообщение уже в Kafka; при следующем опросе оно уйдёт повторно,
		// повтор отсечёт проверка идемпотентности получателя.
		log.Error().Err(err).Msg("Ошибка пометки записи outbox как отправленной")
		return err
	}

	log.Debug().Msg("Запись outbox отправлена в Kafka")
	return nil
}

// deadLetter пересылает запись в DLQ и только после этого выводит её из очереди.
// Если DLQ недоступна, запись остаётся в outbox до следующего опроса.
func (w *Worker) deadLetter(ctx context.Context, record *Record) error {
	log := logger.With().
		Str("outbox_id", record.ID).
		Str("topic", record.Topic).
		Int("retry_count", record.RetryCount).
		Logger()

	log.Warn().Msg("Превышен лимит попыток отправки, запись переносится в DLQ")

	msg := toMessage(record)
	msg.Topic = kafka.TopicDLQ
	msg.Headers["dlq_original_topic"] = record.Topic
	if record.LastError != nil {
		msg.Headers["dlq_error"] = *record.LastError
	}
	err := w.producer.SendMessage(ctx, msg)
	metrics.RecordPublish(w.service, kafka.TopicDLQ, err)
	if err != nil {
		log.Error().Err(err).Msg("Ошибка отправки в DLQ, запись остаётся в outbox")
		return err
	}

	if err := w.repo.MarkProcessed(ctx, record.ID); err != nil {
		log.Error().Err(err).Msg("Ошибка вывода записи outbox из очереди")
		return err
	}
	return nil
}

func (w *Worker) cleanupProcessed(ctx context.Context) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, time.Now().UTC().Add(-w.cfg.Retention))
	if err != nil {
		logger.Error().Err(err).Str("service", w.service).Msg("Ошибка очистки outbox")
		return
	}
	if deleted > 0 {
		logger.Info().Int64("deleted", deleted).Str("service", w.service).Msg("Удалены отправленные записи outbox")
	}
}

func toMessage(record *Record) *kafka.Message {
	headers := make(map[string]string, len(record.Headers)+2)
	for k, v := range record.Headers {
		headers[k] = v
	}
	return &kafka.Message{
		Topic:   record.Topic,
		Key:     []byte(record.MessageKey),
		Value:   record.Payload,
		Headers: headers,
	}
}
