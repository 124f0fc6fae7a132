// Package app собирает обвязку, общую для всех сервисов саги:
// конфигурация, логгер, трассировка, БД, Redis, Kafka, outbox и сервер метрик.
// main каждого сервиса создаёт App, подключает свои обработчики и вызывает Run.
package app

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"example.com/saga-choreography/pkg/circuitbreaker"
	"example.com/saga-choreography/pkg/config"
	dbpkg "example.com/saga-choreography/pkg/db"
	"example.com/saga-choreography/pkg/healthcheck"
	"example.com/saga-choreography/pkg/idempotency"
	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/pkg/logger"
	"example.com/saga-choreography/pkg/metrics"
	"example.com/saga-choreography/pkg/outbox"
	"example.com/saga-choreography/pkg/saga"
	"example.com/saga-choreography/pkg/tracing"
)

const (
	shutdownTimeout   = 10 * time.Second
	lagReportInterval = 15 * time.Second
)

// Runner — фоновая задача, работающая до отмены ctx (HTTP сервер и т.п.).
type Runner func(ctx context.Context) error

type subscription struct {
	consumer *kafka.Consumer
	handler  kafka.MessageHandler
}

// App держит подключения сервиса и управляет их жизненным циклом.
type App struct {
	Service  string
	Config   *config.Config
	DB       *gorm.DB
	Redis    *redis.Client
	Producer *kafka.Producer
	Log      zerolog.Logger

	outboxRepo      outbox.Repository
	guarded         *circuitbreaker.Producer
	shutdownTracing tracing.ShutdownFunc
	subscriptions   []subscription
	runners         []Runner
}

// New загружает конфигурацию и подключается к зависимостям.
// models мигрируются вместе с таблицей outbox (если outbox включён).
func New(service string, models ...any) (*App, error) {
	cfg, err := config.Load(service)
	if err != nil {
		return nil, err
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: service,
	})

	a := &App{
		Service: service,
		Config:  cfg,
		Log:     logger.Logger(),
	}

	a.Log.Info().
		Str("env", cfg.App.Env).
		Str("db_driver", cfg.Database.Driver).
		Bool("outbox", cfg.Outbox.Enabled).
		Msgf("Запуск %s", service)

	// === Observability: Tracing ===

	a.shutdownTracing, err = tracing.InitTracer(tracing.Config{
		ServiceName:    service,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		a.Log.Warn().Err(err).Msg("Не удалось инициализировать tracing")
	}

	// === Подключение к зависимостям ===

	a.DB, err = dbpkg.Connect(cfg.Database, cfg.IsDevelopment())
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Log.Info().Str("driver", cfg.Database.Driver).Msg("Подключение к БД установлено")

	if cfg.Outbox.Enabled {
		models = append(models, &outbox.RecordModel{})
	}
	if err := dbpkg.Migrate(a.DB, cfg.Database, models...); err != nil {
		a.Close()
		return nil, err
	}

	// Без Redis сервис работает: повторы отсекают уникальные индексы БД.
	a.Redis, err = dbpkg.ConnectRedis(cfg.Redis)
	if err != nil {
		a.Log.Warn().Err(err).Msg("Redis недоступен, быстрая проверка идемпотентности отключена")
	} else if a.Redis != nil {
		a.Log.Info().Msg("Подключение к Redis установлено")
	}

	if cfg.Kafka.AutoCreateTopics {
		if err := kafka.EnsureTopics(cfg.Kafka.Brokers, cfg.Kafka.Partitions, kafka.SagaTopics()...); err != nil {
			a.Log.Warn().Err(err).Msg("Не удалось создать топики (возможно Kafka недоступна)")
		}
	}

	a.Producer, err = kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers})
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Outbox.Enabled {
		a.outboxRepo = outbox.NewRepository(a.DB, service)
	}

	return a, nil
}

// Publisher возвращает способ публикации событий саги:
// через outbox, если он включён, иначе напрямую в Kafka.
func (a *App) Publisher() saga.Publisher {
	if a.outboxRepo != nil {
		return outbox.NewPublisher(a.outboxRepo)
	}
	return a.kafkaSender()
}

// kafkaSender — Producer за circuit breaker; общий для outbox worker, DLQ и прямой публикации.
func (a *App) kafkaSender() *circuitbreaker.Producer {
	if a.guarded == nil {
		a.guarded = circuitbreaker.Wrap(a.Producer, circuitbreaker.New("kafka"))
	}
	return a.guarded
}

// OutboxRepository — nil, если outbox выключен.
func (a *App) OutboxRepository() outbox.Repository {
	return a.outboxRepo
}

// Topics — топики участника: значения по умолчанию для его позиции в цепочке,
// переопределённые SAGA_TOPIC_*.
func (a *App) Topics(source saga.Source) (saga.Topics, error) {
	topics, err := saga.DefaultTopics(source)
	if err != nil {
		return saga.Topics{}, err
	}

	sc := a.Config.Saga
	topics = topics.Override(sc.StartTopic, sc.AdvanceTopic, sc.OwnCompensationTopic, sc.PredecessorCompensationTopic)
	if err := topics.Validate(); err != nil {
		return saga.Topics{}, err
	}
	return topics, nil
}

// Router строит маршрутизатор участника с публикацией через Publisher.
func (a *App) Router(source saga.Source) (*saga.Router, error) {
	topics, err := a.Topics(source)
	if err != nil {
		return nil, err
	}
	return saga.NewRouter(a.Service, topics, a.Publisher(),
		saga.WithPublishRetries(a.Config.Saga.PublishRetries, 100*time.Millisecond),
	), nil
}

// ParticipantOptions подключает Redis claim, если Redis доступен.
func (a *App) ParticipantOptions(scope string) []saga.ParticipantOption {
	if a.Redis == nil {
		return nil
	}
	return []saga.ParticipantOption{
		saga.WithClaimer(idempotency.NewGuard(a.Redis, scope, a.Config.Saga.IdempotencyTTL)),
	}
}

// Subscribe создаёт consumer группы сервиса на topics.
// Сообщения, обработка которых вернула ошибку, уходят в DLQ.
func (a *App) Subscribe(handler kafka.MessageHandler, topics ...string) error {
	consumer, err := kafka.NewConsumer(
		kafka.Config{Brokers: a.Config.Kafka.Brokers},
		a.Config.Kafka.ConsumerGroup,
		topics...,
	)
	if err != nil {
		return err
	}
	consumer.SetDLQ(a.kafkaSender())
	a.subscriptions = append(a.subscriptions, subscription{consumer: consumer, handler: handler})
	return nil
}

// Go добавляет фоновую задачу, запускаемую в Run.
func (a *App) Go(r Runner) {
	a.runners = append(a.runners, r)
}

// ReadinessCheck проверяет БД, Redis и Kafka.
func (a *App) ReadinessCheck() healthcheck.Check {
	return healthcheck.Composite(
		healthcheck.DB(a.DB),
		healthcheck.Redis(a.Redis),
		healthcheck.Kafka(a.Config.Kafka.Brokers),
	)
}

// Run запускает consumers, outbox worker, сервер метрик и задачи Go,
// ждёт SIGINT/SIGTERM (или падения любой задачи) и освобождает ресурсы.
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if a.Config.Metrics.Enabled {
		srv := metrics.NewServer(
			a.Config.Metrics.Addr(),
			a.Service,
			metrics.WithReadinessCheck(metrics.ReadinessChecker(a.ReadinessCheck())),
		)
		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if a.outboxRepo != nil {
		worker := outbox.NewWorker(a.outboxRepo, a.kafkaSender(), outbox.WorkerConfig{
			PollInterval: a.Config.Outbox.PollInterval,
			BatchSize:    a.Config.Outbox.BatchSize,
			MaxRetries:   a.Config.Outbox.MaxRetries,
			Retention:    a.Config.Outbox.RetentionTime,
		}, a.Service)
		g.Go(func() error {
			worker.Run(ctx)
			return nil
		})
	}

	for _, sub := range a.subscriptions {
		g.Go(func() error {
			err := sub.consumer.Consume(ctx, sub.handler)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if a.Config.Metrics.Enabled {
		for _, sub := range a.subscriptions {
			g.Go(func() error {
				reportLag(ctx, a.Service, sub.consumer, lagReportInterval)
				return nil
			})
		}
	}

	for _, r := range a.runners {
		g.Go(func() error {
			return r(ctx)
		})
	}

	a.Log.Info().Int("consumers", len(a.subscriptions)).Msgf("%s запущен", a.Service)

	err := g.Wait()
	if err != nil {
		a.Log.Error().Err(err).Msg("Сервис остановлен из-за ошибки")
	} else {
		a.Log.Info().Msg("Получен сигнал завершения, останавливаем сервис...")
	}

	a.Close()
	a.Log.Info().Msgf("%s остановлен", a.Service)
	return err
}

// Close закрывает всё, что успело открыться. Безопасен для частично созданного App.
func (a *App) Close() {
	for _, sub := range a.subscriptions {
		if err := sub.consumer.Close(); err != nil {
			a.Log.Error().Err(err).Msg("Ошибка закрытия Kafka Consumer")
		}
	}
	a.subscriptions = nil

	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.Log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
		a.Producer = nil
	}

	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.Log.Error().Err(err).Msg("Ошибка закрытия Redis")
		}
		a.Redis = nil
	}

	if a.DB != nil {
		if err := dbpkg.Close(a.DB); err != nil {
			a.Log.Error().Err(err).Msg("Ошибка закрытия БД")
		}
		a.DB = nil
	}

	if a.shutdownTracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdownTracing(ctx); err != nil {
			a.Log.Error().Err(err).Msg("Ошибка остановки Tracing")
		}
		a.shutdownTracing = nil
	}
}

// ParticipantHandler передаёт сообщения Kafka участнику саги.
func ParticipantHandler(p *saga.Participant) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.Message) error {
		return p.Handle(ctx, msg.Topic, msg.Value)
	}
}

// RunParticipant — общий main участника: строит Participant поверх step/ledger
// и подписывает его на start-топик и топик собственной компенсации.
func (a *App) RunParticipant(source saga.Source, step saga.Step, ledger saga.Ledger, messages saga.Messages) error {
	router, err := a.Router(source)
	if err != nil {
		return fmt.Errorf("ошибка настройки маршрутизации: %w", err)
	}

	p := saga.NewParticipant(source, step, ledger, router, messages, a.ParticipantOptions(a.Service)...)

	topics := router.Topics()
	a.Log.Info().
		Str("start", topics.Start).
		Str("advance", topics.Advance).
		Str("own_compensation", topics.OwnCompensation).
		Str("predecessor_compensation", topics.PredecessorCompensation).
		Msg("Маршруты саги")

	if err := a.Subscribe(ParticipantHandler(p), topics.Start, topics.OwnCompensation); err != nil {
		return err
	}
	return a.Run()
}

// lagSource — то, что даёт статистику отставания (обычно *kafka.Consumer).
type lagSource interface {
	Lag() int64
	Topics() []string
}

// reportLag периодически выставляет metrics.ConsumerLag до отмены ctx.
func reportLag(ctx context.Context, service string, src lagSource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		metrics.RecordConsumerLag(service, src.Topics(), src.Lag())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
