// Package metrics — Prometheus метрики шагов саги и HTTP сервер /metrics, /healthz, /readyz.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/saga-choreography/pkg/logger"
)

// =============================================================================
// Метрики саги
// =============================================================================

var (
	// SagaStepsTotal: step = execute | compensate, status = статус события после шага.
	SagaStepsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_steps_total",
			Help: "Количество выполненных шагов саги по сервису, типу шага и итоговому статусу",
		},
		[]string{"service", "step", "status"},
	)

	SagaStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "saga_step_duration_seconds",
			Help:    "Длительность шага саги в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"service", "step"},
	)

	// EventsPublishedTotal: result = success | error.
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_events_published_total",
			Help: "Количество опубликованных событий саги по топику",
		},
		[]string{"service", "topic", "result"},
	)

	// SagasFinishedTotal считается только на order-service.
	SagasFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "saga_finished_total",
			Help: "Количество завершённых саг по итоговому статусу",
		},
		[]string{"status"},
	)

	OutboxPending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "saga_outbox_batch_size",
			Help: "Размер последней выбранной пачки необработанных outbox записей",
		},
		[]string{"service"},
	)

	// ConsumerLag: topics — топики consumer через запятую.
	ConsumerLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "saga_consumer_lag",
			Help: "Отставание consumer от конца партиций по последней статистике reader",
		},
		[]string{"service", "topics"},
	)

	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Количество HTTP запросов по сервису, маршруту и статусу",
		},
		[]string{"service", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Время обработки HTTP запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "route"},
	)
)

// RecordStep записывает результат одного шага саги.
func RecordStep(service, step, status string, duration time.Duration) {
	SagaStepsTotal.WithLabelValues(service, step, status).Inc()
	SagaStepDuration.WithLabelValues(service, step).Observe(duration.Seconds())
}

// RecordPublish учитывает попытку публикации события.
func RecordPublish(service, topic string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	EventsPublishedTotal.WithLabelValues(service, topic, result).Inc()
}

// RecordConsumerLag обновляет отставание consumer.
func RecordConsumerLag(service string, topics []string, lag int64) {
	ConsumerLag.WithLabelValues(service, strings.Join(topics, ",")).Set(float64(lag))
}

// =============================================================================
// HTTP сервер метрик
// =============================================================================

// ReadinessChecker возвращает nil, если сервис готов принимать трафик.
type ReadinessChecker func(ctx context.Context) error

type Server struct {
	httpServer     *http.Server
	service        string
	readinessCheck ReadinessChecker
}

type Option func(*Server)

// WithReadinessCheck подключает проверку зависимостей к /readyz.
func WithReadinessCheck(checker ReadinessChecker) Option {
	return func(s *Server) {
		s.readinessCheck = checker
	}
}

func NewServer(addr, service string, opts ...Option) *Server {
	s := &Server{service: service}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, "alive")
	})
	mux.HandleFunc("/readyz", s.handleReady)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.readinessCheck == nil {
		writeStatus(w, http.StatusOK, "ready")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := s.readinessCheck(ctx); err != nil {
		// Детали ошибки наружу не отдаём.
		logger.Warn().Err(err).Str("service", s.service).Msg("Сервис не готов")
		writeStatus(w, http.StatusServiceUnavailable, "not_ready")
		return
	}
	writeStatus(w, http.StatusOK, "ready")
}

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"status":"` + status + `"}`))
}

// Handler отдаёт mux сервера (используется в тестах).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start блокирует до Shutdown.
func (s *Server) Start() error {
	logger.Info().
		Str("service", s.service).
		Str("addr", s.httpServer.Addr).
		Msg("Запуск сервера метрик")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// GinMiddleware собирает http_requests_total и http_request_duration_seconds.
func GinMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := "success"
		if c.Writer.Status() >= http.StatusBadRequest {
			status = "error"
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		RequestsTotal.WithLabelValues(service, route, status).Inc()
		RequestDuration.WithLabelValues(service, route).Observe(time.Since(start).Seconds())
	}
}
