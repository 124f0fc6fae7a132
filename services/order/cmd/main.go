// Order Service — начало и конец хореографической саги.
// По HTTP создаёт заказ и отправляет первое событие в product-validation-start,
// из notify-ending узнаёт, чем закончилась сага. Отдаёт события по HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"example.com/saga-choreography/pkg/app"
	"example.com/saga-choreography/pkg/jwt"
	"example.com/saga-choreography/pkg/kafka"
	"example.com/saga-choreography/services/order/internal/handler"
	"example.com/saga-choreography/services/order/internal/middleware"
	"example.com/saga-choreography/services/order/internal/repository"
	"example.com/saga-choreography/services/order/internal/service"
)

func main() {
	a, err := app.New("order-service", &repository.OrderModel{}, &repository.EventModel{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка запуска Order Service: %v\n", err)
		os.Exit(1)
	}

	if err := run(a); err != nil {
		a.Log.Error().Err(err).Msg("Order Service завершился с ошибкой")
		a.Close()
		os.Exit(1)
	}
}

func run(a *app.App) error {
	cfg := a.Config

	// === Слои приложения ===

	orderRepo := repository.NewOrderRepository(a.DB, a.OutboxRepository())
	eventRepo := repository.NewEventRepository(a.DB)

	opts := []service.Option{service.WithStartTopic(cfg.Saga.AdvanceTopic)}
	if a.OutboxRepository() == nil {
		opts = append(opts, service.WithDirectPublisher(a.Publisher()))
	}
	orderService := service.NewOrderService(orderRepo, eventRepo, opts...)

	notifyTopic := kafka.TopicNotifyEnding
	if cfg.Saga.StartTopic != "" {
		notifyTopic = cfg.Saga.StartTopic
	}
	if err := a.Subscribe(service.NotifyEndingHandler(orderService), notifyTopic); err != nil {
		return err
	}

	// === HTTP API ===

	routerCfg := handler.RouterConfig{
		Orders:         orderService,
		ReadinessCheck: handler.ReadinessChecker(a.ReadinessCheck()),
		Debug:          cfg.IsDevelopment(),
	}

	if cfg.JWT.Enabled() {
		validator, err := jwt.NewValidator(jwt.Config{
			PublicKeyPath: cfg.JWT.PublicKeyPath,
			Issuer:        cfg.JWT.Issuer,
		})
		if err != nil {
			return fmt.Errorf("ошибка загрузки ключа JWT: %w", err)
		}
		routerCfg.AuthMW = middleware.NewAuthMiddleware(validator)
		a.Log.Info().Str("issuer", cfg.JWT.Issuer).Msg("JWT аутентификация включена")
	}

	if a.Redis != nil && cfg.HTTP.RateLimit > 0 {
		routerCfg.RateLimiter = middleware.NewRateLimiter(a.Redis, cfg.HTTP.RateLimit, cfg.HTTP.RateLimitWindow)
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      handler.NewRouter(routerCfg),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	a.Go(func(ctx context.Context) error {
		a.Log.Info().Str("addr", srv.Addr).Msg("HTTP сервер запущен")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ошибка HTTP сервера: %w", err)
		}
		return nil
	})
	a.Go(func(ctx context.Context) error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return a.Run()
}
