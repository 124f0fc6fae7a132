package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/saga-choreography/pkg/metrics"
	"example.com/saga-choreography/services/order/internal/middleware"
)

const serviceName = "order-service"

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// RouterConfig — параметры для создания роутера.
// AuthMW и RateLimiter опциональны.
type RouterConfig struct {
	Orders         OrderService
	AuthMW         *middleware.AuthMiddleware
	RateLimiter    *middleware.RateLimiter
	ReadinessCheck ReadinessChecker
	Debug          bool
}

// NewRouter создаёт gin.Engine с маршрутами API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(metrics.GinMiddleware(serviceName))
	engine.Use(middleware.RequestIDs())

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "alive"})
	})
	engine.GET("/readyz", readiness(cfg.ReadinessCheck))

	h := NewOrderHandler(cfg.Orders)

	v1 := engine.Group("/api/v1")
	if cfg.AuthMW != nil {
		v1.Use(cfg.AuthMW.Handle())
	}

	orders := v1.Group("/orders")
	{
		create := []gin.HandlerFunc{h.CreateOrder}
		if cfg.RateLimiter != nil {
			create = append([]gin.HandlerFunc{cfg.RateLimiter.Handle()}, create...)
		}
		orders.POST("", create...)
		orders.GET("/:id", h.GetOrder)
	}

	events := v1.Group("/events")
	{
		events.GET("", h.ListEvents)
		events.GET("/filter", h.FindEvent)
	}

	return engine
}

func readiness(check ReadinessChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		if check == nil {
			c.JSON(http.StatusOK, gin.H{"status": "ready"})
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		if err := check(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
