package middleware

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/saga-choreography/pkg/logger"
)

// rateScript атомарно увеличивает счётчик окна и ставит TTL при первом запросе.
var rateScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimiter ограничивает число запусков саги с одного IP (fixed window в Redis).
// При недоступном Redis запросы пропускаются.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
}

func NewRateLimiter(rdb *redis.Client, limit int, window time.Duration) *RateLimiter {
	if window < time.Second {
		window = time.Minute
	}
	return &RateLimiter{redis: rdb, limit: limit, window: window}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimiter) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		clientIP := c.ClientIP()
		key := "saga:ratelimit:orders:" + clientIP

		current, err := rateScript.Run(ctx, m.redis, []string{key}, int(m.window.Seconds())).Int()
		if err != nil {
			logger.Ctx(ctx).Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		remaining := m.limit - current
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(m.limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if current > m.limit {
			logger.Ctx(ctx).Warn().Str("client_ip", clientIP).Int("limit", m.limit).Msg("Rate limit превышен")
			c.Header("Retry-After", strconv.Itoa(int(m.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", int(m.window.Seconds())),
			})
			return
		}

		c.Next()
	}
}
