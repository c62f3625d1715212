package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"example.com/storefront-orders/pkg/logger"
)

// rateLimitScript атомарно увеличивает счётчик окна и ставит TTL на первом запросе.
var rateLimitScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if current == 1 then
		redis.call("EXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// RateLimitMiddleware ограничивает число запросов в окне (fixed window counter в Redis).
// Ключ — пользователь из JWT, без него — IP клиента.
type RateLimitMiddleware struct {
	redis  redis.UniversalClient
	scope  string
	limit  int
	window time.Duration
}

// RateLimitConfig — конфигурация rate limiter.
type RateLimitConfig struct {
	Redis redis.UniversalClient
	// Scope разделяет счётчики разных групп маршрутов.
	Scope  string
	Limit  int           // по умолчанию 20
	Window time.Duration // по умолчанию 1 минута
}

// NewRateLimitMiddleware создаёт middleware для rate limiting.
func NewRateLimitMiddleware(cfg RateLimitConfig) *RateLimitMiddleware {
	if cfg.Limit <= 0 {
		cfg.Limit = 20
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Scope == "" {
		cfg.Scope = "api"
	}

	return &RateLimitMiddleware{
		redis:  cfg.Redis,
		scope:  cfg.Scope,
		limit:  cfg.Limit,
		window: cfg.Window,
	}
}

// Handle возвращает Gin handler function для middleware.
func (m *RateLimitMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.FromContext(c.Request.Context())

		subject := c.GetString(ContextUserID)
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		key := fmt.Sprintf("rate:%s:%s", m.scope, subject)

		allowed, remaining, err := m.checkLimit(c, key)
		if err != nil {
			// fail-open: недоступность Redis не должна останавливать заказы
			log.Warn().Err(err).Msg("Ошибка проверки rate limit")
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", m.limit))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		c.Header("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(m.window).Unix()))

		if !allowed {
			log.Warn().
				Str("subject", subject).
				Str("scope", m.scope).
				Int("limit", m.limit).
				Msg("Rate limit превышен")

			c.Header("Retry-After", fmt.Sprintf("%d", int(m.window.Seconds())))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": fmt.Sprintf("Превышен лимит запросов. Попробуйте через %d секунд", int(m.window.Seconds())),
			})
			return
		}

		c.Next()
	}
}

// checkLimit возвращает: разрешён ли запрос, оставшийся лимит, ошибка.
func (m *RateLimitMiddleware) checkLimit(c *gin.Context, key string) (bool, int, error) {
	windowSec := int(m.window.Seconds())
	result, err := rateLimitScript.Run(c.Request.Context(), m.redis, []string{key}, windowSec).Int()
	if err != nil {
		return true, m.limit, err
	}

	remaining := m.limit - result
	if remaining < 0 {
		remaining = 0
	}

	return result <= m.limit, remaining, nil
}
