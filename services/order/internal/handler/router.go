package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/services/order/internal/middleware"
	"example.com/storefront-orders/services/order/internal/service"
)

// serviceName — имя сервиса в метриках и spans.
const serviceName = "order"

// ReadinessChecker — функция проверки готовности сервиса.
type ReadinessChecker func(ctx context.Context) error

// Router — HTTP роутер сервиса заказов.
type Router struct {
	engine         *gin.Engine
	orderService   service.OrderService
	webhook        WebhookProcessor
	stripeWebhook  StripeWebhookProcessor
	authMW         *middleware.AuthMiddleware
	rateLimitMW    *middleware.RateLimitMiddleware
	readinessCheck ReadinessChecker
}

// RouterConfig — параметры для создания роутера.
type RouterConfig struct {
	OrderService service.OrderService
	Webhook      WebhookProcessor
	// StripeWebhook принимает события Stripe Checkout, nil: маршрут не регистрируется.
	StripeWebhook StripeWebhookProcessor
	AuthMW        *middleware.AuthMiddleware
	// RateLimitMW ограничивает создание заказов и повторную оплату, nil: без ограничений.
	RateLimitMW    *middleware.RateLimitMiddleware
	AllowedOrigins []string
	ReadinessCheck ReadinessChecker
	Debug          bool
}

// NewRouter создаёт и настраивает HTTP роутер.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(middleware.Recovery())
	engine.Use(middleware.CORS(middleware.NewCORSConfig(cfg.AllowedOrigins)))
	engine.Use(middleware.SecurityHeaders())
	engine.Use(otelgin.Middleware(serviceName))
	engine.Use(middleware.RequestContext())
	engine.Use(metrics.GinMetricsMiddleware(serviceName))

	r := &Router{
		engine:         engine,
		orderService:   cfg.OrderService,
		webhook:        cfg.Webhook,
		stripeWebhook:  cfg.StripeWebhook,
		authMW:         cfg.AuthMW,
		rateLimitMW:    cfg.RateLimitMW,
		readinessCheck: cfg.ReadinessCheck,
	}

	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/healthz", r.livenessCheck)
	r.engine.GET("/readyz", r.readinessCheckHandler)

	v1 := r.engine.Group("/api/v1")

	// Вебхук аутентифицируется подписью, а не JWT.
	if r.webhook != nil {
		v1.POST("/payments/webhook", NewWebhookHandler(r.webhook).Receive)
	}
	if r.stripeWebhook != nil {
		v1.POST("/payments/stripe/webhook", NewStripeWebhookHandler(r.stripeWebhook).Receive)
	}

	if r.orderService == nil {
		return
	}

	var isAdmin func(*gin.Context) bool
	if r.authMW != nil {
		isAdmin = r.authMW.IsAdmin
	}
	orderHandler := NewOrderHandler(r.orderService, isAdmin)

	orders := v1.Group("/orders")
	if r.authMW != nil {
		orders.Use(r.authMW.Handle())
	}
	{
		orders.POST("", r.limited(orderHandler.CreateOrder)...)
		orders.GET("", orderHandler.ListOrders)
		orders.GET("/:id", orderHandler.GetOrder)
		orders.POST("/:id/cancel", orderHandler.CancelOrder)
		orders.POST("/:id/retry-payment", r.limited(orderHandler.RetryPayment)...)
		orders.GET("/:id/payment", orderHandler.PaymentStatus)
		orders.PUT("/:id/status", r.adminOnly(orderHandler.UpdateStatus)...)
	}
}

// limited добавляет rate limit перед handler'ом, если он настроен.
func (r *Router) limited(h gin.HandlerFunc) []gin.HandlerFunc {
	if r.rateLimitMW == nil {
		return []gin.HandlerFunc{h}
	}
	return []gin.HandlerFunc{r.rateLimitMW.Handle(), h}
}

func (r *Router) adminOnly(h gin.HandlerFunc) []gin.HandlerFunc {
	if r.authMW == nil {
		// Без auth роль проверить нельзя: маршрут закрыт.
		return []gin.HandlerFunc{func(c *gin.Context) {
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{
				Error:   "forbidden",
				Message: "Требуются права администратора",
			})
		}}
	}
	return []gin.HandlerFunc{r.authMW.RequireAdmin(), h}
}

// Engine возвращает Gin engine для запуска сервера.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// livenessCheck — процесс жив.
func (r *Router) livenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

// readinessCheckHandler — сервис готов принимать трафик (зависимости доступны).
func (r *Router) readinessCheckHandler(c *gin.Context) {
	if r.readinessCheck == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := r.readinessCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
