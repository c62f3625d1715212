// Package metrics — Prometheus метрики сервиса заказов и HTTP сервер для /metrics.
//
// Кроме HTTP метрик здесь собраны бизнес-счётчики движка заказов:
// создание заказов, исход вебхуков, работа sweeper'а и вызовы платёжных провайдеров.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal — HTTP запросы по маршруту и результату.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Общее количество запросов по сервису, маршруту и статусу",
		},
		[]string{"service", "method", "status"},
	)

	// RequestDuration — latency HTTP запросов.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_duration_seconds",
			Help:    "Время выполнения запроса в секундах",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method"},
	)

	// OrdersCreated — созданные заказы по способу оплаты.
	OrdersCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orders_created_total",
			Help: "Количество созданных заказов по способу оплаты",
		},
		[]string{"payment_method"},
	)

	// OrderTransitions — переходы статусов заказа.
	// source: api / webhook / sweeper / admin.
	OrderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Переходы состояний заказа по источнику и целевому статусу",
		},
		[]string{"source", "to"},
	)

	// WebhookEvents — обработанные вебхуки по результату
	// (applied / noop / unauthenticated / not_found / duplicate / error).
	WebhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_webhook_events_total",
			Help: "Вебхуки платёжного провайдера по результату обработки",
		},
		[]string{"result"},
	)

	// SweeperExpired — заказы, просроченные sweeper'ом.
	SweeperExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_sweeper_expired_total",
		Help: "Количество заказов, переведённых sweeper'ом в expired",
	})

	SweeperErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "order_sweeper_errors_total",
		Help: "Ошибки обработки отдельных заказов в sweeper'е",
	})

	// GatewayCalls — вызовы платёжных провайдеров.
	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payment_gateway_calls_total",
			Help: "Вызовы платёжных провайдеров по провайдеру, операции и результату",
		},
		[]string{"provider", "operation", "status"},
	)

	// CompensationFailures — ошибки best-effort компенсаций (отмена ссылки оплаты, возврат остатка).
	CompensationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_compensation_failures_total",
			Help: "Неудачные best-effort компенсации по типу действия",
		},
		[]string{"action"},
	)
)

// RecordRequest записывает метрики одного HTTP запроса.
func RecordRequest(service, method, status string, duration time.Duration) {
	RequestsTotal.WithLabelValues(service, method, status).Inc()
	RequestDuration.WithLabelValues(service, method).Observe(duration.Seconds())
}

// RecordGatewayCall записывает исход обращения к платёжному провайдеру.
func RecordGatewayCall(provider, operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	GatewayCalls.WithLabelValues(provider, operation, status).Inc()
}

// GinMetricsMiddleware собирает requests_total и request_duration_seconds по маршрутам gin.
func GinMetricsMiddleware(service string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := "success"
		if c.Writer.Status() >= 400 {
			status = "error"
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		RecordRequest(service, route, status, time.Since(start))
	}
}
