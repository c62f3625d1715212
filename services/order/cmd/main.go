// Order Service — заказы витрины: резерв остатков, оплата по ссылке провайдера,
// вебхуки оплаты и автоматическая отмена неоплаченных заказов.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"example.com/storefront-orders/pkg/config"
	"example.com/storefront-orders/pkg/db"
	"example.com/storefront-orders/pkg/healthcheck"
	"example.com/storefront-orders/pkg/jwt"
	"example.com/storefront-orders/pkg/kafka"
	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/pkg/outbox"
	"example.com/storefront-orders/pkg/tracing"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/handler"
	"example.com/storefront-orders/services/order/internal/lifecycle"
	"example.com/storefront-orders/services/order/internal/middleware"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/repository"
	"example.com/storefront-orders/services/order/internal/service"
	"example.com/storefront-orders/services/order/internal/sweeper"
	"example.com/storefront-orders/services/order/internal/webhook"
)

const serviceName = "order-service"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:   cfg.App.LogLevel,
		Pretty:  cfg.App.LogPretty,
		Service: serviceName,
	})
	log := logger.Logger()

	log.Info().
		Str("env", cfg.App.Env).
		Int("port", cfg.HTTP.Port).
		Msg("Запуск Order Service")

	if cfg.Payment.WebhookSecret == "" {
		log.Warn().Msg("PAYMENT_WEBHOOK_SECRET не задан: подпись вебхуков проверяется пустым ключом")
	}
	if cfg.Payment.StripeSecretKey != "" && cfg.Payment.StripeWebhookSecret == "" {
		log.Warn().Msg("PAYMENT_STRIPE_WEBHOOK_SECRET не задан: вебхуки Stripe отклоняются")
	}

	shutdownTracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    serviceName,
		JaegerEndpoint: cfg.Jaeger.OTLPEndpoint(),
		Environment:    cfg.App.Env,
		Enabled:        cfg.Jaeger.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка инициализации tracing")
	}

	gdb, err := db.ConnectMySQL(cfg.MySQL, cfg.IsDevelopment())
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к MySQL")
	}
	log.Info().Msg("Подключение к MySQL установлено")

	if cfg.MySQL.AutoMigrate {
		models := append(repository.Models(), &outbox.Model{})
		if err := db.Migrate(gdb, models...); err != nil {
			log.Fatal().Err(err).Msg("Ошибка миграции")
		}
	}

	rdb, err := db.ConnectRedis(cfg.Redis)
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка подключения к Redis")
	}
	log.Info().Str("addr", cfg.Redis.Addr()).Msg("Подключение к Redis установлено")

	validator, err := jwt.NewValidator(cfg.JWT.PublicKeyPath, cfg.JWT.Issuer, jwt.NewRevocations(rdb))
	if err != nil {
		log.Fatal().Err(err).Msg("Ошибка загрузки публичного ключа JWT")
	}

	// Слои приложения
	store := repository.NewStore(gdb)
	transitions := lifecycle.New(cfg.Kafka.OrderTopic, cfg.Order.PaymentWindow)
	gateway := newGateway(cfg.Payment)
	reconciler := webhook.NewReconciler(store, transitions, gateway, webhook.NewRedisReplayGuard(rdb, 0)).
		WithStripeSecret(cfg.Payment.StripeWebhookSecret)

	orderService := service.NewOrderService(store, gateway, reconciler, transitions, service.Config{
		PaymentWindow:       cfg.Order.PaymentWindow,
		DefaultShippingCost: cfg.Order.DefaultShippingCost,
		Currency:            cfg.Order.Currency,
		DefaultReturnURL:    cfg.Payment.DefaultReturnURL,
		DefaultCancelURL:    cfg.Payment.DefaultCancelURL,
	})

	readiness := healthcheck.Composite(3*time.Second, healthcheck.MySQL(gdb), healthcheck.Redis(rdb))

	var rateLimitMW *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		rateLimitMW = middleware.NewRateLimitMiddleware(middleware.RateLimitConfig{
			Redis:  rdb,
			Scope:  "checkout",
			Limit:  cfg.RateLimit.Requests,
			Window: cfg.RateLimit.Window,
		})
	}

	router := handler.NewRouter(handler.RouterConfig{
		OrderService:   orderService,
		Webhook:        reconciler,
		StripeWebhook:  reconciler,
		AuthMW:         middleware.NewAuthMiddleware(validator, cfg.JWT.AdminRole),
		RateLimitMW:    rateLimitMW,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		ReadinessCheck: handler.ReadinessChecker(readiness),
		Debug:          cfg.IsDevelopment(),
	})

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router.Engine(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	// Фоновые воркеры
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	if cfg.Sweeper.Enabled {
		worker := sweeper.NewWorker(store, transitions, gateway, sweeper.Config{
			Interval:  cfg.Sweeper.Interval,
			BatchSize: cfg.Sweeper.BatchSize,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	producer := startOutbox(ctx, &wg, cfg.Kafka, gdb)

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr(), serviceName, metrics.WithReadinessCheck(metrics.ReadinessChecker(readiness)))
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error().Err(err).Msg("Ошибка metrics сервера")
			}
		}()
	}

	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP сервер запущен")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Ошибка HTTP сервера")
		}
	}()

	// Ожидаем сигнал завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Получен сигнал завершения, останавливаем сервер...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки HTTP сервера")
	}

	cancel()
	wg.Wait()

	if producer != nil {
		if err := producer.Close(); err != nil {
			log.Error().Err(err).Msg("Ошибка закрытия Kafka Producer")
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Ошибка остановки metrics сервера")
		}
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ошибка остановки tracing")
	}
	closeStores(gdb, rdb)

	log.Info().Msg("Order Service остановлен")
}

// newGateway собирает провайдеров по способам оплаты. Провайдер без ключей работает в симуляции.
func newGateway(cfg config.PaymentConfig) *payment.Gateway {
	providers := map[domain.PaymentMethod]payment.Provider{
		domain.PaymentMethodHostedLink: payment.NewHostedProvider(payment.HostedConfig{
			BaseURL:     cfg.HostedBaseURL,
			ClientID:    cfg.HostedClientID,
			APIKey:      cfg.HostedAPIKey,
			ChecksumKey: cfg.HostedChecksumKey,
			Timeout:     cfg.RequestTimeout,
		}, cfg.SimulationBaseURL),
		domain.PaymentMethodCard: payment.NewStripeProvider(payment.StripeConfig{
			SecretKey: cfg.StripeSecretKey,
			Currency:  cfg.StripeCurrency,
			Timeout:   cfg.RequestTimeout,
		}, cfg.SimulationBaseURL),
	}

	return payment.NewGateway(payment.Config{
		WebhookSecret: cfg.WebhookSecret,
		StatusRetries: cfg.StatusRetries,
	}, providers)
}

// startOutbox запускает публикацию событий заказов в Kafka.
// Без брокеров события копятся в outbox и уходят после включения.
func startOutbox(ctx context.Context, wg *sync.WaitGroup, cfg config.KafkaConfig, gdb *gorm.DB) *kafka.Producer {
	if !cfg.PublishOn || len(cfg.Brokers) == 0 {
		logger.Info().Msg("Публикация событий в Kafka отключена")
		return nil
	}

	producer, err := kafka.NewProducer(kafka.Config{Brokers: cfg.Brokers})
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка создания Kafka Producer, публикация отключена")
		return nil
	}

	workerCfg := outbox.DefaultWorkerConfig()
	if cfg.MaxAttempts > 0 {
		workerCfg.MaxRetries = cfg.MaxAttempts
	}
	worker := outbox.NewWorker(outbox.NewRepository(gdb), producer, workerCfg)

	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Run(ctx)
	}()

	return producer
}

func closeStores(gdb *gorm.DB, rdb *redis.Client) {
	if err := rdb.Close(); err != nil {
		logger.Error().Err(err).Msg("Ошибка закрытия Redis")
	}
	if sqlDB, err := gdb.DB(); err == nil && sqlDB != nil {
		if err := sqlDB.Close(); err != nil {
			logger.Error().Err(err).Msg("Ошибка закрытия MySQL")
		}
	}
}
