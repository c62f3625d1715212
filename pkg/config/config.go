// Package config загружает конфигурацию сервиса заказов из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config — полная конфигурация сервиса.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	MySQL     MySQLConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	JWT       JWTConfig
	Jaeger    JaegerConfig
	Metrics   MetricsConfig
	Payment   PaymentConfig
	Order     OrderConfig
	Sweeper   SweeperConfig
	RateLimit RateLimitConfig
}

// AppConfig — общие настройки приложения.
type AppConfig struct {
	Name      string `env:"APP_NAME" envDefault:"storefront-orders"`
	Env       string `env:"APP_ENV" envDefault:"development"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogPretty bool   `env:"LOG_PRETTY" envDefault:"false"`
}

// HTTPConfig — настройки HTTP сервера API.
type HTTPConfig struct {
	Host            string        `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port            int           `env:"HTTP_PORT" envDefault:"8080"`
	ReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"10s"`
	WriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	ShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`
	// AllowedOrigins — список CORS origin через запятую, "*" только для dev.
	AllowedOrigins []string `env:"HTTP_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
}

// Addr возвращает адрес для net/http сервера.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MySQLConfig — подключение к MySQL.
type MySQLConfig struct {
	Host            string        `env:"MYSQL_HOST" envDefault:"localhost"`
	Port            int           `env:"MYSQL_PORT" envDefault:"3306"`
	User            string        `env:"MYSQL_USER" envDefault:"root"`
	Password        string        `env:"MYSQL_PASSWORD" envDefault:"root"`
	Database        string        `env:"MYSQL_DATABASE" envDefault:"storefront"`
	MaxOpenConns    int           `env:"MYSQL_MAX_OPEN_CONNS" envDefault:"25"`
	MaxIdleConns    int           `env:"MYSQL_MAX_IDLE_CONNS" envDefault:"10"`
	ConnMaxLifetime time.Duration `env:"MYSQL_CONN_MAX_LIFETIME" envDefault:"5m"`
	AutoMigrate     bool          `env:"MYSQL_AUTO_MIGRATE" envDefault:"true"`
}

// DSN возвращает строку подключения к MySQL.
func (c MySQLConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Database)
}

// RedisConfig — подключение к Redis.
type RedisConfig struct {
	Host     string `env:"REDIS_HOST" envDefault:"localhost"`
	Port     int    `env:"REDIS_PORT" envDefault:"6379"`
	Password string `env:"REDIS_PASSWORD" envDefault:""`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

// Addr возвращает адрес Redis сервера.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// KafkaConfig — брокеры для публикации событий заказов.
// Пустой список брокеров отключает Outbox Worker.
type KafkaConfig struct {
	Brokers     []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	OrderTopic  string   `env:"KAFKA_ORDER_TOPIC" envDefault:"orders.events"`
	PublishOn   bool     `env:"KAFKA_PUBLISH_ENABLED" envDefault:"true"`
	MaxAttempts int      `env:"KAFKA_OUTBOX_MAX_RETRIES" envDefault:"5"`
}

// JWTConfig — проверка access токенов (RS256).
// Сервис только валидирует токены, выдаёт их внешний auth сервис.
type JWTConfig struct {
	PublicKeyPath string `env:"JWT_PUBLIC_KEY_PATH,required"`
	Issuer        string `env:"JWT_ISSUER" envDefault:"storefront"`
	AdminRole     string `env:"JWT_ADMIN_ROLE" envDefault:"admin"`
}

// JaegerConfig — трассировка через OTLP.
type JaegerConfig struct {
	Enabled  bool   `env:"JAEGER_ENABLED" envDefault:"true"`
	Host     string `env:"JAEGER_HOST" envDefault:"localhost"`
	OTLPPort int    `env:"JAEGER_OTLP_PORT" envDefault:"4317"`
}

// OTLPEndpoint возвращает OTLP gRPC endpoint.
func (c JaegerConfig) OTLPEndpoint() string {
	return fmt.Sprintf("%s:%d", c.Host, c.OTLPPort)
}

// MetricsConfig — отдельный HTTP сервер для /metrics, /healthz, /readyz.
type MetricsConfig struct {
	Enabled bool `env:"METRICS_ENABLED" envDefault:"true"`
	Port    int  `env:"METRICS_PORT" envDefault:"9090"`
}

// Addr возвращает адрес metrics сервера.
func (c MetricsConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PaymentConfig — платёжные провайдеры.
// Провайдер без ключей работает в режиме симуляции. Режим выбирается один раз при старте.
type PaymentConfig struct {
	// WebhookSecret — общий секрет для HMAC подписи вебхуков.
	WebhookSecret string `env:"PAYMENT_WEBHOOK_SECRET"`

	// Hosted checkout link провайдер.
	HostedBaseURL     string `env:"PAYMENT_HOSTED_BASE_URL" envDefault:"https://api-merchant.payos.vn"`
	HostedClientID    string `env:"PAYMENT_HOSTED_CLIENT_ID"`
	HostedAPIKey      string `env:"PAYMENT_HOSTED_API_KEY"`
	HostedChecksumKey string `env:"PAYMENT_HOSTED_CHECKSUM_KEY"`

	// Stripe Checkout для оплаты картой.
	StripeSecretKey     string `env:"PAYMENT_STRIPE_SECRET_KEY"`
	StripeCurrency      string `env:"PAYMENT_STRIPE_CURRENCY" envDefault:"usd"`
	StripeWebhookSecret string `env:"PAYMENT_STRIPE_WEBHOOK_SECRET"`

	SimulationBaseURL string        `env:"PAYMENT_SIMULATION_BASE_URL" envDefault:"http://localhost:8080/simulated-pay"`
	RequestTimeout    time.Duration `env:"PAYMENT_REQUEST_TIMEOUT" envDefault:"10s"`
	StatusRetries     int           `env:"PAYMENT_STATUS_RETRIES" envDefault:"3"`

	DefaultReturnURL string `env:"PAYMENT_RETURN_URL" envDefault:"http://localhost:3000/orders/success"`
	DefaultCancelURL string `env:"PAYMENT_CANCEL_URL" envDefault:"http://localhost:3000/orders/cancel"`
}

// OrderConfig — бизнес-параметры заказов.
type OrderConfig struct {
	PaymentWindow       time.Duration `env:"ORDER_PAYMENT_WINDOW" envDefault:"10m"`
	DefaultShippingCost int64         `env:"ORDER_DEFAULT_SHIPPING_COST" envDefault:"0"`
	Currency            string        `env:"ORDER_CURRENCY" envDefault:"VND"`
}

// SweeperConfig — фоновая отмена неоплаченных заказов.
type SweeperConfig struct {
	Enabled   bool          `env:"SWEEPER_ENABLED" envDefault:"true"`
	Interval  time.Duration `env:"SWEEPER_INTERVAL" envDefault:"60s"`
	BatchSize int           `env:"SWEEPER_BATCH_SIZE" envDefault:"100"`
}

// RateLimitConfig — ограничение частоты создания заказов и повторной оплаты.
type RateLimitConfig struct {
	Enabled  bool          `env:"RATE_LIMIT_ENABLED" envDefault:"true"`
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"20"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1m"`
}

// Load загружает конфигурацию из окружения, .env файл опционален.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("ошибка парсинга конфигурации: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate проверяет значения, которые env не может проверить тегами.
func (c *Config) validate() error {
	if c.Order.PaymentWindow <= 0 {
		return fmt.Errorf("ORDER_PAYMENT_WINDOW должен быть положительным")
	}
	if c.Sweeper.Interval <= 0 {
		return fmt.Errorf("SWEEPER_INTERVAL должен быть положительным")
	}
	if c.IsProduction() && c.Payment.WebhookSecret == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_SECRET обязателен в production")
	}
	return nil
}

// IsDevelopment возвращает true в development окружении.
func (c *Config) IsDevelopment() bool {
	return c.App.Env == "development"
}

// IsProduction возвращает true в production окружении.
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
