package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/storefront-orders/pkg/circuitbreaker"
	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/services/order/internal/domain"
)

// MaxDescriptionLength — лимит провайдера на описание платежа (в символах).
const MaxDescriptionLength = 25

// Config — настройки Gateway.
type Config struct {
	WebhookSecret string
	// StatusRetries — число попыток GetStatus. CreateLink не повторяется никогда.
	StatusRetries int
	// RetryBaseDelay — первая пауза между попытками, далее удваивается.
	RetryBaseDelay time.Duration
}

// Gateway выбирает провайдера по способу оплаты и проверяет подписи вебхуков.
type Gateway struct {
	providers map[domain.PaymentMethod]Provider
	cfg       Config
}

// NewGateway создаёт Gateway. Способ оплаты без провайдера (cod) ссылок не создаёт.
func NewGateway(cfg Config, providers map[domain.PaymentMethod]Provider) *Gateway {
	if cfg.StatusRetries <= 0 {
		cfg.StatusRetries = 1
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 100 * time.Millisecond
	}

	for method, p := range providers {
		logger.Info().
			Str("method", string(method)).
			Str("provider", p.Name()).
			Msg("Платёжный провайдер подключён")
	}

	return &Gateway{providers: providers, cfg: cfg}
}

func (g *Gateway) provider(method domain.PaymentMethod) (Provider, error) {
	p, ok := g.providers[method]
	if !ok {
		return nil, fmt.Errorf("%w: способ оплаты %q не поддерживает ссылки", domain.ErrGateway, method)
	}
	return p, nil
}

// CreateLink создаёт ссылку оплаты. Ошибка оборачивается в domain.ErrGateway.
func (g *Gateway) CreateLink(ctx context.Context, method domain.PaymentMethod, req LinkRequest) (*Link, error) {
	p, err := g.provider(method)
	if err != nil {
		return nil, err
	}

	req.Description = TruncateDescription(req.Description, MaxDescriptionLength)

	link, err := p.CreateLink(ctx, req)
	metrics.RecordGatewayCall(p.Name(), "create_link", err)
	if err != nil {
		return nil, fmt.Errorf("%w: создание ссылки: %w", domain.ErrGateway, err)
	}
	return link, nil
}

// CancelLink отменяет ссылку. Вызывающий логирует ошибку и продолжает работу.
func (g *Gateway) CancelLink(ctx context.Context, method domain.PaymentMethod, ref LinkRef) error {
	p, err := g.provider(method)
	if err != nil {
		return err
	}

	err = p.CancelLink(ctx, ref)
	metrics.RecordGatewayCall(p.Name(), "cancel_link", err)
	if err != nil {
		return fmt.Errorf("%w: отмена ссылки: %w", domain.ErrGateway, err)
	}
	return nil
}

// GetStatus запрашивает статус оплаты с повторами и экспоненциальной паузой.
// Отказы провайдера и открытый breaker не повторяются.
func (g *Gateway) GetStatus(ctx context.Context, method domain.PaymentMethod, ref LinkRef) (*StatusResult, error) {
	p, err := g.provider(method)
	if err != nil {
		return nil, err
	}

	delay := g.cfg.RetryBaseDelay
	var lastErr error

	for attempt := 1; attempt <= g.cfg.StatusRetries; attempt++ {
		result, err := p.GetStatus(ctx, ref)
		metrics.RecordGatewayCall(p.Name(), "get_status", err)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !retryable(err) || attempt == g.cfg.StatusRetries {
			break
		}

		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt).
			Int64("order_code", ref.OrderCode).
			Msg("Ошибка запроса статуса оплаты, повторяем")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", domain.ErrGateway, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}

	return nil, fmt.Errorf("%w: статус оплаты: %w", domain.ErrGateway, lastErr)
}

// VerifySignature проверяет HMAC подпись вебхука общим секретом.
func (g *Gateway) VerifySignature(body []byte, signature string) bool {
	return VerifySignature(g.cfg.WebhookSecret, body, signature)
}

func retryable(err error) bool {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return false
	}
	return !errors.Is(err, circuitbreaker.ErrUnavailable) &&
		!errors.Is(err, context.Canceled) &&
		!errors.Is(err, context.DeadlineExceeded)
}

// TruncateDescription обрезает строку до max символов (рун, не байт).
func TruncateDescription(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
