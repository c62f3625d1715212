package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/services/order/internal/webhook"
)

// HeaderSignature — подпись тела вебхука.
const HeaderSignature = "X-Signature"

// HeaderStripeSignature — подпись вебхука Stripe.
const HeaderStripeSignature = "Stripe-Signature"

// maxWebhookBody — ограничение на размер тела вебхука.
const maxWebhookBody = 64 << 10

// WebhookProcessor обрабатывает уведомление провайдера.
type WebhookProcessor interface {
	Handle(ctx context.Context, body []byte, signature string) (webhook.Outcome, error)
}

// StripeWebhookProcessor обрабатывает события Stripe Checkout.
type StripeWebhookProcessor interface {
	HandleStripe(ctx context.Context, body []byte, signature string) (webhook.Outcome, error)
}

// WebhookHandler — приём уведомлений платёжного провайдера.
type WebhookHandler struct {
	processor WebhookProcessor
}

// NewWebhookHandler создаёт обработчик вебхуков.
func NewWebhookHandler(processor WebhookProcessor) *WebhookHandler {
	return &WebhookHandler{processor: processor}
}

// WebhookResponse — ответ провайдеру.
type WebhookResponse struct {
	Status string `json:"status"`
}

// Receive принимает вебхук. Подпись проверяется по сырому телу.
// POST /api/v1/payments/webhook
func (h *WebhookHandler) Receive(c *gin.Context) {
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}

	outcome, err := h.processor.Handle(c.Request.Context(), body, c.GetHeader(HeaderSignature))
	if err != nil {
		writeError(c, err, "PaymentWebhook")
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Status: string(outcome)})
}

// StripeWebhookHandler — приём событий Stripe Checkout.
type StripeWebhookHandler struct {
	processor StripeWebhookProcessor
}

// NewStripeWebhookHandler создаёт обработчик вебхуков Stripe.
func NewStripeWebhookHandler(processor StripeWebhookProcessor) *StripeWebhookHandler {
	return &StripeWebhookHandler{processor: processor}
}

// Receive принимает событие Stripe.
// POST /api/v1/payments/stripe/webhook
func (h *StripeWebhookHandler) Receive(c *gin.Context) {
	body, ok := readWebhookBody(c)
	if !ok {
		return
	}

	outcome, err := h.processor.HandleStripe(c.Request.Context(), body, c.GetHeader(HeaderStripeSignature))
	if err != nil {
		writeError(c, err, "StripeWebhook")
		return
	}

	c.JSON(http.StatusOK, WebhookResponse{Status: string(outcome)})
}

func readWebhookBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		log := logger.FromContext(c.Request.Context())
		log.Warn().Err(err).Msg("Не удалось прочитать тело вебхука")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидное тело запроса",
		})
		return nil, false
	}
	return body, true
}
