package webhook

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/stripe/stripe-go/v81"
	stripewebhook "github.com/stripe/stripe-go/v81/webhook"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/pkg/tracing"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/payment"
)

// stripeEventPrefix отделяет event_id Stripe от событий остальных провайдеров в хранилище повторов.
const stripeEventPrefix = "stripe:"

// WithStripeSecret задаёт секрет подписи вебхуков Stripe (whsec_...).
func (r *Reconciler) WithStripeSecret(secret string) *Reconciler {
	r.stripeSecret = secret
	return r
}

// HandleStripe проверяет заголовок Stripe-Signature и применяет событие Checkout Session.
//
// Заказ находится по metadata.order_code сессии. События других типов
// и сессии без кода заказа подтверждаются как ignored, чтобы Stripe не повторял доставку.
func (r *Reconciler) HandleStripe(ctx context.Context, body []byte, signature string) (Outcome, error) {
	ctx, span := tracing.Start(ctx, "Reconciler.HandleStripe")
	defer span.End()

	log := logger.FromContext(ctx)

	if r.stripeSecret == "" {
		metrics.WebhookEvents.WithLabelValues("unauthenticated").Inc()
		log.Warn().Msg("Вебхук Stripe отклонён: секрет подписи не настроен")
		return "", domain.ErrUnauthenticated
	}

	// Из сессии читаются только id, metadata и payment_intent: версия API события не важна.
	evt, err := stripewebhook.ConstructEventWithOptions(body, signature, r.stripeSecret, stripewebhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unauthenticated").Inc()
		log.Warn().
			Err(err).
			Str("security_event", "stripe_signature_invalid").
			Int("body_size", len(body)).
			Msg("Вебхук Stripe с неверной подписью отклонён")
		return "", domain.ErrUnauthenticated
	}

	status, ok := stripeEventStatus(evt.Type)
	if !ok {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		log.Debug().Str("event_type", string(evt.Type)).Msg("Тип события Stripe не обрабатывается")
		return OutcomeIgnored, nil
	}

	if evt.Data == nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return "", domain.NewValidationError("data", "событие без объекта")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return "", domain.NewValidationError("data", "некорректный объект Checkout Session")
	}

	code, err := strconv.ParseInt(session.Metadata["order_code"], 10, 64)
	if err != nil || code <= 0 {
		metrics.WebhookEvents.WithLabelValues(string(OutcomeIgnored)).Inc()
		log.Warn().
			Str("event_id", evt.ID).
			Str("session_id", session.ID).
			Msg("Сессия Stripe без кода заказа")
		return OutcomeIgnored, nil
	}

	// completed без оплаты: асинхронный метод, ждём async_payment_succeeded.
	if evt.Type == stripe.EventTypeCheckoutSessionCompleted &&
		session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		status = payment.StatusPending
	}

	event := Event{
		EventID:   stripeEventPrefix + evt.ID,
		OrderCode: code,
		Status:    string(status),
	}
	if session.PaymentIntent != nil {
		event.TransactionID = session.PaymentIntent.ID
	}
	return r.process(ctx, event)
}

func stripeEventStatus(t stripe.EventType) (payment.ProviderStatus, bool) {
	switch t {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return payment.StatusPaid, true
	case stripe.EventTypeCheckoutSessionExpired, stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return payment.StatusCancelled, true
	default:
		return "", false
	}
}
