// Package webhook сверяет уведомления платёжного провайдера с заказами.
//
// Вебхук проверяется HMAC подписью, находит платёж по коду корреляции
// и переводит заказ и платёж одним условным переходом. Повторная доставка
// и проигранная гонка с sweeper'ом или отменой дают no-op.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/pkg/tracing"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/lifecycle"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/repository"
)

// Outcome — результат обработки вебхука.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeNoop      Outcome = "noop"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Event — тело вебхука.
type Event struct {
	EventID       string `json:"event_id"`
	OrderCode     int64  `json:"order_code"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id"`
}

// SignatureVerifier проверяет подпись тела вебхука.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// Reconciler обрабатывает вебхуки и статусы, полученные опросом провайдера.
type Reconciler struct {
	store       repository.Store
	transitions *lifecycle.Transitioner
	verifier    SignatureVerifier
	guard       ReplayGuard

	stripeSecret string
}

// NewReconciler создаёт Reconciler. guard может быть nil — тогда повторы
// отсекаются только условными переходами.
func NewReconciler(store repository.Store, transitions *lifecycle.Transitioner, verifier SignatureVerifier, guard ReplayGuard) *Reconciler {
	return &Reconciler{
		store:       store,
		transitions: transitions,
		verifier:    verifier,
		guard:       guard,
	}
}

// Handle проверяет и применяет вебхук.
//
// Ошибки: domain.ErrUnauthenticated (подпись), domain.ErrValidation (тело),
// domain.ErrOrderNotFound (неизвестный код). No-op не является ошибкой.
func (r *Reconciler) Handle(ctx context.Context, body []byte, signature string) (Outcome, error) {
	ctx, span := tracing.Start(ctx, "Reconciler.Handle")
	defer span.End()

	log := logger.FromContext(ctx)

	if !r.verifier.VerifySignature(body, signature) {
		metrics.WebhookEvents.WithLabelValues("unauthenticated").Inc()
		log.Warn().
			Str("security_event", "webhook_signature_invalid").
			Int("body_size", len(body)).
			Msg("Вебхук с неверной подписью отклонён")
		return "", domain.ErrUnauthenticated
	}

	var event Event
	if err := json.Unmarshal(body, &event); err != nil {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return "", domain.NewValidationError("body", "некорректное тело вебхука")
	}
	if event.OrderCode <= 0 {
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		return "", domain.NewValidationError("order_code", "не указан код заказа")
	}

	return r.process(ctx, event)
}

// process применяет проверенное уведомление: отсечение повторов по event_id,
// поиск платежа по коду корреляции и условный переход.
func (r *Reconciler) process(ctx context.Context, event Event) (Outcome, error) {
	log := logger.FromContext(ctx).With().
		Str("event_id", event.EventID).
		Int64("order_code", event.OrderCode).
		Str("status", event.Status).
		Logger()

	if r.guard != nil && event.EventID != "" {
		first, err := r.guard.MarkSeen(ctx, event.EventID)
		if err != nil {
			log.Warn().Err(err).Msg("Хранилище повторов недоступно, обрабатываем вебхук без проверки")
		} else if !first {
			metrics.WebhookEvents.WithLabelValues(string(OutcomeDuplicate)).Inc()
			log.Info().Msg("Повторная доставка вебхука")
			return OutcomeDuplicate, nil
		}
	}

	outcome, err := r.handleEvent(ctx, event)
	if err != nil {
		if r.guard != nil && event.EventID != "" {
			r.guard.Forget(ctx, event.EventID)
		}
		if errors.Is(err, domain.ErrOrderNotFound) {
			metrics.WebhookEvents.WithLabelValues("not_found").Inc()
			log.Warn().Msg("Вебхук для неизвестного кода заказа")
			return "", err
		}
		metrics.WebhookEvents.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("Ошибка обработки вебхука")
		return "", err
	}

	metrics.WebhookEvents.WithLabelValues(string(outcome)).Inc()
	log.Info().Str("outcome", string(outcome)).Msg("Вебхук обработан")
	return outcome, nil
}

func (r *Reconciler) handleEvent(ctx context.Context, event Event) (Outcome, error) {
	pay, err := r.store.Repos().Payments.GetByOrderCode(ctx, event.OrderCode)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return "", fmt.Errorf("%w: код %d", domain.ErrOrderNotFound, event.OrderCode)
		}
		return "", err
	}

	status := payment.ProviderStatus(strings.ToUpper(strings.TrimSpace(event.Status)))
	applied, err := r.ApplyProviderStatus(ctx, pay, status, event.TransactionID)
	if err != nil {
		return "", err
	}
	if applied {
		return OutcomeApplied, nil
	}
	return OutcomeNoop, nil
}

// ApplyProviderStatus переводит заказ и платёж по статусу провайдера.
//
// PAID: заказ pending→confirmed, платёж pending→completed.
// CANCELLED: заказ pending→cancelled с возвратом остатков, платёж pending→failed.
// Остальные статусы, завершённый платёж и проигранная гонка возвращают false без ошибки.
func (r *Reconciler) ApplyProviderStatus(ctx context.Context, pay *domain.Payment, status payment.ProviderStatus, transactionID string) (bool, error) {
	log := logger.FromContext(ctx).With().
		Str("order_id", pay.OrderID).
		Str("payment_id", pay.ID).
		Str("provider_status", string(status)).
		Logger()

	var (
		to  domain.OrderStatus
		eff = lifecycle.Effects{PaymentID: pay.ID, TransactionID: transactionID}
	)
	switch status {
	case payment.StatusPaid:
		to = domain.OrderStatusConfirmed
		eff.PaymentStatus = domain.PaymentStatusCompleted
	case payment.StatusCancelled:
		to = domain.OrderStatusCancelled
		eff.PaymentStatus = domain.PaymentStatusFailed
	default:
		return false, nil
	}

	if pay.Status.IsTerminal() {
		if status == payment.StatusPaid && pay.Status != domain.PaymentStatusCompleted {
			log.Warn().
				Str("payment_status", string(pay.Status)).
				Str("transaction_id", transactionID).
				Msg("Оплата пришла по закрытому платежу")
		}
		return false, nil
	}

	err := r.store.WithinTx(ctx, func(rs repository.Repositories) error {
		order, err := rs.Orders.GetByID(ctx, pay.OrderID)
		if err != nil {
			return err
		}
		return r.transitions.Apply(ctx, rs, order, to, eff)
	})
	if err != nil {
		if lifecycle.IsNoop(err) {
			log.Info().Err(err).Msg("Заказ уже изменён, статус провайдера не применяется")
			return false, nil
		}
		return false, err
	}

	lifecycle.RecordTransition("webhook", to)
	log.Info().Str("to", string(to)).Msg("Статус оплаты применён к заказу")
	return true, nil
}
