// Package lifecycle применяет переходы статуса заказа вместе с их побочными эффектами
// внутри транзакции: условный UPDATE статуса, возврат или повторный резерв остатков,
// закрытие платежа и событие в outbox.
//
// Используется всеми писателями заказа (API, вебхук, sweeper), поэтому
// конкурентные переходы одного заказа сходятся на compare-and-swap по статусу.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"example.com/storefront-orders/pkg/kafka"
	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/pkg/outbox"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/repository"
)

// Effects — что сделать с платежом при переходе заказа.
type Effects struct {
	// PaymentID — конкретный pending платёж, который переводится в PaymentStatus.
	// Пусто: при входе в cancelled/expired отменяются все pending платежи заказа.
	PaymentID     string
	PaymentStatus domain.PaymentStatus
	TransactionID string
}

// Transitioner выполняет переходы заказов.
type Transitioner struct {
	topic         string
	paymentWindow time.Duration
	now           func() time.Time
}

// New создаёт Transitioner. topic — Kafka топик событий заказов (пусто: kafka.TopicOrderEvents),
// paymentWindow — новое окно оплаты при возврате заказа в pending.
func New(topic string, paymentWindow time.Duration) *Transitioner {
	if topic == "" {
		topic = kafka.TopicOrderEvents
	}
	return &Transitioner{
		topic:         topic,
		paymentWindow: paymentWindow,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock подменяет источник времени.
func (t *Transitioner) WithClock(now func() time.Time) *Transitioner {
	t.now = now
	return t
}

// Now возвращает текущее время в UTC.
func (t *Transitioner) Now() time.Time {
	return t.now()
}

// PaymentDeadline — дедлайн оплаты, отсчитанный от now.
func (t *Transitioner) PaymentDeadline(now time.Time) time.Time {
	return now.Add(t.paymentWindow)
}

// Apply переводит заказ в статус to. Вызывается внутри Store.WithinTx.
//
// Возвращает *domain.TransitionError, если переход запрещён машиной состояний,
// и domain.ErrConcurrentUpdate, если заказ уже изменил другой писатель.
// При успехе order.Status обновляется в памяти.
func (t *Transitioner) Apply(ctx context.Context, r repository.Repositories, order *domain.Order, to domain.OrderStatus, eff Effects) error {
	from := order.Status
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}

	if err := r.Orders.Transition(ctx, order.ID, from, to); err != nil {
		return err
	}

	// Остатки возвращаются ровно один раз: только писатель, выигравший CAS выше, доходит до Release.
	switch {
	case to.ReleasesInventory() && !from.ReleasesInventory():
		for _, item := range order.Items {
			if err := t.release(ctx, r, order.ID, item); err != nil {
				return err
			}
		}
	case from.ReleasesInventory() && !to.ReleasesInventory():
		for _, item := range order.Items {
			if err := r.Products.Reserve(ctx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}
	}

	if to == domain.OrderStatusPending {
		deadline := t.PaymentDeadline(t.now())
		if err := r.Orders.ResetExpiry(ctx, order.ID, deadline); err != nil {
			return err
		}
		order.ExpiresAt = deadline
	}

	if err := t.closePayments(ctx, r, order, to, eff); err != nil {
		return err
	}

	now := t.now()
	event := domain.NewOrderEvent(order, from, to, now)
	event.TransactionID = eff.TransactionID
	if err := t.Publish(ctx, r, order.ID, domain.EventTypeFor(to), event); err != nil {
		return err
	}

	order.Status = to
	order.UpdatedAt = now
	return nil
}

// release возвращает остаток позиции. Удалённый товар не блокирует переход:
// ошибка логируется и учитывается в метрике компенсаций.
func (t *Transitioner) release(ctx context.Context, r repository.Repositories, orderID string, item domain.OrderItem) error {
	err := r.Products.Release(ctx, item.ProductID, item.Quantity)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrProductNotFound) {
		return fmt.Errorf("ошибка возврата остатка %s: %w", item.ProductID, err)
	}
	metrics.CompensationFailures.WithLabelValues("release_inventory").Inc()
	log := logger.FromContext(ctx)
	log.Error().
		Err(err).
		Str("order_id", orderID).
		Str("product_id", item.ProductID).
		Int32("quantity", item.Quantity).
		Msg("Не удалось вернуть остаток, переход продолжается")
	return nil
}

func (t *Transitioner) closePayments(ctx context.Context, r repository.Repositories, order *domain.Order, to domain.OrderStatus, eff Effects) error {
	if eff.PaymentID != "" {
		return r.Payments.Transition(ctx, eff.PaymentID, eff.PaymentStatus, eff.TransactionID)
	}
	if to.ReleasesInventory() {
		if _, err := r.Payments.CancelPending(ctx, order.ID); err != nil {
			return fmt.Errorf("ошибка отмены платежа: %w", err)
		}
	}
	return nil
}

// Publish пишет событие заказа в outbox текущей транзакции.
func (t *Transitioner) Publish(ctx context.Context, r repository.Repositories, orderID, eventType string, payload any) error {
	record, err := outbox.NewRecord(ctx, t.topic, orderID, eventType, payload)
	if err != nil {
		return err
	}
	if err := r.Outbox.Create(ctx, record); err != nil {
		return fmt.Errorf("ошибка записи события %s: %w", eventType, err)
	}
	return nil
}

// IsNoop — ошибка означает проигранную гонку или уже применённый переход.
// Такой исход не является ошибкой для вебхука и sweeper'а.
func IsNoop(err error) bool {
	return errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrInvalidStateTransition)
}

// RecordTransition увеличивает счётчик переходов после коммита.
func RecordTransition(source string, to domain.OrderStatus) {
	metrics.OrderTransitions.WithLabelValues(source, string(to)).Inc()
}
