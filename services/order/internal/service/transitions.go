package service

import (
	"context"
	"errors"
	"fmt"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/tracing"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/lifecycle"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/repository"
)

// adminTargets — статусы, которые администратор может выставить вручную.
// expired выставляет только sweeper.
var adminTargets = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:   true,
	domain.OrderStatusConfirmed: true,
	domain.OrderStatusShipped:   true,
	domain.OrderStatusDelivered: true,
	domain.OrderStatusCancelled: true,
}

// CancelOrder отменяет заказ покупателем.
func (s *orderService) CancelOrder(ctx context.Context, orderID, userID string) (*domain.Order, error) {
	ctx, span := tracing.Start(ctx, "OrderService.CancelOrder")
	defer span.End()

	log := logger.FromContext(ctx).With().Str("order_id", orderID).Logger()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(userID) {
		log.Warn().Str("user_id", userID).Msg("Попытка отменить чужой заказ")
		return nil, domain.ErrForbidden
	}
	if !order.CanCancel() {
		log.Warn().Str("status", string(order.Status)).Msg("Попытка отменить заказ в неподходящем статусе")
		return nil, &domain.TransitionError{From: order.Status, To: domain.OrderStatusCancelled}
	}

	if err := s.transition(ctx, order, domain.OrderStatusCancelled, "api"); err != nil {
		return nil, err
	}

	log.Info().Msg("Заказ отменён покупателем")
	return order, nil
}

// UpdateStatus меняет статус заказа от имени администратора.
func (s *orderService) UpdateStatus(ctx context.Context, orderID, status string) (*domain.Order, error) {
	ctx, span := tracing.Start(ctx, "OrderService.UpdateStatus")
	defer span.End()

	to, err := domain.ParseOrderStatus(status)
	if err != nil {
		return nil, err
	}
	if !adminTargets[to] {
		return nil, domain.NewValidationError("status", "статус нельзя выставить вручную")
	}

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	from := order.Status

	if err := s.transition(ctx, order, to, "admin"); err != nil {
		return nil, err
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", orderID).
		Str("from", string(from)).
		Str("to", string(to)).
		Msg("Статус заказа изменён администратором")
	return order, nil
}

// transition применяет переход в транзакции и после коммита отменяет ссылку
// на оплату, если заказ закрылся с ожидающим платежом.
func (s *orderService) transition(ctx context.Context, order *domain.Order, to domain.OrderStatus, source string) error {
	open := s.openPayment(ctx, order)

	err := s.store.WithinTx(ctx, func(r repository.Repositories) error {
		return s.transitions.Apply(ctx, r, order, to, lifecycle.Effects{})
	})
	if err != nil {
		log := logger.FromContext(ctx)
		if errors.Is(err, domain.ErrInvalidStateTransition) || errors.Is(err, domain.ErrConcurrentUpdate) ||
			errors.Is(err, domain.ErrInsufficientStock) {
			log.Warn().Err(err).Str("order_id", order.ID).Msg("Переход статуса отклонён")
			return err
		}
		log.Error().Err(err).Str("order_id", order.ID).Msg("Ошибка перехода статуса")
		return fmt.Errorf("ошибка перехода статуса: %w", err)
	}
	lifecycle.RecordTransition(source, to)

	if to.ReleasesInventory() && open != nil && open.HasLink() {
		s.cancelLink(ctx, open.Method, payment.LinkRef{OrderCode: open.OrderCode, ProviderRef: open.ProviderRef})
	}
	return nil
}

// openPayment возвращает последний pending платёж заказа или nil.
func (s *orderService) openPayment(ctx context.Context, order *domain.Order) *domain.Payment {
	if !order.PaymentMethod.RequiresLink() {
		return nil
	}
	pay, err := s.store.Repos().Payments.GetLatestByOrder(ctx, order.ID)
	if err != nil {
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			log := logger.FromContext(ctx)
			log.Warn().Err(err).Str("order_id", order.ID).Msg("Не удалось прочитать платёж заказа")
		}
		return nil
	}
	if pay.Status != domain.PaymentStatusPending {
		return nil
	}
	return pay
}

// RetryPayment выдаёт ссылку на оплату заново.
//
// expired заказ возвращается в pending с повторным резервом остатков,
// у pending заказа продлевается срок оплаты. Новый платёж создаётся,
// только если прежний завершён; ожидающий платёж со ссылкой возвращается как есть.
func (s *orderService) RetryPayment(ctx context.Context, orderID, userID, returnURL, cancelURL string) (*CreateOrderResult, error) {
	ctx, span := tracing.Start(ctx, "OrderService.RetryPayment")
	defer span.End()

	log := logger.FromContext(ctx).With().Str("order_id", orderID).Logger()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(userID) {
		return nil, domain.ErrForbidden
	}
	if !order.PaymentMethod.RequiresLink() {
		return nil, domain.NewValidationError("payment_method", "заказ оплачивается при получении")
	}
	if !order.CanRetryPayment() {
		log.Warn().Str("status", string(order.Status)).Msg("Повторная оплата недоступна для заказа")
		return nil, &domain.TransitionError{From: order.Status, To: domain.OrderStatusPending}
	}

	previous := s.openPayment(ctx, order)
	wasExpired := order.Status == domain.OrderStatusExpired
	now := s.transitions.Now()

	pay := previous
	err = s.store.WithinTx(ctx, func(r repository.Repositories) error {
		if wasExpired {
			if err := s.transitions.Apply(ctx, r, order, domain.OrderStatusPending, lifecycle.Effects{}); err != nil {
				return err
			}
		} else {
			deadline := s.transitions.PaymentDeadline(now)
			if err := r.Orders.ResetExpiry(ctx, order.ID, deadline); err != nil {
				return err
			}
			order.ExpiresAt = deadline
		}

		if pay != nil {
			return nil
		}
		created, err := s.newPayment(ctx, r, order, now)
		if err != nil {
			return err
		}
		pay = created
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) || errors.Is(err, domain.ErrInsufficientStock) {
			log.Warn().Err(err).Msg("Повторная оплата отклонена")
			return nil, err
		}
		log.Error().Err(err).Msg("Ошибка повторной оплаты")
		return nil, fmt.Errorf("ошибка повторной оплаты: %w", err)
	}
	if wasExpired {
		lifecycle.RecordTransition("api", domain.OrderStatusPending)
	}

	result := &CreateOrderResult{Order: order, Payment: pay}
	if pay.HasLink() {
		log.Info().Int64("order_code", pay.OrderCode).Msg("Возвращена действующая ссылка на оплату")
		result.CheckoutURL = pay.CheckoutURL
		return result, nil
	}

	url, err := s.attachLink(ctx, order, pay, returnURL, cancelURL)
	if err != nil {
		return result, err
	}
	result.CheckoutURL = url
	return result, nil
}

// PaymentStatus опрашивает провайдера о последнем платеже заказа.
// Итоговые статусы PAID и CANCELLED применяются тем же путём, что и вебхук.
func (s *orderService) PaymentStatus(ctx context.Context, orderID, userID string) (*PaymentStatusResult, error) {
	ctx, span := tracing.Start(ctx, "OrderService.PaymentStatus")
	defer span.End()

	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsOwnedBy(userID) {
		return nil, domain.ErrForbidden
	}

	repos := s.store.Repos()
	pay, err := repos.Payments.GetLatestByOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	result := &PaymentStatusResult{Order: order, Payment: pay}
	if pay.Status.IsTerminal() || !pay.HasLink() {
		return result, nil
	}

	status, err := s.gateway.GetStatus(ctx, pay.Method, payment.LinkRef{OrderCode: pay.OrderCode, ProviderRef: pay.ProviderRef})
	if err != nil {
		log := logger.FromContext(ctx)
		log.Warn().Err(err).Str("order_id", orderID).Msg("Не удалось получить статус оплаты")
		return nil, err
	}
	result.ProviderStatus = status.Status

	applied, err := s.applier.ApplyProviderStatus(ctx, pay, status.Status, status.TransactionID)
	if err != nil {
		return nil, err
	}
	if !applied {
		return result, nil
	}

	if result.Order, err = s.loadOrder(ctx, orderID); err != nil {
		return nil, err
	}
	if result.Payment, err = repos.Payments.GetLatestByOrder(ctx, orderID); err != nil {
		return nil, err
	}
	return result, nil
}
