// Package sweeper переводит неоплаченные заказы с истёкшим сроком в expired
// и возвращает их резерв на склад.
package sweeper

import (
	"context"
	"errors"
	"time"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/pkg/tracing"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/lifecycle"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/repository"
)

// LinkCanceller отменяет ссылку на оплату у провайдера.
type LinkCanceller interface {
	CancelLink(ctx context.Context, method domain.PaymentMethod, ref payment.LinkRef) error
}

// Config — настройки Worker.
type Config struct {
	Interval  time.Duration
	BatchSize int
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{Interval: time.Minute, BatchSize: 100}
}

// Worker периодически просматривает просроченные заказы.
// Каждый заказ обрабатывается в своей транзакции, блокировок нет:
// гонку с вебхуком или отменой решает условный переход статуса.
type Worker struct {
	store       repository.Store
	transitions *lifecycle.Transitioner
	links       LinkCanceller
	cfg         Config
}

// NewWorker создаёт Worker.
func NewWorker(store repository.Store, transitions *lifecycle.Transitioner, links LinkCanceller, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Worker{store: store, transitions: transitions, links: links, cfg: cfg}
}

// Run блокирует до отмены контекста.
func (w *Worker) Run(ctx context.Context) {
	log := logger.FromContext(ctx).With().Str("component", "expiry_sweeper").Logger()
	log.Info().
		Dur("interval", w.cfg.Interval).
		Int("batch_size", w.cfg.BatchSize).
		Msg("Запуск sweeper'а просроченных заказов")

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Остановка sweeper'а")
			return
		case <-ticker.C:
			if _, err := w.SweepOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Ошибка прохода sweeper'а")
			}
		}
	}
}

// SweepOnce обрабатывает одну пачку просроченных заказов.
// Возвращает число заказов, переведённых в expired.
func (w *Worker) SweepOnce(ctx context.Context) (int, error) {
	ctx, span := tracing.Start(ctx, "Sweeper.SweepOnce")
	defer span.End()

	orders, err := w.store.Repos().Orders.ListExpired(ctx, w.transitions.Now(), w.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, order := range orders {
		select {
		case <-ctx.Done():
			return expired, ctx.Err()
		default:
		}

		if w.expire(ctx, order) {
			expired++
		}
	}

	if expired > 0 {
		log := logger.FromContext(ctx)
		log.Info().
			Int("expired", expired).
			Int("candidates", len(orders)).
			Msg("Просроченные заказы обработаны")
	}
	return expired, nil
}

func (w *Worker) expire(ctx context.Context, order *domain.Order) bool {
	log := logger.FromContext(ctx).With().
		Str("order_id", order.ID).
		Time("expires_at", order.ExpiresAt).
		Logger()

	open := w.openPayment(ctx, order)

	err := w.store.WithinTx(ctx, func(r repository.Repositories) error {
		return w.transitions.Apply(ctx, r, order, domain.OrderStatusExpired, lifecycle.Effects{})
	})
	if err != nil {
		if lifecycle.IsNoop(err) {
			log.Debug().Msg("Заказ уже изменён, пропускаем")
			return false
		}
		metrics.SweeperErrors.Inc()
		log.Error().Err(err).Msg("Ошибка перевода заказа в expired")
		return false
	}

	metrics.SweeperExpired.Inc()
	lifecycle.RecordTransition("sweeper", domain.OrderStatusExpired)

	if open != nil && open.HasLink() {
		ref := payment.LinkRef{OrderCode: open.OrderCode, ProviderRef: open.ProviderRef}
		if err := w.links.CancelLink(ctx, open.Method, ref); err != nil {
			metrics.CompensationFailures.WithLabelValues("cancel_link").Inc()
			log.Warn().Err(err).Int64("order_code", open.OrderCode).Msg("Не удалось отменить ссылку просроченного заказа")
		}
	}

	log.Info().Msg("Заказ просрочен, резерв возвращён")
	return true
}

func (w *Worker) openPayment(ctx context.Context, order *domain.Order) *domain.Payment {
	if !order.PaymentMethod.RequiresLink() {
		return nil
	}
	pay, err := w.store.Repos().Payments.GetLatestByOrder(ctx, order.ID)
	if err != nil || pay.Status != domain.PaymentStatusPending {
		return nil
	}
	return pay
}
