// Package service содержит бизнес-логику сервиса заказов: создание заказа
// с резервом остатков, отмену, смену статуса администратором, повторную оплату
// и опрос статуса платежа.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/pkg/metrics"
	"example.com/storefront-orders/pkg/tracing"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/lifecycle"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/repository"
)

// Константы для валидации пагинации.
const (
	defaultPage     = 1
	defaultPageSize = 20
	maxPageSize     = 100
	minPageSize     = 1
)

// maxOrderCodeAttempts — сколько раз платёж вставляется с новым кодом при гонке за код корреляции.
const maxOrderCodeAttempts = 3

// Gateway — операции платёжного шлюза, нужные сервису.
type Gateway interface {
	CreateLink(ctx context.Context, method domain.PaymentMethod, req payment.LinkRequest) (*payment.Link, error)
	CancelLink(ctx context.Context, method domain.PaymentMethod, ref payment.LinkRef) error
	GetStatus(ctx context.Context, method domain.PaymentMethod, ref payment.LinkRef) (*payment.StatusResult, error)
}

// StatusApplier применяет статус провайдера к платежу и заказу.
// Тот же путь использует обработчик вебхуков.
type StatusApplier interface {
	ApplyProviderStatus(ctx context.Context, pay *domain.Payment, status payment.ProviderStatus, transactionID string) (bool, error)
}

// Config — параметры сервиса.
type Config struct {
	PaymentWindow       time.Duration
	DefaultShippingCost int64
	Currency            string
	DefaultReturnURL    string
	DefaultCancelURL    string
}

// ItemInput — позиция заказа из запроса.
type ItemInput struct {
	ProductID string
	Variant   string
	Quantity  int32
	// UnitPrice — явная цена. Учитывается только при AllowPriceOverride.
	UnitPrice *int64
}

// CreateOrderInput — параметры создания заказа.
type CreateOrderInput struct {
	UserID          string
	ShippingAddress string
	PaymentMethod   string
	// Items — явный список позиций. Пусто: заказ из корзины пользователя.
	Items []ItemInput
	// ShippingCost — явная стоимость доставки. Учитывается только при AllowPriceOverride.
	ShippingCost *int64
	// TotalAmount — итог, посчитанный клиентом. Только сверяется с расчётом.
	TotalAmount    *int64
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string

	AllowPriceOverride bool
}

// CreateOrderResult — заказ, его платёж (если есть) и ссылка на оплату.
type CreateOrderResult struct {
	Order       *domain.Order
	Payment     *domain.Payment
	CheckoutURL string
}

// Caller — пользователь, выполняющий запрос.
type Caller struct {
	UserID string
	Admin  bool
}

// PaymentStatusResult — состояние оплаты заказа после опроса провайдера.
type PaymentStatusResult struct {
	Order          *domain.Order
	Payment        *domain.Payment
	ProviderStatus payment.ProviderStatus
}

// OrderService определяет интерфейс бизнес-логики заказов.
type OrderService interface {
	// CreateOrder резервирует остатки и создаёт заказ в одной транзакции,
	// после коммита запрашивает ссылку на оплату.
	// При ошибке создания ссылки возвращает и результат (заказ создан), и ошибку domain.ErrGateway.
	CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error)

	// GetOrder возвращает заказ владельцу или администратору.
	GetOrder(ctx context.Context, orderID string, caller Caller) (*domain.Order, error)

	// ListOrders возвращает заказы пользователя с пагинацией.
	ListOrders(ctx context.Context, userID string, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error)

	// CancelOrder отменяет заказ покупателем и возвращает остатки.
	CancelOrder(ctx context.Context, orderID, userID string) (*domain.Order, error)

	// UpdateStatus меняет статус заказа от имени администратора.
	UpdateStatus(ctx context.Context, orderID, status string) (*domain.Order, error)

	// RetryPayment выдаёт ссылку на оплату для pending или expired заказа.
	RetryPayment(ctx context.Context, orderID, userID, returnURL, cancelURL string) (*CreateOrderResult, error)

	// PaymentStatus опрашивает провайдера и сверяет оплату заказа.
	PaymentStatus(ctx context.Context, orderID, userID string) (*PaymentStatusResult, error)
}

type orderService struct {
	store       repository.Store
	gateway     Gateway
	applier     StatusApplier
	transitions *lifecycle.Transitioner
	cfg         Config
}

// NewOrderService создаёт сервис заказов.
func NewOrderService(store repository.Store, gateway Gateway, applier StatusApplier, transitions *lifecycle.Transitioner, cfg Config) OrderService {
	return &orderService{
		store:       store,
		gateway:     gateway,
		applier:     applier,
		transitions: transitions,
		cfg:         cfg,
	}
}

// CreateOrder создаёт заказ.
func (s *orderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*CreateOrderResult, error) {
	ctx, span := tracing.Start(ctx, "OrderService.CreateOrder")
	defer span.End()

	log := logger.FromContext(ctx).With().Str("user_id", in.UserID).Logger()

	method, err := s.validateCreate(in)
	if err != nil {
		log.Warn().Err(err).Msg("Ошибка валидации заказа")
		return nil, err
	}

	if in.IdempotencyKey != "" {
		existing, err := s.findExisting(ctx, in.UserID, in.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Info().
				Str("order_id", existing.Order.ID).
				Str("idempotency_key", in.IdempotencyKey).
				Msg("Возвращён существующий заказ по ключу идемпотентности")
			return existing, nil
		}
	}

	now := s.transitions.Now()
	shipping := s.cfg.DefaultShippingCost
	if in.ShippingCost != nil {
		if in.AllowPriceOverride {
			shipping = *in.ShippingCost
		} else if *in.ShippingCost != shipping {
			log.Warn().
				Int64("client_shipping", *in.ShippingCost).
				Int64("default_shipping", shipping).
				Msg("Стоимость доставки клиента не совпадает с тарифом, используется тариф")
		}
	}

	order := &domain.Order{
		ID:              uuid.New().String(),
		UserID:          in.UserID,
		ShippingCost:    domain.Money{Currency: s.cfg.Currency, Amount: shipping},
		ShippingAddress: strings.TrimSpace(in.ShippingAddress),
		Status:          domain.OrderStatusPending,
		PaymentMethod:   method,
		IdempotencyKey:  in.IdempotencyKey,
		ExpiresAt:       s.transitions.PaymentDeadline(now),
	}

	var pay *domain.Payment
	err = s.store.WithinTx(ctx, func(r repository.Repositories) error {
		lines, fromCart, err := s.resolveItems(ctx, r, in)
		if err != nil {
			return err
		}

		if err := s.reserveItems(ctx, r, order, lines, in.AllowPriceOverride); err != nil {
			return err
		}

		order.CalculateTotal()
		if in.TotalAmount != nil && *in.TotalAmount != order.TotalAmount.Amount {
			log.Warn().
				Str("order_id", order.ID).
				Int64("client_total", *in.TotalAmount).
				Int64("computed_total", order.TotalAmount.Amount).
				Msg("Итог клиента не совпадает с расчётом, используется расчётный")
		}

		if err := order.Validate(); err != nil {
			return err
		}
		if err := r.Orders.Create(ctx, order); err != nil {
			return err
		}

		if method.RequiresLink() {
			pay, err = s.newPayment(ctx, r, order, now)
			if err != nil {
				return err
			}
		}

		if fromCart {
			if err := r.Carts.Clear(ctx, in.UserID); err != nil {
				return fmt.Errorf("ошибка очистки корзины: %w", err)
			}
		}

		return s.transitions.Publish(ctx, r, order.ID, domain.EventOrderCreated,
			domain.NewOrderEvent(order, "", domain.OrderStatusPending, now))
	})
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateOrder) && in.IdempotencyKey != "" {
			// Параллельный запрос с тем же ключом успел создать заказ.
			existing, findErr := s.findExisting(ctx, in.UserID, in.IdempotencyKey)
			if findErr == nil && existing != nil {
				return existing, nil
			}
		}
		logCreateError(log, err)
		return nil, err
	}

	metrics.OrdersCreated.WithLabelValues(string(method)).Inc()
	log.Info().
		Str("order_id", order.ID).
		Int64("total_amount", order.TotalAmount.Amount).
		Str("currency", order.TotalAmount.Currency).
		Int("items_count", len(order.Items)).
		Str("payment_method", string(method)).
		Msg("Заказ успешно создан")

	result := &CreateOrderResult{Order: order, Payment: pay}
	if pay == nil {
		return result, nil
	}

	url, err := s.attachLink(ctx, order, pay, in.ReturnURL, in.CancelURL)
	if err != nil {
		return result, err
	}
	result.CheckoutURL = url
	return result, nil
}

func (s *orderService) validateCreate(in CreateOrderInput) (domain.PaymentMethod, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return "", domain.ErrUnauthenticated
	}
	if strings.TrimSpace(in.ShippingAddress) == "" {
		return "", domain.NewValidationError("shipping_address", "адрес доставки обязателен")
	}
	method, err := domain.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return "", err
	}
	for _, item := range in.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return "", domain.NewValidationError("items.product_id", "не указан товар")
		}
		if item.Quantity <= 0 {
			return "", domain.NewValidationError("items.quantity", "количество должно быть больше нуля")
		}
		if item.UnitPrice != nil && *item.UnitPrice < 0 {
			return "", domain.NewValidationError("items.unit_price", "цена не может быть отрицательной")
		}
	}
	if in.ShippingCost != nil && *in.ShippingCost < 0 {
		return "", domain.NewValidationError("shipping_cost", "стоимость доставки не может быть отрицательной")
	}
	return method, nil
}

// resolveItems возвращает позиции из запроса или из корзины.
func (s *orderService) resolveItems(ctx context.Context, r repository.Repositories, in CreateOrderInput) ([]ItemInput, bool, error) {
	if len(in.Items) > 0 {
		return in.Items, false, nil
	}

	cart, err := r.Carts.GetItems(ctx, in.UserID)
	if err != nil {
		return nil, false, fmt.Errorf("ошибка чтения корзины: %w", err)
	}
	if len(cart) == 0 {
		return nil, false, domain.ErrEmptyCart
	}

	lines := make([]ItemInput, 0, len(cart))
	for _, c := range cart {
		if c.Quantity <= 0 {
			return nil, false, domain.NewValidationError("items.quantity", "количество должно быть больше нуля")
		}
		lines = append(lines, ItemInput{ProductID: c.ProductID, Variant: c.Variant, Quantity: c.Quantity})
	}
	return lines, true, nil
}

// reserveItems резервирует остатки и фиксирует цены позиций.
func (s *orderService) reserveItems(ctx context.Context, r repository.Repositories, order *domain.Order, lines []ItemInput, allowOverride bool) error {
	for _, line := range lines {
		product, err := r.Products.GetByID(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrProductNotFound, line.ProductID)
			}
			return err
		}

		if product.Stock < line.Quantity {
			return &domain.InsufficientStockError{ProductID: product.ID, Requested: line.Quantity, Available: product.Stock}
		}
		if err := r.Products.Reserve(ctx, product.ID, line.Quantity); err != nil {
			return err
		}

		price := product.Price.Amount
		if allowOverride && line.UnitPrice != nil {
			price = *line.UnitPrice
		}

		order.Items = append(order.Items, domain.OrderItem{
			ID:          uuid.New().String(),
			OrderID:     order.ID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Variant:     line.Variant,
			Quantity:    line.Quantity,
			UnitPrice:   domain.Money{Currency: s.cfg.Currency, Amount: price},
		})
	}
	return nil
}

// newPayment создаёт pending платёж с кодом корреляции.
func (s *orderService) newPayment(ctx context.Context, r repository.Repositories, order *domain.Order, now time.Time) (*domain.Payment, error) {
	code, err := payment.NewOrderCode(ctx, order.ID, now, r.Payments.OrderCodeExists)
	if err != nil {
		return nil, err
	}

	pay := &domain.Payment{
		ID:        uuid.New().String(),
		OrderID:   order.ID,
		Amount:    order.TotalAmount,
		Method:    order.PaymentMethod,
		Status:    domain.PaymentStatusPending,
		OrderCode: code,
	}
	for attempt := 1; ; attempt++ {
		err := r.Payments.Create(ctx, pay)
		if err == nil {
			break
		}
		if !errors.Is(err, domain.ErrOrderCodeTaken) {
			return nil, fmt.Errorf("ошибка создания платежа: %w", err)
		}
		if attempt == maxOrderCodeAttempts {
			return nil, fmt.Errorf("%w: %w", domain.ErrConcurrentUpdate, err)
		}
		log := logger.FromContext(ctx)
		log.Warn().
			Str("order_id", order.ID).
			Int64("order_code", pay.OrderCode).
			Int("attempt", attempt).
			Msg("Код оплаты занят параллельным заказом, выбираем новый")
		pay.OrderCode = payment.RandomOrderCode()
	}
	return pay, nil
}

// attachLink запрашивает ссылку у провайдера и сохраняет её в платеже.
func (s *orderService) attachLink(ctx context.Context, order *domain.Order, pay *domain.Payment, returnURL, cancelURL string) (string, error) {
	log := logger.FromContext(ctx).With().
		Str("order_id", order.ID).
		Int64("order_code", pay.OrderCode).
		Logger()

	if returnURL == "" {
		returnURL = s.cfg.DefaultReturnURL
	}
	if cancelURL == "" {
		cancelURL = s.cfg.DefaultCancelURL
	}

	link, err := s.gateway.CreateLink(ctx, pay.Method, payment.LinkRequest{
		OrderID:     order.ID,
		OrderCode:   pay.OrderCode,
		Amount:      pay.Amount,
		Description: fmt.Sprintf("Заказ %d", pay.OrderCode),
		ReturnURL:   returnURL,
		CancelURL:   cancelURL,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Не удалось создать ссылку на оплату, заказ ждёт повторной оплаты")
		return "", err
	}

	if err := s.store.Repos().Payments.AttachLink(ctx, pay.ID, link.CheckoutURL, link.ProviderRef); err != nil {
		if errors.Is(err, domain.ErrConcurrentUpdate) {
			// Платёж закрыли, пока создавалась ссылка.
			s.cancelLink(ctx, pay.Method, payment.LinkRef{OrderCode: link.OrderCode, ProviderRef: link.ProviderRef})
			log.Warn().Msg("Платёж закрыт до сохранения ссылки")
			return "", &domain.TransitionError{From: order.Status, To: domain.OrderStatusPending}
		}
		log.Error().Err(err).Msg("Ошибка сохранения ссылки на оплату")
		return "", fmt.Errorf("ошибка сохранения ссылки: %w", err)
	}

	pay.CheckoutURL = link.CheckoutURL
	pay.ProviderRef = link.ProviderRef
	log.Info().Msg("Ссылка на оплату создана")
	return link.CheckoutURL, nil
}

// cancelLink отменяет ссылку у провайдера. Ошибка только логируется.
func (s *orderService) cancelLink(ctx context.Context, method domain.PaymentMethod, ref payment.LinkRef) {
	if err := s.gateway.CancelLink(ctx, method, ref); err != nil {
		metrics.CompensationFailures.WithLabelValues("cancel_link").Inc()
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int64("order_code", ref.OrderCode).
			Msg("Не удалось отменить ссылку на оплату")
	}
}

// findExisting возвращает ранее созданный заказ по ключу идемпотентности или nil.
func (s *orderService) findExisting(ctx context.Context, userID, key string) (*CreateOrderResult, error) {
	repos := s.store.Repos()

	order, err := repos.Orders.GetByIdempotencyKey(ctx, userID, key)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return nil, nil
		}
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("idempotency_key", key).Msg("Ошибка проверки идемпотентности")
		return nil, fmt.Errorf("ошибка проверки идемпотентности: %w", err)
	}

	result := &CreateOrderResult{Order: order}
	if !order.PaymentMethod.RequiresLink() {
		return result, nil
	}

	pay, err := repos.Payments.GetLatestByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			return result, nil
		}
		return nil, err
	}
	result.Payment = pay
	result.CheckoutURL = pay.CheckoutURL
	return result, nil
}

// GetOrder возвращает заказ по ID.
func (s *orderService) GetOrder(ctx context.Context, orderID string, caller Caller) (*domain.Order, error) {
	order, err := s.loadOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !caller.Admin && !order.IsOwnedBy(caller.UserID) {
		return nil, domain.ErrForbidden
	}
	return order, nil
}

// ListOrders возвращает заказы пользователя с пагинацией.
func (s *orderService) ListOrders(ctx context.Context, userID string, status *domain.OrderStatus, page, pageSize int) ([]*domain.Order, int64, error) {
	log := logger.FromContext(ctx)

	page = normalizePage(page)
	pageSize = normalizePageSize(pageSize)
	offset := (page - 1) * pageSize

	orders, total, err := s.store.Repos().Orders.ListByUserID(ctx, userID, status, offset, pageSize)
	if err != nil {
		log.Error().
			Err(err).
			Str("user_id", userID).
			Int("page", page).
			Int("page_size", pageSize).
			Msg("Ошибка получения списка заказов")
		return nil, 0, fmt.Errorf("ошибка получения списка заказов: %w", err)
	}

	log.Debug().
		Str("user_id", userID).
		Int("page", page).
		Int("page_size", pageSize).
		Int64("total", total).
		Int("returned", len(orders)).
		Msg("Список заказов получен")

	return orders, total, nil
}

func (s *orderService) loadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.store.Repos().Orders.GetByID(ctx, orderID)
	if err != nil {
		log := logger.FromContext(ctx)
		if errors.Is(err, domain.ErrOrderNotFound) {
			log.Debug().Str("order_id", orderID).Msg("Заказ не найден")
			return nil, err
		}
		log.Error().Err(err).Str("order_id", orderID).Msg("Ошибка получения заказа")
		return nil, fmt.Errorf("ошибка получения заказа: %w", err)
	}
	return order, nil
}

func logCreateError(log zerolog.Logger, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrEmptyCart):
		log.Warn().Err(err).Msg("Заказ отклонён")
	default:
		log.Error().Err(err).Msg("Ошибка создания заказа")
	}
}

// normalizePage нормализует номер страницы.
func normalizePage(page int) int {
	if page < defaultPage {
		return defaultPage
	}
	return page
}

// normalizePageSize нормализует размер страницы.
func normalizePageSize(pageSize int) int {
	if pageSize < minPageSize {
		return defaultPageSize
	}
	if pageSize > maxPageSize {
		return maxPageSize
	}
	return pageSize
}
