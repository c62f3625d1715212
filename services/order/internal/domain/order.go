package domain

import (
	"strings"
	"time"
)

// OrderStatus — статус заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, ждёт оплаты или отгрузки (COD).
	OrderStatusPending OrderStatus = "pending"

	// OrderStatusConfirmed — оплата получена.
	OrderStatusConfirmed OrderStatus = "confirmed"

	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"

	// OrderStatusExpired — окно оплаты истекло, резерв снят.
	// Из expired можно вернуться только в pending через повторную оплату.
	OrderStatusExpired OrderStatus = "expired"
)

// transitions — допустимые переходы. Отсутствие ключа означает терминальный статус.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:   {OrderStatusConfirmed, OrderStatusShipped, OrderStatusCancelled, OrderStatusExpired},
	OrderStatusConfirmed: {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped:   {OrderStatusDelivered},
	OrderStatusExpired:   {OrderStatusPending},
}

// ParseOrderStatus разбирает статус из строки запроса.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(strings.ToLower(strings.TrimSpace(s)))
	switch status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCancelled, OrderStatusExpired:
		return status, nil
	}
	return "", NewValidationError("status", "неизвестный статус заказа")
}

// IsTerminal — из статуса нет переходов.
func (s OrderStatus) IsTerminal() bool {
	_, ok := transitions[s]
	return !ok
}

// CanTransitionTo проверяет переход по машине состояний.
func (s OrderStatus) CanTransitionTo(to OrderStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ReleasesInventory — вход в статус возвращает зарезервированный товар на склад.
func (s OrderStatus) ReleasesInventory() bool {
	return s == OrderStatusCancelled || s == OrderStatusExpired
}

// CheckTransition возвращает TransitionError, если переход from → to запрещён.
func CheckTransition(from, to OrderStatus) error {
	if !from.CanTransitionTo(to) {
		return &TransitionError{From: from, To: to}
	}
	return nil
}

// Order — заказ покупателя.
type Order struct {
	ID              string
	UserID          string
	Items           []OrderItem
	ShippingCost    Money
	TotalAmount     Money
	ShippingAddress string
	Status          OrderStatus
	PaymentMethod   PaymentMethod
	IdempotencyKey  string
	ExpiresAt       time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate проверяет заказ перед сохранением.
func (o *Order) Validate() error {
	if strings.TrimSpace(o.UserID) == "" {
		return NewValidationError("user_id", "не указан пользователь")
	}
	if strings.TrimSpace(o.ShippingAddress) == "" {
		return NewValidationError("shipping_address", "адрес доставки обязателен")
	}
	if len(o.Items) == 0 {
		return NewValidationError("items", "заказ должен содержать хотя бы одну позицию")
	}
	for i := range o.Items {
		if err := o.Items[i].Validate(); err != nil {
			return err
		}
	}
	if o.ShippingCost.Amount < 0 {
		return NewValidationError("shipping_cost", "стоимость доставки не может быть отрицательной")
	}
	return nil
}

// Subtotal — сумма позиций без доставки.
func (o *Order) Subtotal() Money {
	total := Money{Currency: o.ShippingCost.Currency}
	for i := range o.Items {
		total = total.Add(o.Items[i].Total())
	}
	return total
}

// CalculateTotal пересчитывает итог: позиции плюс доставка.
// Вызывается только при создании, после выхода из pending итог не меняется.
func (o *Order) CalculateTotal() {
	o.TotalAmount = o.Subtotal().Add(o.ShippingCost)
}

// TransitionTo меняет статус в памяти. Персистентный переход делает репозиторий
// условным UPDATE по исходному статусу.
func (o *Order) TransitionTo(to OrderStatus, now time.Time) error {
	if err := CheckTransition(o.Status, to); err != nil {
		return err
	}
	o.Status = to
	o.UpdatedAt = now
	return nil
}

// IsOwnedBy проверяет владельца заказа.
func (o *Order) IsOwnedBy(userID string) bool {
	return o.UserID == userID
}

// IsExpired — pending заказ, у которого прошёл дедлайн оплаты.
func (o *Order) IsExpired(now time.Time) bool {
	return o.Status == OrderStatusPending && !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}

// CanCancel — покупатель может отменить заказ до отгрузки.
func (o *Order) CanCancel() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// CanRetryPayment — повторная оплата доступна для pending и expired заказов с онлайн оплатой.
func (o *Order) CanRetryPayment() bool {
	if !o.PaymentMethod.RequiresLink() {
		return false
	}
	return o.Status == OrderStatusPending || o.Status == OrderStatusExpired
}

// OrderItem — позиция заказа. Цена фиксируется в момент заказа.
type OrderItem struct {
	ID          string
	OrderID     string
	ProductID   string
	ProductName string
	Variant     string // выбранный вариант (цвет, размер), только для истории
	Quantity    int32
	UnitPrice   Money
}

// Validate проверяет позицию.
func (oi *OrderItem) Validate() error {
	if strings.TrimSpace(oi.ProductID) == "" {
		return NewValidationError("items.product_id", "не указан товар")
	}
	if oi.Quantity <= 0 {
		return NewValidationError("items.quantity", "количество должно быть больше нуля")
	}
	if oi.UnitPrice.Amount < 0 {
		return NewValidationError("items.unit_price", "цена не может быть отрицательной")
	}
	return nil
}

// Total — цена позиции.
func (oi *OrderItem) Total() Money {
	return oi.UnitPrice.Multiply(oi.Quantity)
}
