package domain

import "time"

// Типы событий жизненного цикла заказа, публикуемых через outbox.
const (
	EventOrderCreated       = "order.created"
	EventOrderConfirmed     = "order.confirmed"
	EventOrderCancelled     = "order.cancelled"
	EventOrderExpired       = "order.expired"
	EventOrderStatusChanged = "order.status_changed"
)

// OrderEvent — payload события заказа.
type OrderEvent struct {
	OrderID        string      `json:"order_id"`
	UserID         string      `json:"user_id"`
	Status         OrderStatus `json:"status"`
	PreviousStatus OrderStatus `json:"previous_status,omitempty"`
	TotalAmount    int64       `json:"total_amount"`
	Currency       string      `json:"currency"`
	PaymentMethod  string      `json:"payment_method"`
	TransactionID  string      `json:"transaction_id,omitempty"`
	OccurredAt     time.Time   `json:"occurred_at"`
}

// NewOrderEvent собирает событие по заказу и новому статусу.
func NewOrderEvent(o *Order, previous, status OrderStatus, now time.Time) OrderEvent {
	return OrderEvent{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Status:         status,
		PreviousStatus: previous,
		TotalAmount:    o.TotalAmount.Amount,
		Currency:       o.TotalAmount.Currency,
		PaymentMethod:  string(o.PaymentMethod),
		OccurredAt:     now,
	}
}

// EventTypeFor возвращает тип события для перехода в статус.
func EventTypeFor(status OrderStatus) string {
	switch status {
	case OrderStatusConfirmed:
		return EventOrderConfirmed
	case OrderStatusCancelled:
		return EventOrderCancelled
	case OrderStatusExpired:
		return EventOrderExpired
	default:
		return EventOrderStatusChanged
	}
}
