package domain

import (
	"strings"
	"time"
)

// PaymentMethod — способ оплаты.
type PaymentMethod string

const (
	PaymentMethodCOD        PaymentMethod = "cod"
	PaymentMethodHostedLink PaymentMethod = "hosted_link"
	PaymentMethodCard       PaymentMethod = "card"
)

// ParsePaymentMethod разбирает способ оплаты из запроса.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	m := PaymentMethod(strings.ToLower(strings.TrimSpace(s)))
	switch m {
	case PaymentMethodCOD, PaymentMethodHostedLink, PaymentMethodCard:
		return m, nil
	}
	return "", NewValidationError("payment_method", "неизвестный способ оплаты")
}

// RequiresLink — для оплаты нужна ссылка у внешнего провайдера.
func (m PaymentMethod) RequiresLink() bool {
	return m == PaymentMethodHostedLink || m == PaymentMethodCard
}

// PaymentStatus — статус попытки оплаты.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal — платёж завершён и больше не меняется.
func (s PaymentStatus) IsTerminal() bool {
	return s != PaymentStatusPending
}

// Payment — одна попытка оплаты заказа.
type Payment struct {
	ID      string
	OrderID string
	Amount  Money
	Method  PaymentMethod
	Status  PaymentStatus

	// OrderCode — числовой код корреляции, который провайдер возвращает в вебхуке.
	// Уникален и индексирован.
	OrderCode int64

	ProviderRef   string // id сессии у провайдера
	CheckoutURL   string
	TransactionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasLink — ссылка на оплату уже создана.
func (p *Payment) HasLink() bool {
	return p.CheckoutURL != ""
}
