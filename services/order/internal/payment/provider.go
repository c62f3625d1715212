// Package payment — единый интерфейс к платёжным провайдерам.
//
// Каждый способ оплаты обслуживает свой Provider: hosted_link — HTTP провайдер
// платёжных ссылок, card — Stripe Checkout. Провайдер без ключей при создании
// заменяется симулятором. Режим выбирается один раз и не меняется при ошибках вызовов.
package payment

import (
	"context"
	"fmt"

	"example.com/storefront-orders/services/order/internal/domain"
)

// ProviderStatus — статус ссылки оплаты у провайдера.
type ProviderStatus string

const (
	StatusPending   ProviderStatus = "PENDING"
	StatusPaid      ProviderStatus = "PAID"
	StatusCancelled ProviderStatus = "CANCELLED"
	StatusExpired   ProviderStatus = "EXPIRED"
)

// LinkRequest — параметры создания ссылки оплаты.
type LinkRequest struct {
	OrderID     string
	OrderCode   int64
	Amount      domain.Money
	Description string
	ReturnURL   string
	CancelURL   string
}

// Link — созданная ссылка оплаты.
type Link struct {
	CheckoutURL string
	OrderCode   int64
	ProviderRef string
}

// LinkRef идентифицирует ссылку у провайдера.
type LinkRef struct {
	OrderCode   int64
	ProviderRef string
}

// StatusResult — ответ провайдера о состоянии оплаты.
type StatusResult struct {
	Status        ProviderStatus
	TransactionID string
}

// Provider — один платёжный бэкенд.
type Provider interface {
	Name() string
	CreateLink(ctx context.Context, req LinkRequest) (*Link, error)
	CancelLink(ctx context.Context, ref LinkRef) error
	GetStatus(ctx context.Context, ref LinkRef) (*StatusResult, error)
}

// RejectedError — провайдер отклонил запрос (4xx, бизнес-код ошибки).
// Повтор такого запроса не поможет.
type RejectedError struct {
	Provider string
	Code     string
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s отклонил запрос: %s %s", e.Provider, e.Code, e.Message)
}
