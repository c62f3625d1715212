// Package testutil содержит общие моки и фейки для тестов сервиса заказов.
package testutil

import (
	"context"
	"fmt"

	"github.com/stretchr/testify/mock"

	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/payment"
)

// =============================================================================
// MockGateway — мок платёжного шлюза
// =============================================================================

// MockGateway реализует интерфейсы шлюза в service, webhook и sweeper.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateLink(ctx context.Context, method domain.PaymentMethod, req payment.LinkRequest) (*payment.Link, error) {
	args := m.Called(ctx, method, req)
	if fn, ok := args.Get(0).(func(context.Context, domain.PaymentMethod, payment.LinkRequest) (*payment.Link, error)); ok {
		return fn(ctx, method, req)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.Link), args.Error(1)
}

func (m *MockGateway) CancelLink(ctx context.Context, method domain.PaymentMethod, ref payment.LinkRef) error {
	return m.Called(ctx, method, ref).Error(0)
}

func (m *MockGateway) GetStatus(ctx context.Context, method domain.PaymentMethod, ref payment.LinkRef) (*payment.StatusResult, error) {
	args := m.Called(ctx, method, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*payment.StatusResult), args.Error(1)
}

func (m *MockGateway) VerifySignature(body []byte, signature string) bool {
	return m.Called(body, signature).Bool(0)
}

// LinkFor возвращает ссылку, которую выдал бы симулятор для кода.
func LinkFor(code int64) *payment.Link {
	return &payment.Link{
		CheckoutURL: fmt.Sprintf("https://pay.test/checkout/%d", code),
		OrderCode:   code,
		ProviderRef: fmt.Sprintf("sim_%d", code),
	}
}

// ExpectCreateLink настраивает успешное создание ссылки для любого запроса.
func (m *MockGateway) ExpectCreateLink() *mock.Call {
	return m.On("CreateLink", mock.Anything, mock.Anything, mock.AnythingOfType("payment.LinkRequest")).
		Return(func(_ context.Context, _ domain.PaymentMethod, req payment.LinkRequest) (*payment.Link, error) {
			return LinkFor(req.OrderCode), nil
		})
}
