package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/testutil"
)

// =====================================
// Тесты CancelOrder
// =====================================

func TestCancelOrder_ReleasesAndCancelsLink(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 2})
	require.Equal(t, int32(3), f.store.Stock("p1"))
	f.gw.On("CancelLink", mock.Anything, domain.PaymentMethodHostedLink, payment.LinkRef{
		OrderCode:   res.Payment.OrderCode,
		ProviderRef: res.Payment.ProviderRef,
	}).Return(nil).Once()

	order, err := f.svc.CancelOrder(context.Background(), res.Order.ID, buyer)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, int32(5), f.store.Stock("p1"))
	assert.Equal(t, domain.PaymentStatusCancelled, f.store.PaymentsOf(res.Order.ID)[0].Status)
	assert.Equal(t, []string{domain.EventOrderCreated, domain.EventOrderCancelled}, f.store.EventTypes(res.Order.ID))
	f.gw.AssertExpectations(t)

	// Повторная отмена не возвращает остатки второй раз.
	_, err = f.svc.CancelOrder(context.Background(), res.Order.ID, buyer)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, int32(5), f.store.Stock("p1"))
}

func TestCancelOrder_CancelLinkFailureIgnored(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 1})
	f.gw.On("CancelLink", mock.Anything, mock.Anything, mock.Anything).
		Return(errors.New("провайдер недоступен")).Once()

	order, err := f.svc.CancelOrder(context.Background(), res.Order.ID, buyer)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, int32(5), f.store.Stock("p1"))
}

func TestCancelOrder_Rejected(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(f *fixture, orderID string)
		userID  string
		wantErr error
	}{
		{
			name:    "чужой заказ",
			prepare: func(*fixture, string) {},
			userID:  stranger,
			wantErr: domain.ErrForbidden,
		},
		{
			name: "заказ отгружен",
			prepare: func(f *fixture, orderID string) {
				_, err := f.svc.UpdateStatus(context.Background(), orderID, "shipped")
				require.NoError(t, err)
			},
			userID:  buyer,
			wantErr: domain.ErrInvalidStateTransition,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
				UserID: buyer, ShippingAddress: "Ханой", PaymentMethod: "cod",
				Items: []ItemInput{{ProductID: "p1", Quantity: 1}},
			})
			require.NoError(t, err)
			tt.prepare(f, res.Order.ID)

			_, err = f.svc.CancelOrder(context.Background(), res.Order.ID, tt.userID)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(4), f.store.Stock("p1"))
		})
	}
}

func TestCancelOrder_Confirmed(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: buyer, ShippingAddress: "Ханой", PaymentMethod: "cod",
		Items: []ItemInput{{ProductID: "p2", Quantity: 2}},
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(context.Background(), res.Order.ID, "confirmed")
	require.NoError(t, err)

	order, err := f.svc.CancelOrder(context.Background(), res.Order.ID, buyer)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, order.Status)
	assert.Equal(t, int32(2), f.store.Stock("p2"))
}

// =====================================
// Тесты UpdateStatus
// =====================================

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name      string
		path      []string
		target    string
		wantErr   error
		wantStock int32
	}{
		{name: "pending → shipped", target: "shipped", wantStock: 4},
		{name: "shipped → delivered", path: []string{"shipped"}, target: "delivered", wantStock: 4},
		{name: "отмена возвращает остаток", target: "cancelled", wantStock: 5},
		{name: "из терминального статуса", path: []string{"shipped", "delivered"}, target: "cancelled", wantErr: domain.ErrInvalidStateTransition, wantStock: 4},
		{name: "shipped → pending запрещён", path: []string{"shipped"}, target: "pending", wantErr: domain.ErrInvalidStateTransition, wantStock: 4},
		{name: "expired вручную нельзя", target: "expired", wantErr: domain.ErrValidation, wantStock: 4},
		{name: "неизвестный статус", target: "lost", wantErr: domain.ErrValidation, wantStock: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
				UserID: buyer, ShippingAddress: "Ханой", PaymentMethod: "cod",
				Items: []ItemInput{{ProductID: "p1", Quantity: 1}},
			})
			require.NoError(t, err)
			for _, step := range tt.path {
				_, err := f.svc.UpdateStatus(context.Background(), res.Order.ID, step)
				require.NoError(t, err)
			}

			order, err := f.svc.UpdateStatus(context.Background(), res.Order.ID, tt.target)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, domain.OrderStatus(tt.target), order.Status)
			}
			assert.Equal(t, tt.wantStock, f.store.Stock("p1"))
		})
	}
}

func TestUpdateStatus_NotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateStatus(context.Background(), "missing", "shipped")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
}

// =====================================
// Тесты RetryPayment
// =====================================

func TestRetryPayment_ExpiredOrder(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 2})
	f.expire(t, res.Order.ID)
	require.Equal(t, int32(5), f.store.Stock("p1"))

	f.now = f.now.Add(time.Hour)
	f.gw.ExpectCreateLink().Once()
	retry, err := f.svc.RetryPayment(context.Background(), res.Order.ID, buyer, "", "")

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, retry.Order.Status)
	assert.Equal(t, f.now.Add(10*time.Minute), f.store.Order(res.Order.ID).ExpiresAt)
	assert.Equal(t, int32(3), f.store.Stock("p1"), "остаток резервируется заново")

	payments := f.store.PaymentsOf(res.Order.ID)
	require.Len(t, payments, 2)
	assert.Equal(t, domain.PaymentStatusCancelled, payments[0].Status)
	assert.Equal(t, domain.PaymentStatusPending, payments[1].Status)
	assert.NotEqual(t, payments[0].OrderCode, payments[1].OrderCode)
	assert.Equal(t, testutil.LinkFor(payments[1].OrderCode).CheckoutURL, retry.CheckoutURL)
}

func TestRetryPayment_ExpiredOrderStockGone(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p2", Quantity: 2})
	f.expire(t, res.Order.ID)

	// Остаток выкупил другой покупатель.
	_, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: stranger, ShippingAddress: "Хюэ", PaymentMethod: "cod",
		Items: []ItemInput{{ProductID: "p2", Quantity: 2}},
	})
	require.NoError(t, err)

	_, err = f.svc.RetryPayment(context.Background(), res.Order.ID, buyer, "", "")

	assert.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.Equal(t, domain.OrderStatusExpired, f.store.Order(res.Order.ID).Status)
	assert.Equal(t, int32(0), f.store.Stock("p2"))
	assert.Len(t, f.store.PaymentsOf(res.Order.ID), 1)
}

func TestRetryPayment_PendingWithLinkReturnsExisting(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 1})
	f.now = f.now.Add(5 * time.Minute)

	retry, err := f.svc.RetryPayment(context.Background(), res.Order.ID, buyer, "", "")

	require.NoError(t, err)
	assert.Equal(t, res.CheckoutURL, retry.CheckoutURL)
	assert.Equal(t, int32(4), f.store.Stock("p1"))
	assert.Equal(t, f.now.Add(10*time.Minute), f.store.Order(res.Order.ID).ExpiresAt)
	f.gw.AssertNumberOfCalls(t, "CreateLink", 1)
}

func TestRetryPayment_Rejected(t *testing.T) {
	f := newFixture(t)
	cod, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: buyer, ShippingAddress: "Ханой", PaymentMethod: "cod",
		Items: []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)
	hosted := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 1})
	f.gw.On("CancelLink", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	_, err = f.svc.CancelOrder(context.Background(), hosted.Order.ID, buyer)
	require.NoError(t, err)

	tests := []struct {
		name    string
		orderID string
		userID  string
		wantErr error
	}{
		{name: "оплата при получении", orderID: cod.Order.ID, userID: buyer, wantErr: domain.ErrValidation},
		{name: "отменённый заказ", orderID: hosted.Order.ID, userID: buyer, wantErr: domain.ErrInvalidStateTransition},
		{name: "чужой заказ", orderID: hosted.Order.ID, userID: stranger, wantErr: domain.ErrForbidden},
		{name: "нет заказа", orderID: "missing", userID: buyer, wantErr: domain.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RetryPayment(context.Background(), tt.orderID, tt.userID, "", "")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

// =====================================
// Тесты PaymentStatus
// =====================================

func TestPaymentStatus_PaidConfirmsOrder(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 1})
	f.gw.On("GetStatus", mock.Anything, domain.PaymentMethodHostedLink, mock.Anything).
		Return(&payment.StatusResult{Status: payment.StatusPaid, TransactionID: "txn-42"}, nil).Once()

	status, err := f.svc.PaymentStatus(context.Background(), res.Order.ID, buyer)

	require.NoError(t, err)
	assert.Equal(t, payment.StatusPaid, status.ProviderStatus)
	assert.Equal(t, domain.OrderStatusConfirmed, status.Order.Status)
	assert.Equal(t, domain.PaymentStatusCompleted, status.Payment.Status)
	assert.Equal(t, "txn-42", status.Payment.TransactionID)
	assert.Equal(t, int32(4), f.store.Stock("p1"))

	// Завершённый платёж больше не опрашивается.
	_, err = f.svc.PaymentStatus(context.Background(), res.Order.ID, buyer)
	require.NoError(t, err)
	f.gw.AssertNumberOfCalls(t, "GetStatus", 1)
}

func TestPaymentStatus_PendingLeavesOrder(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 1})
	f.gw.On("GetStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(&payment.StatusResult{Status: payment.StatusPending}, nil)

	status, err := f.svc.PaymentStatus(context.Background(), res.Order.ID, buyer)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, status.Order.Status)
	assert.Equal(t, domain.PaymentStatusPending, status.Payment.Status)
}

func TestPaymentStatus_GatewayError(t *testing.T) {
	f := newFixture(t)
	res := f.createHosted(t, ItemInput{ProductID: "p1", Quantity: 1})
	f.gw.On("GetStatus", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, domain.ErrGateway)

	_, err := f.svc.PaymentStatus(context.Background(), res.Order.ID, buyer)

	assert.ErrorIs(t, err, domain.ErrGateway)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order(res.Order.ID).Status)
}

func TestPaymentStatus_CODHasNoPayment(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.CreateOrder(context.Background(), CreateOrderInput{
		UserID: buyer, ShippingAddress: "Ханой", PaymentMethod: "cod",
		Items: []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.PaymentStatus(context.Background(), res.Order.ID, buyer)

	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}
