package webhook

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/lifecycle"
	"example.com/storefront-orders/services/order/internal/payment"
	"example.com/storefront-orders/services/order/internal/repository"
	"example.com/storefront-orders/services/order/internal/testutil"
)

const (
	testSecret = "whsec_test"
	orderCode  = int64(123456)
)

type fixture struct {
	store      *testutil.MemStore
	reconciler *Reconciler
	redis      *miniredis.Miniredis
	trans      *lifecycle.Transitioner
}

// newFixture создаёт pending заказ на 2 единицы p1 с ожидающим платежом.
func newFixture(t *testing.T, withGuard bool) *fixture {
	t.Helper()

	store := testutil.NewMemStore()
	store.AddProduct(domain.Product{ID: "p1", Name: "Футболка", Price: domain.Money{Currency: "VND", Amount: 100000}, Stock: 3})
	store.PutOrder(&domain.Order{
		ID:            "order-1",
		UserID:        "user-1",
		Status:        domain.OrderStatusPending,
		PaymentMethod: domain.PaymentMethodHostedLink,
		Items:         []domain.OrderItem{{ID: "item-1", OrderID: "order-1", ProductID: "p1", Quantity: 2}},
		TotalAmount:   domain.Money{Currency: "VND", Amount: 200000},
		ExpiresAt:     time.Now().Add(10 * time.Minute),
	})
	store.PutPayment(&domain.Payment{
		ID:          "pay-1",
		OrderID:     "order-1",
		Amount:      domain.Money{Currency: "VND", Amount: 200000},
		Method:      domain.PaymentMethodHostedLink,
		Status:      domain.PaymentStatusPending,
		OrderCode:   orderCode,
		CheckoutURL: "https://pay.test/checkout/123456",
	})

	f := &fixture{
		store: store,
		trans: lifecycle.New("orders", 10*time.Minute),
	}

	var guard ReplayGuard
	if withGuard {
		f.redis = miniredis.RunT(t)
		guard = NewRedisReplayGuard(redis.NewClient(&redis.Options{Addr: f.redis.Addr()}), time.Hour)
	}

	verifier := payment.NewGateway(payment.Config{WebhookSecret: testSecret}, nil)
	f.reconciler = NewReconciler(store, f.trans, verifier, guard)
	return f
}

func body(eventID string, code int64, status, txn string) []byte {
	return []byte(fmt.Sprintf(`{"event_id":%q,"order_code":%d,"status":%q,"transaction_id":%q}`, eventID, code, status, txn))
}

func (f *fixture) deliver(t *testing.T, raw []byte) (Outcome, error) {
	t.Helper()
	return f.reconciler.Handle(context.Background(), raw, payment.Sign(testSecret, raw))
}

// =====================================
// Применение статусов
// =====================================

func TestHandle_PaidConfirmsOrder(t *testing.T) {
	f := newFixture(t, true)

	outcome, err := f.deliver(t, body("evt-1", orderCode, "PAID", "txn-1"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("order-1").Status)

	pay := f.store.PaymentsOf("order-1")[0]
	assert.Equal(t, domain.PaymentStatusCompleted, pay.Status)
	assert.Equal(t, "txn-1", pay.TransactionID)
	assert.Equal(t, int32(3), f.store.Stock("p1"), "оплата не трогает остатки")
	assert.Equal(t, []string{domain.EventOrderConfirmed}, f.store.EventTypes("order-1"))
}

func TestHandle_CancelledReleasesStock(t *testing.T) {
	f := newFixture(t, true)

	outcome, err := f.deliver(t, body("evt-1", orderCode, "cancelled", ""))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderStatusCancelled, f.store.Order("order-1").Status)
	assert.Equal(t, domain.PaymentStatusFailed, f.store.PaymentsOf("order-1")[0].Status)
	assert.Equal(t, int32(5), f.store.Stock("p1"))
	assert.Equal(t, []string{domain.EventOrderCancelled}, f.store.EventTypes("order-1"))
}

func TestHandle_OtherStatusIsNoop(t *testing.T) {
	f := newFixture(t, false)

	outcome, err := f.deliver(t, body("evt-1", orderCode, "PENDING", ""))

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
	assert.Empty(t, f.store.EventTypes("order-1"))
}

func TestHandle_RepeatedCancelReleasesOnce(t *testing.T) {
	f := newFixture(t, false)

	for i := 0; i < 3; i++ {
		_, err := f.deliver(t, body(fmt.Sprintf("evt-%d", i), orderCode, "CANCELLED", ""))
		require.NoError(t, err)
	}

	assert.Equal(t, int32(5), f.store.Stock("p1"))
	assert.Equal(t, []string{domain.EventOrderCancelled}, f.store.EventTypes("order-1"))
}

func TestHandle_PaidAfterExpiryIsNoop(t *testing.T) {
	f := newFixture(t, false)
	order := f.store.Order("order-1")
	require.NoError(t, f.store.WithinTx(context.Background(), func(r repository.Repositories) error {
		return f.trans.Apply(context.Background(), r, order, domain.OrderStatusExpired, lifecycle.Effects{})
	}))

	outcome, err := f.deliver(t, body("evt-late", orderCode, "PAID", "txn-late"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, domain.OrderStatusExpired, f.store.Order("order-1").Status)
	assert.Equal(t, domain.PaymentStatusCancelled, f.store.PaymentsOf("order-1")[0].Status)
	assert.Equal(t, int32(5), f.store.Stock("p1"))
}

// =====================================
// Аутентификация и ошибки
// =====================================

func TestHandle_Rejected(t *testing.T) {
	valid := body("evt-1", orderCode, "PAID", "txn-1")

	tests := []struct {
		name      string
		raw       []byte
		signature string
		wantErr   error
	}{
		{name: "неверная подпись", raw: valid, signature: payment.Sign("other-secret", valid), wantErr: domain.ErrUnauthenticated},
		{name: "без подписи", raw: valid, signature: "", wantErr: domain.ErrUnauthenticated},
		{name: "изменённое тело", raw: body("evt-1", orderCode, "CANCELLED", ""), signature: payment.Sign(testSecret, valid), wantErr: domain.ErrUnauthenticated},
		{name: "некорректный JSON", raw: []byte(`{"order_code":`), signature: payment.Sign(testSecret, []byte(`{"order_code":`)), wantErr: domain.ErrValidation},
		{name: "без кода заказа", raw: body("evt-1", 0, "PAID", ""), signature: payment.Sign(testSecret, body("evt-1", 0, "PAID", "")), wantErr: domain.ErrValidation},
		{name: "неизвестный код", raw: body("evt-1", 999, "PAID", ""), signature: payment.Sign(testSecret, body("evt-1", 999, "PAID", "")), wantErr: domain.ErrOrderNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, true)

			_, err := f.reconciler.Handle(context.Background(), tt.raw, tt.signature)

			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
			assert.Equal(t, domain.PaymentStatusPending, f.store.PaymentsOf("order-1")[0].Status)
			assert.False(t, f.redis.Exists(replayKeyPrefix+"evt-1"), "отклонённая доставка не помечается")
		})
	}
}

// =====================================
// Защита от повторной доставки
// =====================================

func TestHandle_DuplicateDelivery(t *testing.T) {
	f := newFixture(t, true)
	raw := body("evt-1", orderCode, "PAID", "txn-1")

	first, err := f.deliver(t, raw)
	require.NoError(t, err)
	second, err := f.deliver(t, raw)
	require.NoError(t, err)

	assert.Equal(t, OutcomeApplied, first)
	assert.Equal(t, OutcomeDuplicate, second)
	assert.True(t, f.redis.Exists(replayKeyPrefix+"evt-1"))
	assert.Len(t, f.store.EventTypes("order-1"), 1)
}

func TestHandle_DuplicateWithoutGuardIsNoop(t *testing.T) {
	f := newFixture(t, false)
	raw := body("evt-1", orderCode, "PAID", "txn-1")

	_, err := f.deliver(t, raw)
	require.NoError(t, err)
	outcome, err := f.deliver(t, raw)

	require.NoError(t, err)
	assert.Equal(t, OutcomeNoop, outcome)
	assert.Equal(t, "txn-1", f.store.PaymentsOf("order-1")[0].TransactionID)
}

func TestHandle_RedisDownFailsOpen(t *testing.T) {
	f := newFixture(t, true)
	f.redis.Close()

	outcome, err := f.deliver(t, body("evt-1", orderCode, "PAID", "txn-1"))

	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, domain.OrderStatusConfirmed, f.store.Order("order-1").Status)
}

func TestHandle_FailedApplyForgetsEvent(t *testing.T) {
	f := newFixture(t, true)
	f.store.FailOutbox = fmt.Errorf("диск заполнен")

	_, err := f.deliver(t, body("evt-1", orderCode, "PAID", "txn-1"))

	require.Error(t, err)
	assert.False(t, f.redis.Exists(replayKeyPrefix+"evt-1"))
	assert.Equal(t, domain.OrderStatusPending, f.store.Order("order-1").Status)
	assert.Equal(t, domain.PaymentStatusPending, f.store.PaymentsOf("order-1")[0].Status)

	// Провайдер доставит событие снова.
	f.store.FailOutbox = nil
	outcome, err := f.deliver(t, body("evt-1", orderCode, "PAID", "txn-1"))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, outcome)
}

func TestRedisReplayGuard_ForgetWithRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	guard := NewRedisReplayGuard(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Hour)
	first, err := guard.MarkSeen(context.Background(), "evt-1")
	require.NoError(t, err)
	require.True(t, first)
	mr.Close()

	assert.NotPanics(t, func() { guard.Forget(context.Background(), "evt-1") })
}
