package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	mysqldriver "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"example.com/storefront-orders/services/order/internal/domain"
)

// =====================================
// Вспомогательные функции
// =====================================

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err, "Ошибка создания sqlmock")
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err, "Ошибка инициализации GORM")

	return gormDB, mock
}

var (
	reserveSQL    = regexp.QuoteMeta("UPDATE `products` SET `stock`=stock - ?")
	releaseSQL    = regexp.QuoteMeta("UPDATE `products` SET `stock`=stock + ?")
	selectProduct = "SELECT \\* FROM `products` WHERE id = \\? ORDER BY `products`.`id` LIMIT \\?"
	productCols   = []string{"id", "name", "price", "currency", "stock", "updated_at"}
)

// =====================================
// Тесты ProductRepository
// =====================================

func TestProductRepository_Reserve(t *testing.T) {
	tests := []struct {
		name      string
		mockSetup func(mock sqlmock.Sqlmock)
		check     func(t *testing.T, err error)
	}{
		{
			name: "остатка хватает",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(reserveSQL).
					WithArgs(int32(2), sqlmock.AnyArg(), "p-1", int32(2)).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectCommit()
			},
			check: func(t *testing.T, err error) {
				assert.NoError(t, err)
			},
		},
		{
			name: "остатка не хватает — ошибка с названием товара",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(reserveSQL).
					WithArgs(int32(2), sqlmock.AnyArg(), "p-1", int32(2)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
				mock.ExpectQuery(selectProduct).
					WithArgs("p-1", 1).
					WillReturnRows(sqlmock.NewRows(productCols).AddRow("p-1", "Чайник", 1000, "VND", 1, time.Now()))
			},
			check: func(t *testing.T, err error) {
				require.ErrorIs(t, err, domain.ErrInsufficientStock)
				var stockErr *domain.InsufficientStockError
				require.True(t, errors.As(err, &stockErr))
				assert.Equal(t, "p-1", stockErr.ProductID)
				assert.Equal(t, int32(1), stockErr.Available)
			},
		},
		{
			name: "товар не существует",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(reserveSQL).
					WithArgs(int32(2), sqlmock.AnyArg(), "p-1", int32(2)).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectCommit()
				mock.ExpectQuery(selectProduct).
					WithArgs("p-1", 1).
					WillReturnRows(sqlmock.NewRows(productCols))
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, domain.ErrProductNotFound)
			},
		},
		{
			name: "ошибка БД",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(reserveSQL).WillReturnError(sql.ErrConnDone)
				mock.ExpectRollback()
			},
			check: func(t *testing.T, err error) {
				assert.ErrorIs(t, err, sql.ErrConnDone)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)
			tt.mockSetup(mock)

			err := NewProductRepository(gormDB).Reserve(context.Background(), "p-1", 2)

			tt.check(t, err)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestProductRepository_Release(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(releaseSQL).
		WithArgs(int32(3), sqlmock.AnyArg(), "p-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, NewProductRepository(gormDB).Release(context.Background(), "p-1", 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты атомарности
// =====================================

// Второй товар не резервируется — резерв первого откатывается вместе с транзакцией.
func TestStore_WithinTx_RollsBackOnInsufficientStock(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	store := NewStore(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(reserveSQL).
		WithArgs(int32(1), sqlmock.AnyArg(), "p-1", int32(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(reserveSQL).
		WithArgs(int32(10), sqlmock.AnyArg(), "p-2", int32(10)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(selectProduct).
		WithArgs("p-2", 1).
		WillReturnRows(sqlmock.NewRows(productCols).AddRow("p-2", "Лампа", 500, "VND", 5, time.Now()))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), func(r Repositories) error {
		if err := r.Products.Reserve(context.Background(), "p-1", 1); err != nil {
			return err
		}
		return r.Products.Reserve(context.Background(), "p-2", 10)
	})

	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	assert.NoError(t, mock.ExpectationsWereMet(), "ожидался ROLLBACK без COMMIT")
}

// =====================================
// Тесты OrderRepository
// =====================================

func TestOrderRepository_Transition(t *testing.T) {
	transitionSQL := regexp.QuoteMeta("UPDATE `orders` SET `status`=?,`updated_at`=? WHERE id = ? AND status = ?")

	tests := []struct {
		name        string
		affected    int64
		expectedErr error
	}{
		{name: "заказ в ожидаемом статусе", affected: 1},
		{name: "статус уже изменён конкурентно", affected: 0, expectedErr: domain.ErrConcurrentUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)

			mock.ExpectBegin()
			mock.ExpectExec(transitionSQL).
				WithArgs("expired", sqlmock.AnyArg(), "order-1", "pending").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			err := NewOrderRepository(gormDB).Transition(context.Background(), "order-1",
				domain.OrderStatusPending, domain.OrderStatusExpired)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOrderRepository_ResetExpiry(t *testing.T) {
	resetSQL := regexp.QuoteMeta("UPDATE `orders` SET `expires_at`=?,`updated_at`=? WHERE id = ? AND status = ?")
	deadline := time.Date(2026, 3, 1, 12, 10, 0, 0, time.UTC)

	tests := []struct {
		name        string
		affected    int64
		expectedErr error
	}{
		{name: "заказ в pending", affected: 1},
		{name: "заказ уже не в pending", affected: 0, expectedErr: domain.ErrConcurrentUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)

			mock.ExpectBegin()
			mock.ExpectExec(resetSQL).
				WithArgs(deadline, sqlmock.AnyArg(), "order-1", "pending").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			err := NewOrderRepository(gormDB).ResetExpiry(context.Background(), "order-1", deadline)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestOrderRepository_ListExpired(t *testing.T) {
	listSQL := regexp.QuoteMeta("SELECT * FROM `orders` WHERE status = ? AND expires_at < ? ORDER BY expires_at ASC LIMIT ?")
	itemsSQL := regexp.QuoteMeta("SELECT * FROM `order_items` WHERE `order_items`.`order_id`")
	orderCols := []string{"id", "user_id", "idempotency_key", "status", "expires_at", "payment_method",
		"shipping_address", "shipping_cost", "total_amount", "currency", "created_at", "updated_at"}
	itemCols := []string{"id", "order_id", "product_id", "product_name", "variant", "quantity", "unit_price", "currency"}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("выбирает pending с истёкшим сроком", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		mock.ExpectQuery(listSQL).
			WithArgs("pending", now, 50).
			WillReturnRows(sqlmock.NewRows(orderCols).
				AddRow("order-1", "user-1", nil, "pending", now.Add(-time.Minute), "cod", "Ханой", 30000, 130000, "VND", now, now))
		mock.ExpectQuery(itemsSQL).
			WithArgs("order-1").
			WillReturnRows(sqlmock.NewRows(itemCols).
				AddRow("item-1", "order-1", "p-1", "Футболка", "", 2, 50000, "VND"))

		orders, err := NewOrderRepository(gormDB).ListExpired(context.Background(), now, 50)

		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, "order-1", orders[0].ID)
		assert.Equal(t, domain.OrderStatusPending, orders[0].Status)
		require.Len(t, orders[0].Items, 1)
		assert.Equal(t, int32(2), orders[0].Items[0].Quantity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("просроченных нет", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		mock.ExpectQuery(listSQL).
			WithArgs("pending", now, 50).
			WillReturnRows(sqlmock.NewRows(orderCols))

		orders, err := NewOrderRepository(gormDB).ListExpired(context.Background(), now, 50)

		require.NoError(t, err)
		assert.Empty(t, orders)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestOrderRepository_Create_DuplicateIdempotencyKey(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `orders`")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry"})
	mock.ExpectRollback()

	order := &domain.Order{
		ID:              "order-1",
		UserID:          "user-1",
		IdempotencyKey:  "key-1",
		Status:          domain.OrderStatusPending,
		PaymentMethod:   domain.PaymentMethodCOD,
		ShippingAddress: "Адрес",
		TotalAmount:     domain.Money{Currency: "VND", Amount: 1000},
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "p-1", Quantity: 1, UnitPrice: domain.Money{Currency: "VND", Amount: 1000}},
		},
	}

	err := NewOrderRepository(gormDB).Create(context.Background(), order)

	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderRepository_GetByID_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectQuery("SELECT \\* FROM `orders` WHERE id = \\? ORDER BY `orders`.`id` LIMIT \\?").
		WithArgs("missing", 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	order, err := NewOrderRepository(gormDB).GetByID(context.Background(), "missing")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	assert.Nil(t, order)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// =====================================
// Тесты PaymentRepository
// =====================================

func TestPaymentRepository_GetByOrderCode(t *testing.T) {
	query := "SELECT \\* FROM `payments` WHERE order_code = \\? ORDER BY `payments`.`id` LIMIT \\?"
	cols := []string{"id", "order_id", "amount", "currency", "method", "status", "order_code",
		"provider_ref", "checkout_url", "transaction_id", "created_at", "updated_at"}

	t.Run("платёж найден по коду", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		now := time.Now().Truncate(time.Second)
		mock.ExpectQuery(query).
			WithArgs(int64(123456), 1).
			WillReturnRows(sqlmock.NewRows(cols).
				AddRow("pay-1", "order-1", 50000, "VND", "hosted_link", "pending", 123456, "ref-1", "https://pay/1", "", now, now))

		p, err := NewPaymentRepository(gormDB).GetByOrderCode(context.Background(), 123456)

		require.NoError(t, err)
		assert.Equal(t, "order-1", p.OrderID)
		assert.Equal(t, domain.PaymentStatusPending, p.Status)
		assert.Equal(t, domain.PaymentMethodHostedLink, p.Method)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("код неизвестен", func(t *testing.T) {
		gormDB, mock := setupMockDB(t)
		mock.ExpectQuery(query).WithArgs(int64(1), 1).WillReturnRows(sqlmock.NewRows(cols))

		_, err := NewPaymentRepository(gormDB).GetByOrderCode(context.Background(), 1)

		assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPaymentRepository_Create_DuplicateOrderCode(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO `payments`")).
		WillReturnError(&mysqldriver.MySQLError{Number: 1062, Message: "Duplicate entry for key 'order_code'"})
	mock.ExpectRollback()

	err := NewPaymentRepository(gormDB).Create(context.Background(), &domain.Payment{
		ID:        "pay-2",
		OrderID:   "order-2",
		Amount:    domain.Money{Currency: "VND", Amount: 1000},
		Method:    domain.PaymentMethodHostedLink,
		Status:    domain.PaymentStatusPending,
		OrderCode: 123456,
	})

	assert.ErrorIs(t, err, domain.ErrOrderCodeTaken)
	assert.NotErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_Transition_OnlyFromPending(t *testing.T) {
	gormDB, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE `payments` SET `status`=?,`transaction_id`=?,`updated_at`=? WHERE id = ? AND status = ?")).
		WithArgs("completed", "txn-1", sqlmock.AnyArg(), "pay-1", "pending").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	err := NewPaymentRepository(gormDB).Transition(context.Background(), "pay-1", domain.PaymentStatusCompleted, "txn-1")

	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPaymentRepository_AttachLink(t *testing.T) {
	attachSQL := regexp.QuoteMeta("UPDATE `payments` SET `checkout_url`=?,`provider_ref`=?,`updated_at`=? WHERE id = ? AND status = ?")

	tests := []struct {
		name        string
		affected    int64
		expectedErr error
	}{
		{name: "ссылка прикреплена к pending платежу", affected: 1},
		{name: "платёж уже закрыт", affected: 0, expectedErr: domain.ErrConcurrentUpdate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)

			mock.ExpectBegin()
			mock.ExpectExec(attachSQL).
				WithArgs("https://pay.test/1", "ref-1", sqlmock.AnyArg(), "pay-1", "pending").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			err := NewPaymentRepository(gormDB).AttachLink(context.Background(), "pay-1", "https://pay.test/1", "ref-1")

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPaymentRepository_CancelPending(t *testing.T) {
	cancelSQL := regexp.QuoteMeta("UPDATE `payments` SET `status`=?,`updated_at`=? WHERE order_id = ? AND status = ?")

	tests := []struct {
		name     string
		affected int64
	}{
		{name: "отменяет ожидающие платежи", affected: 2},
		{name: "ожидающих нет", affected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gormDB, mock := setupMockDB(t)

			mock.ExpectBegin()
			mock.ExpectExec(cancelSQL).
				WithArgs("cancelled", sqlmock.AnyArg(), "order-1", "pending").
				WillReturnResult(sqlmock.NewResult(0, tt.affected))
			mock.ExpectCommit()

			n, err := NewPaymentRepository(gormDB).CancelPending(context.Background(), "order-1")

			require.NoError(t, err)
			assert.Equal(t, tt.affected, n)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}
