package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/storefront-orders/pkg/outbox"
)

// Repositories — набор репозиториев, привязанных к одному соединению или транзакции.
type Repositories struct {
	Orders   OrderRepository
	Payments PaymentRepository
	Products ProductRepository
	Carts    CartRepository
	Outbox   outbox.Repository
}

// Store даёт доступ к репозиториям вне и внутри транзакции.
type Store interface {
	// Repos возвращает репозитории без транзакции (для чтения).
	Repos() Repositories

	// WithinTx выполняет fn в одной транзакции БД.
	// Ошибка fn откатывает все изменения: резерв остатков, заказ, платёж, корзину и outbox.
	WithinTx(ctx context.Context, fn func(r Repositories) error) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore создаёт Store поверх GORM.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) Repos() Repositories {
	return newRepositories(s.db)
}

func (s *gormStore) WithinTx(ctx context.Context, fn func(r Repositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newRepositories(tx))
	})
}

func newRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Orders:   NewOrderRepository(db),
		Payments: NewPaymentRepository(db),
		Products: NewProductRepository(db),
		Carts:    NewCartRepository(db),
		Outbox:   outbox.NewRepository(db),
	}
}
