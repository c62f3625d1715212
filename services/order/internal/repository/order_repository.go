package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/storefront-orders/services/order/internal/domain"
)

// OrderRepository — заказы и их позиции.
type OrderRepository interface {
	// Create сохраняет заказ вместе с позициями.
	// Повтор (user_id, idempotency_key) возвращает domain.ErrDuplicateOrder.
	Create(ctx context.Context, order *domain.Order) error

	GetByID(ctx context.Context, orderID string) (*domain.Order, error)

	// GetByIdempotencyKey ищет ранее созданный заказ пользователя по ключу идемпотентности.
	GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error)

	// ListByUserID возвращает заказы пользователя (новые первыми) и общее количество.
	ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error)

	// Transition переводит заказ from → to, только если он всё ещё в статусе from.
	// Иначе domain.ErrConcurrentUpdate.
	Transition(ctx context.Context, orderID string, from, to domain.OrderStatus) error

	// ResetExpiry переносит дедлайн оплаты pending заказа.
	ResetExpiry(ctx context.Context, orderID string, expiresAt time.Time) error

	// ListExpired возвращает pending заказы с истёкшим дедлайном, старые первыми.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error)
}

type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository создаёт репозиторий заказов. db может быть транзакцией.
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) Create(ctx context.Context, order *domain.Order) error {
	model := orderModelFromDomain(order)

	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrDuplicateOrder
		}
		return err
	}

	order.CreatedAt = model.CreatedAt
	order.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *orderRepository) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("id = ?", id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, userID, key string) (*domain.Order, error) {
	var model OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("user_id = ? AND idempotency_key = ?", userID, key).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, err
	}

	return model.toDomain(), nil
}

func (r *orderRepository) ListByUserID(ctx context.Context, userID string, status *domain.OrderStatus, offset, limit int) ([]*domain.Order, int64, error) {
	var (
		models []OrderModel
		total  int64
	)

	query := r.db.WithContext(ctx).Model(&OrderModel{}).Where("user_id = ?", userID)
	if status != nil {
		query = query.Where("status = ?", string(*status))
	}

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if err := query.
		Preload("Items").
		Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, 0, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, total, nil
}

func (r *orderRepository) Transition(ctx context.Context, id string, from, to domain.OrderStatus) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(map[string]any{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *orderRepository) ResetExpiry(ctx context.Context, id string, expiresAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&OrderModel{}).
		Where("id = ? AND status = ?", id, string(domain.OrderStatusPending)).
		Updates(map[string]any{
			"expires_at": expiresAt,
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *orderRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*domain.Order, error) {
	var models []OrderModel

	if err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND expires_at < ?", string(domain.OrderStatusPending), now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, nil
}
