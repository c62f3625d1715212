package repository

import (
	"context"

	"gorm.io/gorm"

	"example.com/storefront-orders/services/order/internal/domain"
)

// CartRepository — корзина как источник позиций заказа.
// Наполнение корзины принадлежит другому сервису, здесь только чтение и очистка.
type CartRepository interface {
	GetItems(ctx context.Context, userID string) ([]domain.CartItem, error)
	Clear(ctx context.Context, userID string) error
}

type cartRepository struct {
	db *gorm.DB
}

// NewCartRepository создаёт репозиторий корзины. db может быть транзакцией.
func NewCartRepository(db *gorm.DB) CartRepository {
	return &cartRepository{db: db}
}

func (r *cartRepository) GetItems(ctx context.Context, userID string) ([]domain.CartItem, error) {
	var models []CartItemModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	items := make([]domain.CartItem, len(models))
	for i, m := range models {
		items[i] = domain.CartItem{ProductID: m.ProductID, Variant: m.Variant, Quantity: m.Quantity}
	}
	return items, nil
}

func (r *cartRepository) Clear(ctx context.Context, userID string) error {
	return r.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&CartItemModel{}).Error
}
