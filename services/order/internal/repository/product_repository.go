package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"example.com/storefront-orders/services/order/internal/domain"
)

// ProductRepository — складской учёт: чтение товара и резерв остатков.
type ProductRepository interface {
	GetByID(ctx context.Context, productID string) (*domain.Product, error)

	// Reserve списывает qty единиц, только если на складе есть stock >= qty.
	// Иначе *domain.InsufficientStockError.
	Reserve(ctx context.Context, productID string, qty int32) error

	// Release возвращает qty единиц на склад (компенсация).
	Release(ctx context.Context, productID string, qty int32) error
}

type productRepository struct {
	db *gorm.DB
}

// NewProductRepository создаёт репозиторий товаров. db может быть транзакцией.
func NewProductRepository(db *gorm.DB) ProductRepository {
	return &productRepository{db: db}
}

func (r *productRepository) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var model ProductModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrProductNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *productRepository) Reserve(ctx context.Context, id string, qty int32) error {
	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ? AND stock >= ?", id, qty).
		Update("stock", gorm.Expr("stock - ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// Условие не выполнилось: товара нет или не хватает остатка.
	product, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	return &domain.InsufficientStockError{ProductID: id, Requested: qty, Available: product.Stock}
}

func (r *productRepository) Release(ctx context.Context, id string, qty int32) error {
	result := r.db.WithContext(ctx).
		Model(&ProductModel{}).
		Where("id = ?", id).
		Update("stock", gorm.Expr("stock + ?", qty))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrProductNotFound
	}
	return nil
}
