package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"example.com/storefront-orders/services/order/internal/domain"
)

// PaymentRepository — попытки оплаты заказов.
type PaymentRepository interface {
	Create(ctx context.Context, payment *domain.Payment) error

	// GetByOrderCode находит платёж по коду корреляции из вебхука.
	GetByOrderCode(ctx context.Context, orderCode int64) (*domain.Payment, error)

	// OrderCodeExists проверяет, занят ли код корреляции.
	OrderCodeExists(ctx context.Context, orderCode int64) (bool, error)

	// GetLatestByOrder возвращает последнюю попытку оплаты заказа.
	GetLatestByOrder(ctx context.Context, orderID string) (*domain.Payment, error)

	// Transition переводит платёж из pending в терминальный статус.
	// transactionID пишется, только если не пустой.
	Transition(ctx context.Context, paymentID string, to domain.PaymentStatus, transactionID string) error

	// CancelPending отменяет pending платёж заказа, если он есть. Возвращает число отменённых.
	CancelPending(ctx context.Context, orderID string) (int64, error)

	// AttachLink сохраняет ссылку на оплату у pending платежа.
	AttachLink(ctx context.Context, paymentID, checkoutURL, providerRef string) error
}

type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository создаёт репозиторий платежей. db может быть транзакцией.
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, p *domain.Payment) error {
	model := paymentModelFromDomain(p)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return domain.ErrOrderCodeTaken
		}
		return err
	}
	p.CreatedAt = model.CreatedAt
	p.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *paymentRepository) GetByOrderCode(ctx context.Context, code int64) (*domain.Payment, error) {
	var model PaymentModel
	if err := r.db.WithContext(ctx).Where("order_code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *paymentRepository) OrderCodeExists(ctx context.Context, code int64) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&PaymentModel{}).Where("order_code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *paymentRepository) GetLatestByOrder(ctx context.Context, orderID string) (*domain.Payment, error) {
	var model PaymentModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrPaymentNotFound
		}
		return nil, err
	}
	return model.toDomain(), nil
}

func (r *paymentRepository) Transition(ctx context.Context, id string, to domain.PaymentStatus, transactionID string) error {
	updates := map[string]any{
		"status":     string(to),
		"updated_at": time.Now().UTC(),
	}
	if transactionID != "" {
		updates["transaction_id"] = transactionID
	}

	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", id, string(domain.PaymentStatusPending)).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}

func (r *paymentRepository) CancelPending(ctx context.Context, orderID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("order_id = ? AND status = ?", orderID, string(domain.PaymentStatusPending)).
		Updates(map[string]any{
			"status":     string(domain.PaymentStatusCancelled),
			"updated_at": time.Now().UTC(),
		})
	return result.RowsAffected, result.Error
}

func (r *paymentRepository) AttachLink(ctx context.Context, id, checkoutURL, providerRef string) error {
	result := r.db.WithContext(ctx).
		Model(&PaymentModel{}).
		Where("id = ? AND status = ?", id, string(domain.PaymentStatusPending)).
		Updates(map[string]any{
			"checkout_url": checkoutURL,
			"provider_ref": providerRef,
			"updated_at":   time.Now().UTC(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrConcurrentUpdate
	}
	return nil
}
