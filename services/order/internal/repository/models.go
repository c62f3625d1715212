// Package repository — доступ к данным сервиса заказов через GORM.
//
// GORM модели отделены от доменных сущностей. Все переходы статусов
// выполняются условным UPDATE по исходному статусу (compare-and-swap):
// RowsAffected == 0 означает, что запись уже изменил конкурентный писатель.
package repository

import (
	"time"

	"example.com/storefront-orders/services/order/internal/domain"
)

// OrderModel — таблица orders.
type OrderModel struct {
	ID              string           `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID          string           `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:idx_orders_user_idempotency,priority:1"`
	IdempotencyKey  *string          `gorm:"column:idempotency_key;type:varchar(64);uniqueIndex:idx_orders_user_idempotency,priority:2"`
	Status          string           `gorm:"column:status;type:varchar(20);not null;index:idx_orders_status_expires,priority:1"`
	ExpiresAt       time.Time        `gorm:"column:expires_at;not null;index:idx_orders_status_expires,priority:2"`
	PaymentMethod   string           `gorm:"column:payment_method;type:varchar(20);not null"`
	ShippingAddress string           `gorm:"column:shipping_address;type:text;not null"`
	ShippingCost    int64            `gorm:"column:shipping_cost;not null;default:0"`
	TotalAmount     int64            `gorm:"column:total_amount;not null"`
	Currency        string           `gorm:"column:currency;type:varchar(3);not null"`
	CreatedAt       time.Time        `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time        `gorm:"column:updated_at;autoUpdateTime"`
	Items           []OrderItemModel `gorm:"foreignKey:OrderID;references:ID"`
}

func (OrderModel) TableName() string {
	return "orders"
}

// OrderItemModel — таблица order_items. Цена и название зафиксированы на момент заказа.
type OrderItemModel struct {
	ID          string `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string `gorm:"column:order_id;type:varchar(36);not null;index"`
	ProductID   string `gorm:"column:product_id;type:varchar(36);not null"`
	ProductName string `gorm:"column:product_name;type:varchar(255);not null"`
	Variant     string `gorm:"column:variant;type:varchar(64)"`
	Quantity    int32  `gorm:"column:quantity;not null"`
	UnitPrice   int64  `gorm:"column:unit_price;not null"`
	Currency    string `gorm:"column:currency;type:varchar(3);not null"`
}

func (OrderItemModel) TableName() string {
	return "order_items"
}

// PaymentModel — таблица payments.
// order_code уникален: по нему вебхук находит платёж без сканирования заказов.
type PaymentModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID       string    `gorm:"column:order_id;type:varchar(36);not null;index"`
	Amount        int64     `gorm:"column:amount;not null"`
	Currency      string    `gorm:"column:currency;type:varchar(3);not null"`
	Method        string    `gorm:"column:method;type:varchar(20);not null"`
	Status        string    `gorm:"column:status;type:varchar(20);not null"`
	OrderCode     int64     `gorm:"column:order_code;not null;uniqueIndex"`
	ProviderRef   string    `gorm:"column:provider_ref;type:varchar(255)"`
	CheckoutURL   string    `gorm:"column:checkout_url;type:text"`
	TransactionID string    `gorm:"column:transaction_id;type:varchar(255)"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentModel) TableName() string {
	return "payments"
}

// ProductModel — колонки таблицы products, нужные для резерва.
// Остальной каталог принадлежит другому сервису.
type ProductModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Price     int64     `gorm:"column:price;not null"`
	Currency  string    `gorm:"column:currency;type:varchar(3);not null"`
	Stock     int32     `gorm:"column:stock;not null;default:0"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProductModel) TableName() string {
	return "products"
}

// CartItemModel — таблица cart_items.
type CartItemModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string    `gorm:"column:user_id;type:varchar(36);not null;index"`
	ProductID string    `gorm:"column:product_id;type:varchar(36);not null"`
	Variant   string    `gorm:"column:variant;type:varchar(64)"`
	Quantity  int32     `gorm:"column:quantity;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (CartItemModel) TableName() string {
	return "cart_items"
}

// Models — список моделей для AutoMigrate.
func Models() []any {
	return []any{&OrderModel{}, &OrderItemModel{}, &PaymentModel{}, &ProductModel{}, &CartItemModel{}}
}

func (m *OrderModel) toDomain() *domain.Order {
	order := &domain.Order{
		ID:              m.ID,
		UserID:          m.UserID,
		Status:          domain.OrderStatus(m.Status),
		PaymentMethod:   domain.PaymentMethod(m.PaymentMethod),
		ShippingAddress: m.ShippingAddress,
		ShippingCost:    domain.Money{Currency: m.Currency, Amount: m.ShippingCost},
		TotalAmount:     domain.Money{Currency: m.Currency, Amount: m.TotalAmount},
		ExpiresAt:       m.ExpiresAt,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
		Items:           make([]domain.OrderItem, len(m.Items)),
	}
	if m.IdempotencyKey != nil {
		order.IdempotencyKey = *m.IdempotencyKey
	}
	for i := range m.Items {
		order.Items[i] = m.Items[i].toDomain()
	}
	return order
}

func (m *OrderItemModel) toDomain() domain.OrderItem {
	return domain.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		ProductID:   m.ProductID,
		ProductName: m.ProductName,
		Variant:     m.Variant,
		Quantity:    m.Quantity,
		UnitPrice:   domain.Money{Currency: m.Currency, Amount: m.UnitPrice},
	}
}

func orderModelFromDomain(o *domain.Order) *OrderModel {
	model := &OrderModel{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		ExpiresAt:       o.ExpiresAt,
		PaymentMethod:   string(o.PaymentMethod),
		ShippingAddress: o.ShippingAddress,
		ShippingCost:    o.ShippingCost.Amount,
		TotalAmount:     o.TotalAmount.Amount,
		Currency:        o.TotalAmount.Currency,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Items:           make([]OrderItemModel, len(o.Items)),
	}
	if o.IdempotencyKey != "" {
		key := o.IdempotencyKey
		model.IdempotencyKey = &key
	}
	for i := range o.Items {
		item := &o.Items[i]
		model.Items[i] = OrderItemModel{
			ID:          item.ID,
			OrderID:     o.ID,
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Variant:     item.Variant,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.Amount,
			Currency:    item.UnitPrice.Currency,
		}
	}
	return model
}

func (m *PaymentModel) toDomain() *domain.Payment {
	return &domain.Payment{
		ID:            m.ID,
		OrderID:       m.OrderID,
		Amount:        domain.Money{Currency: m.Currency, Amount: m.Amount},
		Method:        domain.PaymentMethod(m.Method),
		Status:        domain.PaymentStatus(m.Status),
		OrderCode:     m.OrderCode,
		ProviderRef:   m.ProviderRef,
		CheckoutURL:   m.CheckoutURL,
		TransactionID: m.TransactionID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func paymentModelFromDomain(p *domain.Payment) *PaymentModel {
	return &PaymentModel{
		ID:            p.ID,
		OrderID:       p.OrderID,
		Amount:        p.Amount.Amount,
		Currency:      p.Amount.Currency,
		Method:        string(p.Method),
		Status:        string(p.Status),
		OrderCode:     p.OrderCode,
		ProviderRef:   p.ProviderRef,
		CheckoutURL:   p.CheckoutURL,
		TransactionID: p.TransactionID,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

func (m *ProductModel) toDomain() *domain.Product {
	return &domain.Product{
		ID:    m.ID,
		Name:  m.Name,
		Price: domain.Money{Currency: m.Currency, Amount: m.Price},
		Stock: m.Stock,
	}
}
