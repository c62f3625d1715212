package handler

import (
	"time"

	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/service"
)

// === Request DTOs ===

// CreateOrderRequest — запрос на создание заказа. Без items заказ собирается из корзины.
type CreateOrderRequest struct {
	ShippingAddress string                   `json:"shipping_address"`
	PaymentMethod   string                   `json:"payment_method" binding:"required"`
	Items           []CreateOrderItemRequest `json:"items" binding:"omitempty,dive"`
	ShippingCost    *int64                   `json:"shipping_cost"`
	TotalAmount     *int64                   `json:"total_amount"`
	ReturnURL       string                   `json:"return_url" binding:"omitempty,url"`
	CancelURL       string                   `json:"cancel_url" binding:"omitempty,url"`
}

// CreateOrderItemRequest — позиция в запросе на создание заказа.
type CreateOrderItemRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Variant   string `json:"variant"`
	Quantity  int32  `json:"quantity" binding:"required,min=1"`
	UnitPrice *int64 `json:"unit_price"`
}

// UpdateStatusRequest — смена статуса администратором.
type UpdateStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

// RetryPaymentRequest — необязательные адреса возврата.
type RetryPaymentRequest struct {
	ReturnURL string `json:"return_url" binding:"omitempty,url"`
	CancelURL string `json:"cancel_url" binding:"omitempty,url"`
}

// === Response DTOs ===

// MoneyResponse — денежная сумма в ответе.
type MoneyResponse struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// OrderItemResponse — позиция заказа в ответе.
type OrderItemResponse struct {
	ProductID   string        `json:"product_id"`
	ProductName string        `json:"product_name"`
	Variant     string        `json:"variant,omitempty"`
	Quantity    int32         `json:"quantity"`
	UnitPrice   MoneyResponse `json:"unit_price"`
}

// OrderResponse — заказ в ответе.
type OrderResponse struct {
	ID              string              `json:"id"`
	UserID          string              `json:"user_id"`
	Status          string              `json:"status"`
	PaymentMethod   string              `json:"payment_method"`
	ShippingAddress string              `json:"shipping_address"`
	Items           []OrderItemResponse `json:"items"`
	ShippingCost    MoneyResponse       `json:"shipping_cost"`
	TotalAmount     MoneyResponse       `json:"total_amount"`
	ExpiresAt       *time.Time          `json:"expires_at,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
}

// PaymentResponse — платёж в ответе.
type PaymentResponse struct {
	ID             string        `json:"id"`
	Status         string        `json:"status"`
	Method         string        `json:"method"`
	Amount         MoneyResponse `json:"amount"`
	OrderCode      int64         `json:"order_code"`
	CheckoutURL    string        `json:"checkout_url,omitempty"`
	TransactionID  string        `json:"transaction_id,omitempty"`
	ProviderStatus string        `json:"provider_status,omitempty"`
}

// CreateOrderResponse — ответ на создание заказа и повторную оплату.
type CreateOrderResponse struct {
	Order       OrderResponse    `json:"order"`
	Payment     *PaymentResponse `json:"payment,omitempty"`
	CheckoutURL string           `json:"checkout_url,omitempty"`
}

// GetOrderResponse — ответ на запрос заказа.
type GetOrderResponse struct {
	Order OrderResponse `json:"order"`
}

// PaymentStatusResponse — ответ на опрос статуса оплаты.
type PaymentStatusResponse struct {
	Order   OrderResponse   `json:"order"`
	Payment PaymentResponse `json:"payment"`
}

// ListOrdersResponse — ответ на запрос списка заказов.
type ListOrdersResponse struct {
	Orders     []OrderResponse    `json:"orders"`
	Pagination PaginationResponse `json:"pagination"`
}

// PaginationResponse — информация о пагинации.
type PaginationResponse struct {
	CurrentPage int   `json:"current_page"`
	PageSize    int   `json:"page_size"`
	TotalItems  int64 `json:"total_items"`
	TotalPages  int   `json:"total_pages"`
}

// === Преобразования ===

func toCreateInput(userID, idempotencyKey string, admin bool, req CreateOrderRequest) service.CreateOrderInput {
	items := make([]service.ItemInput, len(req.Items))
	for i, item := range req.Items {
		items[i] = service.ItemInput{
			ProductID: item.ProductID,
			Variant:   item.Variant,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		}
	}

	return service.CreateOrderInput{
		UserID:             userID,
		ShippingAddress:    req.ShippingAddress,
		PaymentMethod:      req.PaymentMethod,
		Items:              items,
		ShippingCost:       req.ShippingCost,
		TotalAmount:        req.TotalAmount,
		ReturnURL:          req.ReturnURL,
		CancelURL:          req.CancelURL,
		IdempotencyKey:     idempotencyKey,
		AllowPriceOverride: admin,
	}
}

func moneyToResponse(m domain.Money) MoneyResponse {
	return MoneyResponse{Amount: m.Amount, Currency: m.Currency}
}

func orderToResponse(o *domain.Order) OrderResponse {
	items := make([]OrderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = OrderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Variant:     item.Variant,
			Quantity:    item.Quantity,
			UnitPrice:   moneyToResponse(item.UnitPrice),
		}
	}

	resp := OrderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		ShippingAddress: o.ShippingAddress,
		Items:           items,
		ShippingCost:    moneyToResponse(o.ShippingCost),
		TotalAmount:     moneyToResponse(o.TotalAmount),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	if o.Status == domain.OrderStatusPending && !o.ExpiresAt.IsZero() {
		expires := o.ExpiresAt
		resp.ExpiresAt = &expires
	}
	return resp
}

func paymentToResponse(p *domain.Payment) *PaymentResponse {
	if p == nil {
		return nil
	}
	return &PaymentResponse{
		ID:            p.ID,
		Status:        string(p.Status),
		Method:        string(p.Method),
		Amount:        moneyToResponse(p.Amount),
		OrderCode:     p.OrderCode,
		CheckoutURL:   p.CheckoutURL,
		TransactionID: p.TransactionID,
	}
}

func createResultToResponse(res *service.CreateOrderResult) CreateOrderResponse {
	return CreateOrderResponse{
		Order:       orderToResponse(res.Order),
		Payment:     paymentToResponse(res.Payment),
		CheckoutURL: res.CheckoutURL,
	}
}
