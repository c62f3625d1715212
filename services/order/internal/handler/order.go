// Package handler содержит HTTP обработчики REST API сервиса заказов.
package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/services/order/internal/domain"
	"example.com/storefront-orders/services/order/internal/middleware"
	"example.com/storefront-orders/services/order/internal/service"
)

const maxPageSize = 100

// OrderHandler — обработчик заказов.
type OrderHandler struct {
	orderService service.OrderService
	isAdmin      func(c *gin.Context) bool
}

// NewOrderHandler создаёт обработчик заказов.
// isAdmin определяет роль текущего пользователя, nil: администраторов нет.
func NewOrderHandler(orderService service.OrderService, isAdmin func(c *gin.Context) bool) *OrderHandler {
	if isAdmin == nil {
		isAdmin = func(*gin.Context) bool { return false }
	}
	return &OrderHandler{
		orderService: orderService,
		isAdmin:      isAdmin,
	}
}

// CreateOrder создаёт заказ и, для онлайн-оплаты, ссылку на оплату.
// POST /api/v1/orders
func (h *OrderHandler) CreateOrder(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx)

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Debug().Err(err).Msg("Невалидный запрос на создание заказа")
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Невалидные данные запроса",
		})
		return
	}

	in := toCreateInput(userID, c.GetHeader(middleware.HeaderIdempotencyKey), h.isAdmin(c), req)
	result, err := h.orderService.CreateOrder(ctx, in)
	if err != nil {
		// Заказ создан, но ссылку получить не удалось: клиент может повторить оплату.
		if result != nil && result.Order != nil && errors.Is(err, domain.ErrGateway) {
			log.Warn().Err(err).Str("order_id", result.Order.ID).Msg("Заказ создан без ссылки на оплату")
			c.JSON(http.StatusBadGateway, ErrorResponse{
				Error:   "payment_gateway_error",
				Message: "Заказ создан, но ссылку на оплату получить не удалось. Повторите оплату",
				OrderID: result.Order.ID,
			})
			return
		}
		writeError(c, err, "CreateOrder")
		return
	}

	log.Info().
		Str("order_id", result.Order.ID).
		Str("payment_method", string(result.Order.PaymentMethod)).
		Int("items_count", len(result.Order.Items)).
		Msg("Заказ создан")

	c.JSON(http.StatusCreated, createResultToResponse(result))
}

// ListOrders возвращает заказы текущего пользователя.
// GET /api/v1/orders?page=1&page_size=20&status=pending
func (h *OrderHandler) ListOrders(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	page := 1
	pageSize := 20

	if pageStr := c.Query("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			page = p
		}
	}

	if pageSizeStr := c.Query("page_size"); pageSizeStr != "" {
		if ps, err := strconv.Atoi(pageSizeStr); err == nil && ps > 0 {
			pageSize = min(ps, maxPageSize)
		}
	}

	var status *domain.OrderStatus
	if statusStr := c.Query("status"); statusStr != "" {
		parsed, err := domain.ParseOrderStatus(statusStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Невалидный статус заказа",
			})
			return
		}
		status = &parsed
	}

	orders, total, err := h.orderService.ListOrders(ctx, userID, status, page, pageSize)
	if err != nil {
		writeError(c, err, "ListOrders")
		return
	}

	resp := ListOrdersResponse{
		Orders: make([]OrderResponse, len(orders)),
		Pagination: PaginationResponse{
			CurrentPage: page,
			PageSize:    pageSize,
			TotalItems:  total,
			TotalPages:  int((total + int64(pageSize) - 1) / int64(pageSize)),
		},
	}
	for i, o := range orders {
		resp.Orders[i] = orderToResponse(o)
	}

	c.JSON(http.StatusOK, resp)
}

// GetOrder возвращает заказ владельцу или администратору.
// GET /api/v1/orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	order, err := h.orderService.GetOrder(c.Request.Context(), c.Param("id"), service.Caller{
		UserID: userID,
		Admin:  h.isAdmin(c),
	})
	if err != nil {
		writeError(c, err, "GetOrder")
		return
	}

	c.JSON(http.StatusOK, GetOrderResponse{Order: orderToResponse(order)})
}

// CancelOrder отменяет заказ покупателем.
// POST /api/v1/orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	ctx := c.Request.Context()

	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	order, err := h.orderService.CancelOrder(ctx, c.Param("id"), userID)
	if err != nil {
		writeError(c, err, "CancelOrder")
		return
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", order.ID).
		Msg("Заказ отменён покупателем")

	c.JSON(http.StatusOK, GetOrderResponse{Order: orderToResponse(order)})
}

// UpdateStatus меняет статус заказа. Только для администратора.
// PUT /api/v1/orders/:id/status
func (h *OrderHandler) UpdateStatus(c *gin.Context) {
	ctx := c.Request.Context()

	var req UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_request",
			Message: "Не указан статус",
		})
		return
	}

	order, err := h.orderService.UpdateStatus(ctx, c.Param("id"), req.Status)
	if err != nil {
		writeError(c, err, "UpdateStatus")
		return
	}

	log := logger.FromContext(ctx)
	log.Info().
		Str("order_id", order.ID).
		Str("status", string(order.Status)).
		Msg("Статус заказа изменён администратором")

	c.JSON(http.StatusOK, GetOrderResponse{Order: orderToResponse(order)})
}

// RetryPayment выдаёт новую ссылку на оплату для pending или expired заказа.
// POST /api/v1/orders/:id/retry-payment
func (h *OrderHandler) RetryPayment(c *gin.Context) {
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	// Тело необязательно.
	var req RetryPaymentRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "invalid_request",
				Message: "Невалидные данные запроса",
			})
			return
		}
	}

	result, err := h.orderService.RetryPayment(c.Request.Context(), c.Param("id"), userID, req.ReturnURL, req.CancelURL)
	if err != nil {
		writeError(c, err, "RetryPayment")
		return
	}

	c.JSON(http.StatusOK, createResultToResponse(result))
}

// PaymentStatus опрашивает провайдера и возвращает состояние оплаты.
// GET /api/v1/orders/:id/payment
func (h *OrderHandler) PaymentStatus(c *gin.Context) {
	userID, ok := h.getUserID(c)
	if !ok {
		return
	}

	result, err := h.orderService.PaymentStatus(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		writeError(c, err, "PaymentStatus")
		return
	}

	pay := paymentToResponse(result.Payment)
	pay.ProviderStatus = string(result.ProviderStatus)

	c.JSON(http.StatusOK, PaymentStatusResponse{
		Order:   orderToResponse(result.Order),
		Payment: *pay,
	})
}

// getUserID извлекает user_id, установленный auth middleware.
func (h *OrderHandler) getUserID(c *gin.Context) (string, bool) {
	userID := c.GetString(middleware.ContextUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unauthorized",
			Message: "Требуется авторизация",
		})
		return "", false
	}
	return userID, true
}
