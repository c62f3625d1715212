package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"example.com/storefront-orders/pkg/logger"
	"example.com/storefront-orders/services/order/internal/domain"
)

// ErrorResponse — стандартный формат ошибки API.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// OrderID заполняется, когда заказ создан, но ссылку на оплату получить не удалось.
	OrderID string `json:"order_id,omitempty"`
}

// writeError сопоставляет доменную ошибку с HTTP статусом.
// Неизвестные ошибки логируются и отдаются как 500 без деталей.
func writeError(c *gin.Context, err error, method string) {
	status, resp := errorResponse(err)
	if status == http.StatusInternalServerError {
		log := logger.FromContext(c.Request.Context())
		log.Error().
			Err(err).
			Str("method", method).
			Msg("Внутренняя ошибка")
	}
	c.JSON(status, resp)
}

func errorResponse(err error) (int, ErrorResponse) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: ve.Error()}
		}
		return http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Message: "Невалидные данные запроса"}
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusBadRequest, ErrorResponse{Error: "insufficient_stock", Message: err.Error()}
	case errors.Is(err, domain.ErrEmptyCart):
		return http.StatusBadRequest, ErrorResponse{Error: "empty_cart", Message: "Корзина пуста"}
	case errors.Is(err, domain.ErrProductNotFound):
		return http.StatusBadRequest, ErrorResponse{Error: "product_not_found", Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidStateTransition):
		return http.StatusConflict, ErrorResponse{Error: "invalid_state_transition", Message: err.Error()}
	case errors.Is(err, domain.ErrConcurrentUpdate):
		return http.StatusConflict, ErrorResponse{Error: "conflict", Message: "Заказ изменён параллельным запросом, повторите"}
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Требуется авторизация"}
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, ErrorResponse{Error: "forbidden", Message: "Доступ к заказу запрещён"}
	case errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Заказ не найден"}
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, ErrorResponse{Error: "not_found", Message: "Платёж не найден"}
	case errors.Is(err, domain.ErrGateway):
		return http.StatusBadGateway, ErrorResponse{Error: "payment_gateway_error", Message: "Платёжный провайдер недоступен, повторите оплату позже"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal_error", Message: "Внутренняя ошибка сервера"}
	}
}
