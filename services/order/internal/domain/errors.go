// Package domain содержит бизнес-сущности и доменные ошибки сервиса заказов.
package domain

import (
	"errors"
	"fmt"
)

// Доменные ошибки. Handler сопоставляет их с HTTP статусами через errors.Is.
var (
	// ErrValidation — некорректные входные данные запроса.
	ErrValidation = errors.New("некорректные данные")

	// ErrInsufficientStock — на складе меньше единиц товара, чем запрошено.
	ErrInsufficientStock = errors.New("недостаточно товара на складе")

	// ErrInvalidStateTransition — переход запрещён машиной состояний заказа.
	ErrInvalidStateTransition = errors.New("недопустимый переход статуса заказа")

	// ErrUnauthenticated — не удалось подтвердить подлинность запроса (подпись вебхука, токен).
	ErrUnauthenticated = errors.New("запрос не аутентифицирован")

	// ErrForbidden — пользователь не владелец заказа.
	ErrForbidden = errors.New("доступ к заказу запрещён")

	// ErrGateway — ошибка внешнего платёжного провайдера.
	ErrGateway = errors.New("ошибка платёжного провайдера")

	ErrOrderNotFound   = errors.New("заказ не найден")
	ErrPaymentNotFound = errors.New("платёж не найден")
	ErrProductNotFound = errors.New("товар не найден")

	// ErrEmptyCart — заказ из корзины, а корзина пуста.
	ErrEmptyCart = errors.New("корзина пуста")

	// ErrConcurrentUpdate — условное обновление не нашло запись в ожидаемом статусе
	// (запись уже изменил конкурентный писатель).
	ErrConcurrentUpdate = errors.New("запись изменена конкурентно")

	// ErrDuplicateOrder — заказ с таким idempotency key уже существует.
	ErrDuplicateOrder = errors.New("заказ с таким idempotency key уже существует")

	// ErrOrderCodeTaken — код корреляции занят платежом параллельной транзакции.
	ErrOrderCodeTaken = errors.New("код оплаты уже занят")
)

// ValidationError — ошибка валидации с указанием поля.
type ValidationError struct {
	Field   string
	Message string
}

// NewValidationError создаёт ошибку валидации поля.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError называет товар, которого не хватило.
type InsufficientStockError struct {
	ProductID string
	Requested int32
	Available int32
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("недостаточно товара %s: запрошено %d, доступно %d", e.ProductID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// TransitionError описывает отклонённый переход статуса.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("переход %s → %s запрещён", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidStateTransition }
