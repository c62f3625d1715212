package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxOrderCode — верхняя граница кода корреляции (2^53-1, безопасное целое в JSON).
const MaxOrderCode int64 = 9007199254740991

// orderCodeHexDigits — сколько hex цифр UUID берётся для кода.
const orderCodeHexDigits = 12

// DeriveOrderCode детерминированно выводит код из ID заказа.
// Возвращает false, если ID не содержит достаточно hex цифр или код вне диапазона.
func DeriveOrderCode(orderID string) (int64, bool) {
	hex := strings.ReplaceAll(orderID, "-", "")
	if len(hex) < orderCodeHexDigits {
		return 0, false
	}

	code, err := strconv.ParseInt(hex[:orderCodeHexDigits], 16, 64)
	if err != nil || code <= 0 || code > MaxOrderCode {
		return 0, false
	}
	return code, true
}

// FallbackOrderCode — код по времени для случаев, когда вывести код из ID нельзя.
func FallbackOrderCode(now time.Time) int64 {
	code := now.UnixMilli() % MaxOrderCode
	if code <= 0 {
		code = 1
	}
	return code
}

// RandomOrderCode — код из случайных бит нового UUID. Нужен, когда выбранный код
// перехватила параллельная транзакция и проверка занятости ей уже не поможет.
func RandomOrderCode() int64 {
	for {
		if code, ok := DeriveOrderCode(uuid.NewString()); ok {
			return code
		}
	}
}

// CodeExistsFunc проверяет, занят ли код.
type CodeExistsFunc func(ctx context.Context, code int64) (bool, error)

// maxFallbackAttempts ограничивает подбор свободного кода.
const maxFallbackAttempts = 10

// NewOrderCode выбирает код корреляции для нового платежа: сначала выведенный из ID,
// при невозможности или занятости — по времени, сдвигаясь до свободного значения.
func NewOrderCode(ctx context.Context, orderID string, now time.Time, exists CodeExistsFunc) (int64, error) {
	if code, ok := DeriveOrderCode(orderID); ok {
		taken, err := exists(ctx, code)
		if err != nil {
			return 0, err
		}
		if !taken {
			return code, nil
		}
	}

	code := FallbackOrderCode(now)
	for i := 0; i < maxFallbackAttempts; i++ {
		taken, err := exists(ctx, code)
		if err != nil {
			return 0, err
		}
		if !taken {
			return code, nil
		}
		code = code%MaxOrderCode + 1
	}
	return 0, fmt.Errorf("не удалось подобрать свободный код оплаты для заказа %s", orderID)
}
