package jwt

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Ключи Redis пишет auth сервис, здесь они только читаются.
const (
	prefixToken = "jwt:blacklist:"   // jwt:blacklist:{jti}
	prefixUser  = "jwt:invalidated:" // jwt:invalidated:{userID} = unix timestamp
)

// Revocations — список отозванных токенов в Redis.
type Revocations struct {
	redis redis.UniversalClient
}

// NewRevocations создаёт проверку отзыва токенов.
func NewRevocations(client redis.UniversalClient) *Revocations {
	return &Revocations{redis: client}
}

// IsRevoked возвращает true, если отозван сам токен (по jti)
// или все токены пользователя, выданные до момента инвалидации.
func (r *Revocations) IsRevoked(ctx context.Context, claims *Claims) (bool, error) {
	if claims.ID != "" {
		n, err := r.redis.Exists(ctx, prefixToken+claims.ID).Result()
		if err != nil {
			return false, fmt.Errorf("ошибка проверки blacklist: %w", err)
		}
		if n > 0 {
			return true, nil
		}
	}

	if claims.IssuedAt == nil {
		return false, nil
	}

	val, err := r.redis.Get(ctx, prefixUser+claims.UserID).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ошибка проверки инвалидации пользователя: %w", err)
	}

	invalidatedAt, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false, fmt.Errorf("ошибка парсинга timestamp инвалидации: %w", err)
	}
	return claims.IssuedAt.Unix() < invalidatedAt, nil
}
