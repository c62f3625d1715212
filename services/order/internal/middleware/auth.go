// Package middleware содержит HTTP middleware сервиса заказов.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example.com/storefront-orders/pkg/jwt"
	"example.com/storefront-orders/pkg/logger"
)

// Ключи gin контекста, которые заполняет AuthMiddleware.
const (
	ContextUserID = "user_id"
	ContextRole   = "role"
	ContextJTI    = "jti"
)

// TokenValidator проверяет access token. Реализуется *jwt.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*jwt.Claims, error)
}

// AuthMiddleware проверяет JWT локально: подпись RS256, срок действия, издателя
// и список отзыва в Redis.
type AuthMiddleware struct {
	validator TokenValidator
	adminRole string
}

// NewAuthMiddleware создаёт middleware аутентификации.
func NewAuthMiddleware(validator TokenValidator, adminRole string) *AuthMiddleware {
	if adminRole == "" {
		adminRole = "admin"
	}
	return &AuthMiddleware{validator: validator, adminRole: adminRole}
}

// Handle возвращает Gin handler function для middleware.
func (m *AuthMiddleware) Handle() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		log := logger.FromContext(ctx)

		token := ExtractBearerToken(c)
		if token == "" {
			log.Debug().Msg("Отсутствует токен авторизации")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Требуется авторизация",
			})
			return
		}

		claims, err := m.validator.Validate(ctx, token)
		if err != nil {
			log.Warn().Err(err).Msg("Ошибка валидации токена")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Невалидный токен",
			})
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextJTI, claims.ID)

		log.Debug().
			Str("user_id", claims.UserID).
			Str("role", claims.Role).
			Msg("Пользователь аутентифицирован")

		c.Next()
	}
}

// RequireAdmin пропускает только пользователей с ролью администратора.
// Ставится после Handle.
func (m *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.IsAdmin(c) {
			log := logger.FromContext(c.Request.Context())
			log.Warn().
				Str("user_id", c.GetString(ContextUserID)).
				Str("path", c.FullPath()).
				Msg("Доступ к административному маршруту запрещён")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Недостаточно прав",
			})
			return
		}
		c.Next()
	}
}

// IsAdmin — у пользователя запроса роль администратора.
func (m *AuthMiddleware) IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == m.adminRole
}

// ExtractBearerToken извлекает токен из Authorization header.
// Формат: "Bearer <token>", префикс регистронезависимый.
func ExtractBearerToken(c *gin.Context) string {
	auth := c.GetHeader("Authorization")
	if auth == "" {
		return ""
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
