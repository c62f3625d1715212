package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/storefront-orders/pkg/jwt"
)

// stubValidator принимает токены из карты.
type stubValidator map[string]*jwt.Claims

func (s stubValidator) Validate(_ context.Context, token string) (*jwt.Claims, error) {
	if claims, ok := s[token]; ok {
		return claims, nil
	}
	return nil, jwt.ErrInvalidToken
}

func testValidator() stubValidator {
	return stubValidator{
		"buyer-token": {UserID: "user-1", Role: "customer", RegisteredClaims: gojwt.RegisteredClaims{ID: "jti-1"}},
		"admin-token": {UserID: "admin-1", Role: "admin"},
	}
}

func init() {
	gin.SetMode(gin.TestMode)
}

// =====================================
// Аутентификация
// =====================================

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantUser   string
	}{
		{name: "валидный токен", header: "Bearer buyer-token", wantStatus: http.StatusOK, wantUser: "user-1"},
		{name: "префикс в нижнем регистре", header: "bearer buyer-token", wantStatus: http.StatusOK, wantUser: "user-1"},
		{name: "без заголовка", header: "", wantStatus: http.StatusUnauthorized},
		{name: "не Bearer", header: "Basic dXNlcjpwYXNz", wantStatus: http.StatusUnauthorized},
		{name: "неизвестный токен", header: "Bearer forged", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := NewAuthMiddleware(testValidator(), "admin")
			r := gin.New()
			var gotUser string
			r.GET("/me", auth.Handle(), func(c *gin.Context) {
				gotUser = c.GetString(ContextUserID)
				c.Status(http.StatusOK)
			})

			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantUser, gotUser)
		})
	}
}

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		token      string
		wantStatus int
	}{
		{name: "администратор", token: "admin-token", wantStatus: http.StatusOK},
		{name: "покупатель", token: "buyer-token", wantStatus: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := NewAuthMiddleware(testValidator(), "")
			r := gin.New()
			r.PUT("/admin", auth.Handle(), auth.RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(http.MethodPut, "/admin", nil)
			req.Header.Set("Authorization", "Bearer "+tt.token)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
		})
	}
}

// =====================================
// Rate limit
// =====================================

func newLimitedRouter(client redis.UniversalClient, limit int) *gin.Engine {
	mw := NewRateLimitMiddleware(RateLimitConfig{Redis: client, Scope: "orders", Limit: limit, Window: time.Minute})
	r := gin.New()
	r.POST("/orders", func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set(ContextUserID, user)
		}
		c.Next()
	}, mw.Handle(), func(c *gin.Context) { c.Status(http.StatusCreated) })
	return r
}

func post(r *gin.Engine, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BlocksExcessRequests(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newLimitedRouter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 3)

	for i := 0; i < 3; i++ {
		w := post(r, "user-1")
		require.Equal(t, http.StatusCreated, w.Code, "запрос %d должен пройти", i+1)
		assert.Equal(t, strconv.Itoa(2-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := post(r, "user-1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// Счётчик у каждого пользователя свой.
	assert.Equal(t, http.StatusCreated, post(r, "user-2").Code)
	assert.True(t, mr.Exists("rate:orders:user-1"))
}

func TestRateLimit_AnonymousByIP(t *testing.T) {
	mr := miniredis.RunT(t)
	r := newLimitedRouter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1)

	assert.Equal(t, http.StatusCreated, post(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, post(r, "").Code)
	assert.True(t, mr.Exists("rate:orders:ip:192.168.1.1"))
}

func TestRateLimit_FailOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := newLimitedRouter(client, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusCreated, post(r, "user-1").Code)
	}
}

// =====================================
// Заголовки, recovery, контекст запроса
// =====================================

func TestCORS(t *testing.T) {
	tests := []struct {
		name       string
		origins    []string
		origin     string
		method     string
		wantStatus int
		wantAllow  string
	}{
		{name: "preflight разрешённого источника", origins: []string{"https://shop.test"}, origin: "https://shop.test", method: http.MethodOptions, wantStatus: http.StatusNoContent, wantAllow: "https://shop.test"},
		{name: "чужой источник", origins: []string{"https://shop.test"}, origin: "https://evil.test", method: http.MethodGet, wantStatus: http.StatusOK, wantAllow: ""},
		{name: "wildcard", origins: nil, origin: "https://any.test", method: http.MethodGet, wantStatus: http.StatusOK, wantAllow: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.Use(CORS(NewCORSConfig(tt.origins)))
			r.GET("/orders", func(c *gin.Context) { c.Status(http.StatusOK) })
			r.OPTIONS("/orders", func(c *gin.Context) { c.Status(http.StatusOK) })

			req := httptest.NewRequest(tt.method, "/orders", nil)
			req.Header.Set("Origin", tt.origin)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, tt.wantAllow, w.Header().Get("Access-Control-Allow-Origin"))
		})
	}
}

func TestSecurityHeaders(t *testing.T) {
	r := gin.New()
	r.Use(SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.GET("/panic", func(*gin.Context) { panic(errors.New("nil map")) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal_error","message":"Внутренняя ошибка сервера"}`, w.Body.String())
}

func TestRequestContext(t *testing.T) {
	r := gin.New()
	r.Use(RequestContext())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	t.Run("заголовки запроса сохраняются", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(HeaderRequestID, "req-1")
		req.Header.Set(HeaderCorrelationID, "corr-1")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
		assert.Equal(t, "corr-1", w.Header().Get(HeaderCorrelationID))
	})

	t.Run("без заголовков генерируются", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

		assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
		assert.NotEmpty(t, w.Header().Get(HeaderCorrelationID))
	})
}
