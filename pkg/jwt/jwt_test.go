package jwt

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testIssuer = "storefront-auth"

// generateKey генерирует RSA ключ для подписи тестовых токенов.
func generateKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err, "не удалось сгенерировать RSA ключ")
	return key
}

func signToken(t *testing.T, key *rsa.PrivateKey, claims Claims) string {
	t.Helper()

	token, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(userID string, issuedAt time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "jti-" + userID,
			Issuer:    testIssuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(15 * time.Minute)),
		},
		UserID: userID,
		Role:   "customer",
	}
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestValidator_Validate(t *testing.T) {
	key := generateKey(t)
	otherKey := generateKey(t)
	now := time.Now()

	expired := validClaims("user-1", now.Add(-time.Hour))

	wrongIssuer := validClaims("user-1", now)
	wrongIssuer.Issuer = "someone-else"

	noUser := validClaims("", now)

	tests := []struct {
		name    string
		token   string
		wantErr error
		wantID  string
	}{
		{
			name:   "валидный токен",
			token:  signToken(t, key, validClaims("user-1", now)),
			wantID: "user-1",
		},
		{
			name:    "подпись чужим ключом",
			token:   signToken(t, otherKey, validClaims("user-1", now)),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "истёкший токен",
			token:   signToken(t, key, expired),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "чужой издатель",
			token:   signToken(t, key, wrongIssuer),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "без user_id",
			token:   signToken(t, key, noUser),
			wantErr: ErrInvalidToken,
		},
		{
			name:    "мусор вместо токена",
			token:   "not.a.token",
			wantErr: ErrInvalidToken,
		},
	}

	v := NewValidatorWithKey(&key.PublicKey, testIssuer, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			claims, err := v.Validate(context.Background(), tt.token)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, claims)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, claims.UserID)
			assert.Equal(t, "customer", claims.Role)
		})
	}
}

func TestValidator_Revocations(t *testing.T) {
	key := generateKey(t)
	mr, client := newTestRedis(t)
	v := NewValidatorWithKey(&key.PublicKey, testIssuer, NewRevocations(client))
	ctx := context.Background()

	t.Run("отозванный jti", func(t *testing.T) {
		claims := validClaims("user-2", time.Now())
		require.NoError(t, mr.Set(prefixToken+claims.ID, "1"))

		_, err := v.Validate(ctx, signToken(t, key, claims))
		assert.ErrorIs(t, err, ErrRevokedToken)
	})

	t.Run("токен выдан до инвалидации пользователя", func(t *testing.T) {
		issued := time.Now().Add(-5 * time.Minute)
		require.NoError(t, mr.Set(prefixUser+"user-3", strconv.FormatInt(time.Now().Unix(), 10)))

		_, err := v.Validate(ctx, signToken(t, key, validClaims("user-3", issued)))
		assert.ErrorIs(t, err, ErrRevokedToken)
	})

	t.Run("токен выдан после инвалидации", func(t *testing.T) {
		require.NoError(t, mr.Set(prefixUser+"user-4", strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)))

		claims, err := v.Validate(ctx, signToken(t, key, validClaims("user-4", time.Now())))
		require.NoError(t, err)
		assert.Equal(t, "user-4", claims.UserID)
	})

	t.Run("redis недоступен — ошибка", func(t *testing.T) {
		token := signToken(t, key, validClaims("user-5", time.Now()))
		mr.Close()

		_, err := v.Validate(ctx, token)
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrRevokedToken)
	})
}

func TestLoadPublicKey(t *testing.T) {
	key := generateKey(t)
	dir := t.TempDir()

	pkix, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)

	write := func(name string, block *pem.Block) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
		return path
	}

	t.Run("PKIX", func(t *testing.T) {
		got, err := LoadPublicKey(write("pkix.pem", &pem.Block{Type: "PUBLIC KEY", Bytes: pkix}))
		require.NoError(t, err)
		assert.True(t, key.PublicKey.Equal(got))
	})

	t.Run("PKCS1", func(t *testing.T) {
		got, err := LoadPublicKey(write("pkcs1.pem", &pem.Block{Type: "RSA PUBLIC KEY", Bytes: x509.MarshalPKCS1PublicKey(&key.PublicKey)}))
		require.NoError(t, err)
		assert.True(t, key.PublicKey.Equal(got))
	})

	t.Run("файл не найден", func(t *testing.T) {
		_, err := LoadPublicKey(filepath.Join(dir, "missing.pem"))
		assert.Error(t, err)
	})

	t.Run("не PEM", func(t *testing.T) {
		path := filepath.Join(dir, "garbage.pem")
		require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
		_, err := LoadPublicKey(path)
		assert.Error(t, err)
	})
}
