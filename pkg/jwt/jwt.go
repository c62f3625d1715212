// Package jwt проверяет access токены (RS256), выпущенные внешним auth сервисом.
// Сервис заказов токены не выдаёт: ему нужен только публичный ключ.
package jwt

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken — подпись, срок действия или claims токена не прошли проверку.
var ErrInvalidToken = errors.New("невалидный токен")

// ErrRevokedToken — токен отозван через revocation list.
var ErrRevokedToken = errors.New("токен отозван")

// Claims — данные access токена.
type Claims struct {
	jwt.RegisteredClaims
	UserID string `json:"user_id"`
	Role   string `json:"role,omitempty"`
}

// Validator проверяет токены по публичному ключу.
type Validator struct {
	publicKey   *rsa.PublicKey
	issuer      string
	revocations *Revocations
}

// NewValidator загружает публичный ключ из PEM файла.
// revocations может быть nil — тогда отзыв токенов не проверяется.
func NewValidator(publicKeyPath, issuer string, revocations *Revocations) (*Validator, error) {
	key, err := LoadPublicKey(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewValidatorWithKey(key, issuer, revocations), nil
}

// NewValidatorWithKey создаёт Validator с уже загруженным ключом.
func NewValidatorWithKey(key *rsa.PublicKey, issuer string, revocations *Revocations) *Validator {
	return &Validator{publicKey: key, issuer: issuer, revocations: revocations}
}

// Validate проверяет подпись, срок действия, издателя и отзыв токена.
func (v *Validator) Validate(ctx context.Context, tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: нет user_id", ErrInvalidToken)
	}

	if v.revocations == nil {
		return claims, nil
	}

	revoked, err := v.revocations.IsRevoked(ctx, claims)
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrRevokedToken
	}
	return claims, nil
}

// LoadPublicKey читает RSA публичный ключ (PKIX или PKCS#1) из PEM файла.
func LoadPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла %s: %w", path, err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("не удалось декодировать PEM блок из %s", path)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}

	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("ключ не является RSA публичным ключом")
	}
	return rsaKey, nil
}
