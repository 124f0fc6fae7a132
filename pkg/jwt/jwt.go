// Package jwt проверяет RS256 токены на HTTP API order-service.
// Токены выпускает внешний провайдер, здесь нужен только публичный ключ.
package jwt

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("невалидный токен")

// Claims — данные токена, которые использует API.
type Claims struct {
	jwt.RegisteredClaims
	Role string `json:"role,omitempty"`
}

type Config struct {
	PublicKeyPath string
	Issuer        string
}

// Validator проверяет подпись, срок действия и издателя токена.
type Validator struct {
	publicKey *rsa.PublicKey
	parser    *jwt.Parser
}

// NewValidator загружает публичный ключ из PEM файла.
func NewValidator(cfg Config) (*Validator, error) {
	key, err := LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("ошибка загрузки публичного ключа: %w", err)
	}
	return NewValidatorFromKey(key, cfg.Issuer), nil
}

func NewValidatorFromKey(key *rsa.PublicKey, issuer string) *Validator {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &Validator{publicKey: key, parser: jwt.NewParser(opts...)}
}

// Validate возвращает claims валидного токена.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return v.publicKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// LoadPublicKey читает RSA ключ в формате PKIX или PKCS#1.
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
