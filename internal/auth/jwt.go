// Package auth verifies the bearer tokens presented on connect and on the REST API.
package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/realtime-service/internal/apperr"
	"github.com/fathima-sithara/realtime-service/internal/registry"
)

// RoleService marks tokens issued to backend services. Only they may use the
// server side broadcast endpoints.
const RoleService = "service"

type Claims struct {
	Name   string   `json:"name,omitempty"`
	Avatar string   `json:"avatar,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTValidator checks either HS256 or RS256 signatures, never both.
type JWTValidator struct {
	method jwt.SigningMethod
	key    any
}

func NewJWTValidatorHS256(secret string) (*JWTValidator, error) {
	if secret == "" {
		return nil, errors.New("hs256 secret empty")
	}
	return &JWTValidator{method: jwt.SigningMethodHS256, key: []byte(secret)}, nil
}

func NewJWTValidatorRS256(publicKeyPath string) (*JWTValidator, error) {
	b, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read public key: %w", err)
	}
	pub, err := jwt.ParseRSAPublicKeyFromPEM(b)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}
	return newRS256(pub), nil
}

func newRS256(pub *rsa.PublicKey) *JWTValidator {
	return &JWTValidator{method: jwt.SigningMethodRS256, key: pub}
}

// Validate returns the identity bound to tokenStr. The user id comes from sub;
// the display name falls back to it when the name claim is absent.
func (v *JWTValidator) Validate(tokenStr string) (registry.Identity, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != v.method.Alg() {
			return nil, fmt.Errorf("unexpected signing method %s", t.Method.Alg())
		}
		return v.key, nil
	}, jwt.WithValidMethods([]string{v.method.Alg()}))
	if err != nil {
		return registry.Identity{}, fmt.Errorf("%w: %v", apperr.ErrUnauthenticated, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || strings.TrimSpace(claims.Subject) == "" {
		return registry.Identity{}, fmt.Errorf("%w: missing subject", apperr.ErrUnauthenticated)
	}
	id := registry.Identity{UserID: claims.Subject, DisplayName: claims.Name, Avatar: claims.Avatar, Roles: claims.Roles}
	if id.DisplayName == "" {
		id.DisplayName = id.UserID
	}
	return id, nil
}

func ParseBearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header empty")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" || parts[1] == "" {
		return "", errors.New("invalid authorization header format")
	}
	return parts[1], nil
}
