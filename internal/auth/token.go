// Package auth issues and verifies session tokens and hashes passwords.
package auth

import (
	"errors"
	"fmt"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrMissingCredential = errors.New("no credential presented")
)

type Claims struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	jwtlib.RegisteredClaims
}

type TokenOptions struct {
	Secret []byte
	TTL    time.Duration
}

type Tokens struct {
	options TokenOptions
}

func NewTokens(options TokenOptions) *Tokens {
	return &Tokens{options: options}
}

// Issue signs an HS256 token carrying userId and username.
func (t *Tokens) Issue(userID, username string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt: jwtlib.NewNumericDate(now),
		},
	}
	if t.options.TTL > 0 {
		claims.ExpiresAt = jwtlib.NewNumericDate(now.Add(t.options.TTL))
	}
	return jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(t.options.Secret)
}

// Parse validates the signature and expiry and returns the claims.
func (t *Tokens) Parse(token string) (*Claims, error) {
	if token == "" {
		return nil, ErrMissingCredential
	}
	claims := &Claims{}
	parsed, err := jwtlib.ParseWithClaims(token, claims, func(tok *jwtlib.Token) (interface{}, error) {
		if _, ok := tok.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", tok.Header["alg"])
		}
		return t.options.Secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if !parsed.Valid || claims.UserID == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
