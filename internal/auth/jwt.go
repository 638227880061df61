// Package auth issues and validates service tokens for callers of the delivery API.
package auth

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Errors returned by the token authenticator.
var (
	ErrInvalidToken   = errors.New("invalid token")
	ErrEmptySubject   = errors.New("service name is required")
	ErrServiceUnknown = errors.New("service not allowed")
)

// Config holds service token settings.
type Config struct {
	Secret   string
	Issuer   string
	TokenTTL time.Duration
	// AllowedServices restricts accepted subjects; empty accepts any signed token.
	AllowedServices []string
}

// Claims are the JWT claims of a service token.
type Claims struct {
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 service tokens.
type Authenticator struct {
	secret  []byte
	issuer  string
	ttl     time.Duration
	allowed []string
	now     func() time.Time
}

// NewAuthenticator creates a new authenticator.
func NewAuthenticator(config Config) (*Authenticator, error) {
	if len(config.Secret) < 32 {
		return nil, errors.New("auth: secret must be at least 32 bytes")
	}
	return &Authenticator{
		secret:  []byte(config.Secret),
		issuer:  config.Issuer,
		ttl:     config.TokenTTL,
		allowed: config.AllowedServices,
		now:     time.Now,
	}, nil
}

// IssueToken signs a token for service. A zero ttl falls back to the configured TTL;
// if both are zero the token does not expire.
func (a *Authenticator) IssueToken(service string, ttl time.Duration) (string, error) {
	if service == "" {
		return "", ErrEmptySubject
	}
	if ttl == 0 {
		ttl = a.ttl
	}

	now := a.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  service,
			Issuer:   a.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// ValidateToken verifies the token and returns the service it was issued to.
func (a *Authenticator) ValidateToken(_ context.Context, tokenString string) (string, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(a.now),
	}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	if len(a.allowed) > 0 && !slices.Contains(a.allowed, claims.Subject) {
		return "", ErrServiceUnknown
	}
	return claims.Subject, nil
}
