package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/thub/thub/internal/domain"
)

// SecretStore is the config-store surface the token service needs.
type SecretStore interface {
	// EnsureJWTSecret returns the stored secret, generating and persisting
	// one with generate when none exists. The read-or-create must be atomic.
	EnsureJWTSecret(ctx context.Context, generate func() (string, error)) (string, error)
	JWTExpiryHours(ctx context.Context) (int, error)
}

// TokenOptions tunes [NewTokenService].
type TokenOptions struct {
	// ExpiryHours overrides the stored lifetime when > 0.
	ExpiryHours int
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// TokenService issues and verifies HS256 session tokens bound to a username.
// The secret is resolved once at construction and never changes afterwards.
type TokenService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewTokenService resolves the shared secret from store, creating it on
// first use. Failure to persist a generated secret is fatal and wraps
// [domain.ErrSecretPersist].
func NewTokenService(ctx context.Context, store SecretStore, opts TokenOptions) (*TokenService, error) {
	secret, err := store.EnsureJWTSecret(ctx, GenerateSecret)
	if err != nil {
		if errors.Is(err, domain.ErrSecretPersist) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrSecretPersist, err)
	}
	if strings.TrimSpace(secret) == "" {
		return nil, fmt.Errorf("%w: store returned an empty secret", domain.ErrSecretPersist)
	}

	hours := opts.ExpiryHours
	if hours <= 0 {
		if hours, err = store.JWTExpiryHours(ctx); err != nil {
			return nil, fmt.Errorf("read jwt expiry: %w", err)
		}
	}
	if hours <= 0 {
		hours = domain.DefaultJWTExpiryHours
	}
	return NewStaticTokenService(secret, time.Duration(hours)*time.Hour, opts.Now), nil
}

// NewStaticTokenService builds a service from an already-resolved secret.
func NewStaticTokenService(secret string, expiry time.Duration, now func() time.Time) *TokenService {
	if now == nil {
		now = time.Now
	}
	if expiry <= 0 {
		expiry = domain.DefaultJWTExpiryHours * time.Hour
	}
	return &TokenService{secret: []byte(secret), expiry: expiry, now: now}
}

// Expiry reports the lifetime applied to issued tokens.
func (s *TokenService) Expiry() time.Duration { return s.expiry }

// Issue signs a token for username valid for the configured lifetime.
func (s *TokenService) Issue(username string) (string, error) {
	token, _, err := s.IssueWithExpiry(username)
	return token, err
}

// IssueWithExpiry is like Issue but also reports when the token expires.
func (s *TokenService) IssueWithExpiry(username string) (string, time.Time, error) {
	if username == "" {
		return "", time.Time{}, errors.New("issue token: empty username")
	}
	now := s.now()
	exp := now.Add(s.expiry)
	claims := jwt.RegisteredClaims{
		Subject:   username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify returns the token's subject. Expired, malformed, and mis-signed
// tokens are indistinguishable to the caller.
func (s *TokenService) Verify(token string) (string, bool) {
	if strings.TrimSpace(token) == "" {
		return "", false
	}
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", false
	}
	return claims.Subject, true
}
