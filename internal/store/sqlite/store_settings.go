package sqlite

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/thub/thub/internal/domain"
)

// EnsureJWTSecret returns the stored signing secret, creating it from
// generate when absent or empty. Concurrent callers converge on one row
// because the upsert only overwrites an empty value and is followed by a
// re-read.
func (s *Store) EnsureJWTSecret(ctx context.Context, generate func() (string, error)) (string, error) {
	current, ok, err := s.setting(ctx, settingJWTSecret)
	if err != nil {
		return "", err
	}
	if ok && current != "" {
		return current, nil
	}
	candidate, err := generate()
	if err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	const upsert = `INSERT INTO server_settings(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value WHERE server_settings.value = ''`
	if _, err := s.db.ExecContext(ctx, upsert, settingJWTSecret, candidate); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSecretPersist, err)
	}
	current, ok, err = s.setting(ctx, settingJWTSecret)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSecretPersist, err)
	}
	if !ok || current == "" {
		return "", fmt.Errorf("%w: secret row missing after insert", domain.ErrSecretPersist)
	}
	return current, nil
}

// SetJWTSecret replaces the signing secret. All previously issued tokens
// stop verifying once the server restarts with the new value.
func (s *Store) SetJWTSecret(ctx context.Context, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("jwt secret cannot be empty")
	}
	return s.putSetting(ctx, settingJWTSecret, secret)
}

// JWTExpiryHours returns the stored token lifetime or the default.
func (s *Store) JWTExpiryHours(ctx context.Context) (int, error) {
	raw, ok, err := s.setting(ctx, settingJWTExpiryHours)
	if err != nil {
		return 0, err
	}
	if !ok {
		return domain.DefaultJWTExpiryHours, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s setting %q", settingJWTExpiryHours, raw)
	}
	return n, nil
}

// SetJWTExpiryHours stores the token lifetime.
func (s *Store) SetJWTExpiryHours(ctx context.Context, hours int) error {
	if hours <= 0 {
		return errors.New("expiry hours must be > 0")
	}
	return s.putSetting(ctx, settingJWTExpiryHours, strconv.Itoa(hours))
}
