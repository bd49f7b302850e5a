// Package store defines the config-store contract shared by the JSON file
// and SQLite backends and opens the configured one.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/thub/thub/internal/domain"
	"github.com/thub/thub/internal/store/jsonfile"
	"github.com/thub/thub/internal/store/sqlite"
)

// Backend names accepted by [Open].
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Store is the persistence surface used by the server and the admin CLI.
type Store interface {
	Load(ctx context.Context) (domain.Config, error)
	LookupCredential(ctx context.Context, username string) (domain.Credential, bool, error)
	LookupRoute(ctx context.Context, name string) (domain.ProxyRoute, bool, error)
	EnsureJWTSecret(ctx context.Context, generate func() (string, error)) (string, error)
	SetJWTSecret(ctx context.Context, secret string) error
	JWTExpiryHours(ctx context.Context) (int, error)
	SetJWTExpiryHours(ctx context.Context, hours int) error
	PutUser(ctx context.Context, cred domain.Credential, replace bool) error
	DeleteUser(ctx context.Context, username string) error
	PutRoute(ctx context.Context, route domain.ProxyRoute) error
	DeleteRoute(ctx context.Context, name string) error
	Close() error
}

var (
	_ Store = (*jsonfile.Store)(nil)
	_ Store = (*sqlite.Store)(nil)
)

// Options tunes [Open].
type Options struct {
	Log *slog.Logger
	// Watch enables change notifications for the file backend so external
	// edits are visible without a restart.
	Watch bool
}

// Open opens the named backend at path.
func Open(backend, path string, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendFile, "json", "yaml":
		return jsonfile.Open(path, jsonfile.Options{Log: opts.Log, Watch: opts.Watch})
	case BackendSQLite:
		return sqlite.Open(path)
	default:
		return nil, fmt.Errorf("unknown store backend %q (want %s or %s)", backend, BackendFile, BackendSQLite)
	}
}

// Import copies every user, route, and JWT setting from src into dst.
// Existing users in dst are replaced.
func Import(ctx context.Context, dst Store, src domain.Config) (users, routes int, err error) {
	for _, cred := range src.Users {
		if err := dst.PutUser(ctx, cred, true); err != nil {
			return users, routes, fmt.Errorf("import user %s: %w", cred.Username, err)
		}
		users++
	}
	for _, route := range src.Proxies {
		if err := dst.PutRoute(ctx, route); err != nil {
			return users, routes, fmt.Errorf("import route %s: %w", route.Name, err)
		}
		routes++
	}
	if src.JWT.Secret != "" {
		if err := dst.SetJWTSecret(ctx, src.JWT.Secret); err != nil {
			return users, routes, fmt.Errorf("import jwt secret: %w", err)
		}
	}
	if src.JWT.ExpiryHours > 0 {
		if err := dst.SetJWTExpiryHours(ctx, src.JWT.ExpiryHours); err != nil {
			return users, routes, fmt.Errorf("import jwt expiry: %w", err)
		}
	}
	return users, routes, nil
}
