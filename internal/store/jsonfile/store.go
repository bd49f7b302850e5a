// Package jsonfile implements the config store on top of a single JSON (or
// YAML) file compatible with the historical config.json layout.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/thub/thub/internal/domain"
)

// Options tunes [Open].
type Options struct {
	Log *slog.Logger
	// Watch caches the parsed file and drops the cache whenever the file
	// changes on disk. Without it every Load re-reads the file.
	Watch bool
}

// Store is a file-backed config store. Writers are serialized and each
// write replaces the file atomically via rename.
type Store struct {
	path  string
	codec codec
	log   *slog.Logger

	mu sync.Mutex // serializes read-modify-write cycles

	cacheMu  sync.RWMutex
	cached   *domain.Config
	cacheGen uint64 // bumped on every invalidation

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// Open prepares a store for path. A missing file is not an error; it reads
// as an empty configuration until the first write creates it.
func Open(path string, opts Options) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("config path is required")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		path:  abs,
		codec: codecForPath(abs),
		log:   log,
		done:  make(chan struct{}),
	}
	if opts.Watch {
		if err := s.startWatch(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Path returns the absolute file path backing the store.
func (s *Store) Path() string { return s.path }

// Exists reports whether the backing file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Close stops the file watcher, if any.
func (s *Store) Close() error {
	if s.watcher == nil {
		return nil
	}
	close(s.done)
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}

// Load returns the current configuration.
func (s *Store) Load(_ context.Context) (domain.Config, error) {
	var gen uint64
	if s.watcher != nil {
		s.cacheMu.RLock()
		cached, cur := s.cached, s.cacheGen
		s.cacheMu.RUnlock()
		if cached != nil {
			return cached.Clone(), nil
		}
		gen = cur
	}
	cfg, err := s.read()
	if err != nil {
		return domain.Config{}, err
	}
	s.rememberAt(cfg, gen)
	return cfg, nil
}

// LookupCredential returns the credential stored for username.
func (s *Store) LookupCredential(ctx context.Context, username string) (domain.Credential, bool, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return domain.Credential{}, false, err
	}
	cred, ok := cfg.Users[username]
	return cred, ok, nil
}

// LookupRoute returns the proxy route configured under name.
func (s *Store) LookupRoute(ctx context.Context, name string) (domain.ProxyRoute, bool, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return domain.ProxyRoute{}, false, err
	}
	route, ok := cfg.Proxies[name]
	return route, ok, nil
}

// EnsureJWTSecret returns the configured secret or generates and writes one.
// The read, generate, and write happen under the store's write lock.
func (s *Store) EnsureJWTSecret(_ context.Context, generate func() (string, error)) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.read()
	if err != nil {
		return "", err
	}
	if cfg.JWT.Secret != "" {
		return cfg.JWT.Secret, nil
	}
	secret, err := generate()
	if err != nil {
		return "", fmt.Errorf("generate jwt secret: %w", err)
	}
	cfg.JWT.Secret = secret
	if err := s.write(cfg); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSecretPersist, err)
	}
	s.log.Info("generated jwt secret", "path", s.path)
	return secret, nil
}

// SetJWTSecret replaces the signing secret.
func (s *Store) SetJWTSecret(ctx context.Context, secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("jwt secret cannot be empty")
	}
	return s.update(func(cfg *domain.Config) error {
		cfg.JWT.Secret = secret
		return nil
	})
}

// JWTExpiryHours returns the configured token lifetime in hours.
func (s *Store) JWTExpiryHours(ctx context.Context) (int, error) {
	cfg, err := s.Load(ctx)
	if err != nil {
		return 0, err
	}
	return cfg.JWT.ExpiryHours, nil
}

// SetJWTExpiryHours updates the configured token lifetime.
func (s *Store) SetJWTExpiryHours(_ context.Context, hours int) error {
	if hours <= 0 {
		return errors.New("expiry hours must be > 0")
	}
	return s.update(func(cfg *domain.Config) error {
		cfg.JWT.ExpiryHours = hours
		return nil
	})
}

// PutUser stores cred. Without replace an existing user yields
// [domain.ErrUserExists].
func (s *Store) PutUser(_ context.Context, cred domain.Credential, replace bool) error {
	if strings.TrimSpace(cred.Username) == "" {
		return errors.New("username is required")
	}
	return s.update(func(cfg *domain.Config) error {
		if _, ok := cfg.Users[cred.Username]; ok && !replace {
			return domain.ErrUserExists
		}
		cfg.Users[cred.Username] = cred
		return nil
	})
}

// DeleteUser removes username or reports [domain.ErrUserNotFound].
func (s *Store) DeleteUser(_ context.Context, username string) error {
	return s.update(func(cfg *domain.Config) error {
		if _, ok := cfg.Users[username]; !ok {
			return domain.ErrUserNotFound
		}
		delete(cfg.Users, username)
		return nil
	})
}

// PutRoute creates or replaces a proxy route.
func (s *Store) PutRoute(_ context.Context, route domain.ProxyRoute) error {
	if strings.TrimSpace(route.Name) == "" {
		return errors.New("route name is required")
	}
	return s.update(func(cfg *domain.Config) error {
		cfg.Proxies[route.Name] = route.Clone()
		return nil
	})
}

// DeleteRoute removes a proxy route or reports [domain.ErrRouteNotFound].
func (s *Store) DeleteRoute(_ context.Context, name string) error {
	return s.update(func(cfg *domain.Config) error {
		if _, ok := cfg.Proxies[name]; !ok {
			return domain.ErrRouteNotFound
		}
		delete(cfg.Proxies, name)
		return nil
	})
}

func (s *Store) update(fn func(cfg *domain.Config) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.read()
	if err != nil {
		return err
	}
	if err := fn(&cfg); err != nil {
		return err
	}
	return s.write(cfg)
}

func (s *Store) read() (domain.Config, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return domain.NewConfig(), nil
	}
	if err != nil {
		return domain.Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := decodeConfig(s.codec, data)
	if err != nil {
		return domain.Config{}, fmt.Errorf("parse config %s: %w", s.path, err)
	}
	return cfg, nil
}

func (s *Store) write(cfg domain.Config) error {
	data, err := encodeConfig(s.codec, cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("replace config: %w", err)
	}
	s.invalidate()
	return nil
}

// rememberAt caches cfg unless the file changed since gen was observed.
func (s *Store) rememberAt(cfg domain.Config, gen uint64) {
	if s.watcher == nil {
		return
	}
	c := cfg.Clone()
	s.cacheMu.Lock()
	if s.cacheGen == gen {
		s.cached = &c
	}
	s.cacheMu.Unlock()
}

func (s *Store) invalidate() {
	s.cacheMu.Lock()
	s.cached = nil
	s.cacheGen++
	s.cacheMu.Unlock()
}
