package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/thub/thub/internal/domain"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nested", "thub.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestUserLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	cred := domain.Credential{Username: "alice", PasswordHash: "aa", Salt: "bb"}
	if err := store.PutUser(ctx, cred, false); err != nil {
		t.Fatal(err)
	}
	if err := store.PutUser(ctx, cred, false); !errors.Is(err, domain.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	cred.PasswordHash = "cc"
	if err := store.PutUser(ctx, cred, true); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.LookupCredential(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("expected alice, ok=%v err=%v", ok, err)
	}
	if got.PasswordHash != "cc" || got.Salt != "bb" || got.Username != "alice" {
		t.Fatalf("unexpected credential: %+v", got)
	}

	if err := store.DeleteUser(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteUser(ctx, "alice"); !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, ok, err := store.LookupCredential(ctx, "alice"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
}

func TestRouteLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	route := domain.ProxyRoute{
		Name:    "weather",
		BaseURL: "https://api.example.com/v1",
		Headers: map[string]string{"Authorization": "Bearer X"},
	}
	if err := store.PutRoute(ctx, route); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.LookupRoute(ctx, "weather")
	if err != nil || !ok {
		t.Fatalf("expected weather route, ok=%v err=%v", ok, err)
	}
	if got.BaseURL != route.BaseURL || got.Headers["Authorization"] != "Bearer X" {
		t.Fatalf("unexpected route: %+v", got)
	}

	route.BaseURL = "https://api.example.com/v2"
	route.Headers = nil
	if err := store.PutRoute(ctx, route); err != nil {
		t.Fatal(err)
	}
	got, _, err = store.LookupRoute(ctx, "weather")
	if err != nil {
		t.Fatal(err)
	}
	if got.BaseURL != "https://api.example.com/v2" || len(got.Headers) != 0 {
		t.Fatalf("expected replaced route, got %+v", got)
	}

	if err := store.DeleteRoute(ctx, "missing"); !errors.Is(err, domain.ErrRouteNotFound) {
		t.Fatalf("expected ErrRouteNotFound, got %v", err)
	}
}

func TestEnsureJWTSecretConcurrentSingleValue(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := map[string]struct{}{}
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			secret, err := store.EnsureJWTSecret(ctx, func() (string, error) {
				return "candidate-" + string(rune('a'+i)), nil
			})
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			seen[secret] = struct{}{}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if len(seen) != 1 {
		t.Fatalf("expected all callers to observe one secret, got %v", seen)
	}
}

func TestEnsureJWTSecretSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thub.db")
	ctx := context.Background()

	first, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	secret, err := first.EnsureJWTSecret(ctx, func() (string, error) { return "persisted", nil })
	if err != nil {
		t.Fatal(err)
	}
	_ = first.Close()

	second, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer second.Close()
	got, err := second.EnsureJWTSecret(ctx, func() (string, error) {
		return "", errors.New("must not regenerate")
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != secret {
		t.Fatalf("expected %q, got %q", secret, got)
	}
}

func TestEnsureJWTSecretReplacesEmptyRow(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	if err := store.putSetting(ctx, settingJWTSecret, ""); err != nil {
		t.Fatal(err)
	}

	secret, err := store.EnsureJWTSecret(ctx, func() (string, error) { return "fresh", nil })
	if err != nil {
		t.Fatal(err)
	}
	if secret != "fresh" {
		t.Fatalf("expected generated secret, got %q", secret)
	}
	again, err := store.EnsureJWTSecret(ctx, func() (string, error) { return "other", nil })
	if err != nil {
		t.Fatal(err)
	}
	if again != "fresh" {
		t.Fatalf("expected stored secret to stick, got %q", again)
	}
	if err := store.SetJWTSecret(ctx, " "); err == nil {
		t.Fatal("expected error for blank secret")
	}
}

func TestJWTExpirySetting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	hours, err := store.JWTExpiryHours(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if hours != domain.DefaultJWTExpiryHours {
		t.Fatalf("expected default expiry, got %d", hours)
	}
	if err := store.SetJWTExpiryHours(ctx, 0); err == nil {
		t.Fatal("expected error for non-positive expiry")
	}
	if err := store.SetJWTExpiryHours(ctx, 8); err != nil {
		t.Fatal(err)
	}
	if err := store.SetJWTSecret(ctx, "rotated"); err != nil {
		t.Fatal(err)
	}

	cfg, err := store.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.JWT.ExpiryHours != 8 || cfg.JWT.Secret != "rotated" {
		t.Fatalf("unexpected jwt settings: %+v", cfg.JWT)
	}
}
