package domain

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestErrorResponseOmitsEmptyDetail(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(ErrorResponse{Error: "unauthorized"})
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "detail") {
		t.Fatalf("expected detail to be omitted, got %s", data)
	}
}

func TestTokenRequestDecode(t *testing.T) {
	t.Parallel()

	var req TokenRequest
	if err := json.Unmarshal([]byte(`{"username":"alice","password":"pw"}`), &req); err != nil {
		t.Fatal(err)
	}
	if req.Username != "alice" || req.Password != "pw" {
		t.Fatalf("unexpected decode: %+v", req)
	}
}

func TestConfigNormalize(t *testing.T) {
	t.Parallel()

	cfg := Config{
		Users:   map[string]Credential{"bob": {PasswordHash: "h", Salt: "s"}},
		Proxies: map[string]ProxyRoute{"api": {BaseURL: "https://example.com"}},
	}
	cfg.Normalize()
	if cfg.JWT.ExpiryHours != DefaultJWTExpiryHours {
		t.Fatalf("expected default expiry, got %d", cfg.JWT.ExpiryHours)
	}
	if cfg.Users["bob"].Username != "bob" {
		t.Fatalf("expected username to be filled from key, got %q", cfg.Users["bob"].Username)
	}
	if cfg.Proxies["api"].Name != "api" {
		t.Fatalf("expected route name to be filled from key, got %q", cfg.Proxies["api"].Name)
	}

	var empty Config
	empty.Normalize()
	if empty.Users == nil || empty.Proxies == nil {
		t.Fatal("expected maps to be initialized")
	}
}
