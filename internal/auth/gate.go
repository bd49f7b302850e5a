package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/thub/thub/internal/domain"
)

// TokenVerifier resolves a token to its username.
type TokenVerifier interface {
	Verify(token string) (string, bool)
}

// Gate resolves the caller identity of an inbound request.
type Gate struct {
	tokens TokenVerifier
	log    *slog.Logger
}

// NewGate returns a Gate that verifies tokens with tokens.
func NewGate(tokens TokenVerifier, log *slog.Logger) *Gate {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Gate{tokens: tokens, log: log}
}

// Authenticate reads the session cookie, falling back to an
// Authorization bearer header only when no cookie is present. It returns
// [domain.ErrUnauthorized] when no valid token is found.
func (g *Gate) Authenticate(r *http.Request) (string, error) {
	token := sessionCookie(r)
	if token == "" {
		token = bearerToken(r.Header.Get("Authorization"))
	}
	return g.verify(r, token)
}

// AuthenticateWebSocket is the upgrade-path variant: the session cookie wins
// over a "token" query parameter.
func (g *Gate) AuthenticateWebSocket(r *http.Request) (string, error) {
	token := sessionCookie(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	return g.verify(r, token)
}

func (g *Gate) verify(r *http.Request, token string) (string, error) {
	if token == "" {
		return "", domain.ErrUnauthorized
	}
	username, ok := g.tokens.Verify(token)
	if !ok {
		g.log.Debug("token rejected", "path", r.URL.Path)
		return "", domain.ErrUnauthorized
	}
	return username, nil
}

func sessionCookie(r *http.Request) string {
	c, err := r.Cookie(domain.SessionCookieName)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(c.Value)
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
