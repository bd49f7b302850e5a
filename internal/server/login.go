package server

import (
	"encoding/json"
	"html/template"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thub/thub/internal/domain"
	"github.com/thub/thub/internal/netutil"
)

const (
	loginFormUserField     = "username"
	loginFormPasswordField = "password"
	loginFormNextField     = "next"
	maxLoginFormBytes      = 8 * 1024
)

type loginFormState struct {
	User      string
	Next      string
	ErrorText string
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	next := netutil.SafeRedirectPath(r.URL.Query().Get(loginFormNextField), "/")
	writeLoginForm(w, r, loginFormState{Next: next}, http.StatusOK)
}

func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginFormBytes)
	if !isFormSubmission(r) {
		http.Error(w, "expected a form submission", http.StatusUnsupportedMediaType)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid login form submission", http.StatusBadRequest)
		return
	}

	state := loginFormState{
		User: strings.TrimSpace(r.PostForm.Get(loginFormUserField)),
		Next: netutil.SafeRedirectPath(r.PostForm.Get(loginFormNextField), "/"),
	}
	password := r.PostForm.Get(loginFormPasswordField)

	ok, err := s.verifier.Verify(r.Context(), state.User, password)
	if err != nil {
		s.log.Error("credential lookup failed", "username", state.User, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		clearSessionCookie(w, s.secureCookie(r))
		state.ErrorText = "Incorrect username or password."
		writeLoginForm(w, r, state, http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := s.tokens.IssueWithExpiry(state.User)
	if err != nil {
		s.log.Error("token issue failed", "username", state.User, "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	s.hooks.AuthSuccess(state.User)
	setSessionCookie(w, token, expiresAt, s.secureCookie(r))
	http.Redirect(w, r, state.Next, http.StatusSeeOther)
}

func (s *Server) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxLoginFormBytes)
	var req domain.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, domain.ErrorResponse{Error: "invalid_request", Detail: "body must be JSON with username and password"})
		return
	}

	ok, err := s.verifier.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		s.log.Error("credential lookup failed", "username", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusUnauthorized, domain.ErrorResponse{Error: "unauthorized", Detail: "invalid username or password"})
		return
	}

	token, expiresAt, err := s.tokens.IssueWithExpiry(req.Username)
	if err != nil {
		s.log.Error("token issue failed", "username", req.Username, "err", err)
		writeJSON(w, http.StatusInternalServerError, domain.ErrorResponse{Error: "internal"})
		return
	}
	s.hooks.AuthSuccess(req.Username)
	writeJSON(w, http.StatusOK, domain.TokenResponse{Token: token, ExpiresAt: expiresAt.UTC()})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	clearSessionCookie(w, s.secureCookie(r))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

// redirectToLogin sends an unauthenticated browser to the login form; next
// is carried through when non-empty.
func redirectToLogin(w http.ResponseWriter, r *http.Request, next string) {
	target := "/login"
	if next != "" {
		target += "?" + loginFormNextField + "=" + url.QueryEscape(next)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (s *Server) secureCookie(r *http.Request) bool {
	return s.cfg.SecureCookie || r.TLS != nil
}

func setSessionCookie(w http.ResponseWriter, token string, expiresAt time.Time, secure bool) {
	maxAge := int(time.Until(expiresAt) / time.Second)
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     domain.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   maxAge,
		Expires:  expiresAt,
	})
}

func clearSessionCookie(w http.ResponseWriter, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     domain.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
}

func isFormSubmission(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded"
}

func writeLoginForm(w http.ResponseWriter, r *http.Request, state loginFormState, status int) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}
	_ = loginPageTemplate.Execute(w, state)
}

var loginPageTemplate = template.Must(template.New("login").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <title>Sign in</title>
  <style>
    :root {
      color-scheme: light;
      --bg: #f3efe7;
      --panel: rgba(255,255,255,0.92);
      --panel-border: rgba(24, 41, 33, 0.12);
      --text: #17231c;
      --muted: #5e6f64;
      --accent: #1f7a5a;
      --accent-dark: #14523d;
      --danger: #9c2f2f;
      --shadow: 0 24px 60px rgba(23, 35, 28, 0.16);
    }
    * { box-sizing: border-box; }
    body {
      margin: 0;
      min-height: 100vh;
      font-family: "Avenir Next", "Segoe UI", sans-serif;
      color: var(--text);
      background: linear-gradient(145deg, var(--bg), #fbf8f3 55%, #e7efe7);
      display: grid;
      place-items: center;
      padding: 24px;
    }
    .panel {
      width: min(100%, 420px);
      background: var(--panel);
      border: 1px solid var(--panel-border);
      border-radius: 24px;
      box-shadow: var(--shadow);
      padding: 28px;
    }
    h1 { margin: 0 0 8px; font-size: 1.6rem; }
    .panel-copy { margin: 0 0 18px; color: var(--muted); line-height: 1.5; }
    form { display: grid; gap: 14px; }
    label { display: grid; gap: 8px; font-size: 0.92rem; font-weight: 600; }
    input {
      width: 100%;
      border: 1px solid rgba(23, 35, 28, 0.12);
      border-radius: 16px;
      font: inherit;
      padding: 14px 16px;
    }
    button {
      border: 0;
      border-radius: 999px;
      background: linear-gradient(135deg, var(--accent), var(--accent-dark));
      color: #f7fcf9;
      font: inherit;
      font-weight: 700;
      padding: 14px 18px;
      cursor: pointer;
    }
    .error {
      margin: 0 0 2px;
      padding: 12px 14px;
      border-radius: 16px;
      background: rgba(156, 47, 47, 0.08);
      color: var(--danger);
      font-weight: 600;
    }
  </style>
</head>
<body>
  <main class="panel">
    <h1>Sign in to continue</h1>
    <p class="panel-copy">Your session is kept in a cookie for this hub only.</p>
    {{if .ErrorText}}<p class="error" role="alert">{{.ErrorText}}</p>{{end}}
    <form method="post" action="/login" novalidate>
      <input type="hidden" name="next" value="{{.Next}}">
      <label>
        Username
        <input type="text" name="username" value="{{.User}}" autocomplete="username" autocapitalize="none" spellcheck="false" required>
      </label>
      <label>
        Password
        <input type="password" name="password" value="" autocomplete="current-password" required autofocus>
      </label>
      <button type="submit">Sign in</button>
    </form>
  </main>
</body>
</html>`))
