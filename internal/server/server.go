// Package server exposes the hub over HTTP: the login flow, channel
// WebSockets, the API proxy, and the authenticated static site.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/thub/thub/internal/audit"
	"github.com/thub/thub/internal/auth"
	"github.com/thub/thub/internal/channel"
	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/proxy"
)

// Store is the config-store surface the HTTP layer reads on each request.
type Store interface {
	auth.CredentialLookup
	proxy.RouteLookup
}

// ProxyTimer records upstream latency. It is satisfied by the metrics
// collector.
type ProxyTimer interface {
	ObserveProxyDuration(api string, d time.Duration)
}

// Deps are the collaborators a Server is built from. Registry and
// Forwarder are created from the config when nil.
type Deps struct {
	Store     Store
	Tokens    *auth.TokenService
	Registry  *channel.Registry
	Forwarder *proxy.Forwarder
	Hooks     audit.Hooks
	Timer     ProxyTimer
	Log       *slog.Logger
}

type Server struct {
	cfg       config.ServerConfig
	log       *slog.Logger
	tokens    *auth.TokenService
	verifier  *auth.Verifier
	gate      *auth.Gate
	registry  *channel.Registry
	forwarder *proxy.Forwarder
	hooks     audit.Hooks
	timer     ProxyTimer
	static    http.Handler
	sessions  *sessionSet
}

// sessionSet tracks live WebSocket connections so shutdown can close them
// and wait for their handlers. Once closed it admits no new sessions.
type sessionSet struct {
	mu     sync.Mutex
	conns  map[*wsConn]struct{}
	closed bool
	wg     sync.WaitGroup
}

const (
	defaultMaxBodyBytes    = 10 * 1024 * 1024
	defaultWSReadLimit     = 1 << 20
	defaultShutdownTimeout = 10 * time.Second
)

func New(cfg config.ServerConfig, deps Deps) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.WSReadLimit <= 0 {
		cfg.WSReadLimit = defaultWSReadLimit
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	logger := deps.Log
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	hooks := deps.Hooks
	if hooks == nil {
		hooks = audit.Nop{}
	}
	registry := deps.Registry
	if registry == nil {
		registry = channel.NewRegistry(channel.Options{Log: logger, Hooks: hooks})
	}
	forwarder := deps.Forwarder
	if forwarder == nil {
		forwarder = proxy.New(deps.Store, proxy.Options{Timeout: cfg.ProxyTimeout, Hooks: hooks, Log: logger})
	}

	s := &Server{
		cfg:       cfg,
		log:       logger,
		tokens:    deps.Tokens,
		verifier:  auth.NewVerifier(deps.Store),
		gate:      auth.NewGate(deps.Tokens, logger),
		registry:  registry,
		forwarder: forwarder,
		hooks:     hooks,
		timer:     deps.Timer,
		sessions:  &sessionSet{conns: map[*wsConn]struct{}{}},
	}
	s.static = newStaticHandler(cfg.StaticRoot, newStaticAccessPolicy(hiddenStoreFiles(cfg)...))
	return s
}

// Registry returns the channel registry the server routes into.
func (s *Server) Registry() *channel.Registry { return s.registry }

// Handler returns the full routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	// Proxy paths are forwarded as given; static lookups clean their own paths.
	r := mux.NewRouter().SkipClean(true)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.HandleFunc("/login", s.handleLoginForm).Methods(http.MethodGet, http.MethodHead)
	r.HandleFunc("/login", s.handleLoginSubmit).Methods(http.MethodPost)
	r.HandleFunc("/auth/token", s.handleTokenLogin).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodGet, http.MethodPost)
	r.HandleFunc("/channel/{name}", s.handleChannel).Methods(http.MethodGet)
	r.HandleFunc("/proxy/{api}/{path:.*}", s.handleProxy)
	r.HandleFunc("/proxy/{api}", s.handleProxy)
	r.PathPrefix("/").Handler(s.authenticatedStatic())

	// Wrapped outside the router so preflights and 405s get headers too.
	return s.requestLogging(corsHeaders(isolationHeaders(r)))
}

// hiddenStoreFiles lists store files that must never be served even if
// they sit inside the static root.
func hiddenStoreFiles(cfg config.ServerConfig) []string {
	var names []string
	for _, p := range []string{cfg.ConfigPath, cfg.DBPath} {
		if p == "" {
			continue
		}
		names = append(names, filepath.Base(p))
	}
	return names
}

// add registers c and reports false once shutdown has begun. Each
// successful add must be paired with remove.
func (s *sessionSet) add(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	s.conns[c] = struct{}{}
	return true
}

func (s *sessionSet) remove(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *sessionSet) closeAll() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeGoingAway()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n"))
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitGroupWait blocks until wg reaches zero or timeout elapses.
// Returns false if the timeout fired before all goroutines finished.
func waitGroupWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
