package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/quic-go/quic-go/http3"
)

// Run listens on the configured address and serves until ctx is cancelled
// or a listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener. It takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	setup, err := s.resolveTLS()
	if err != nil {
		_ = ln.Close()
		return err
	}

	handler := s.Handler()
	var h3 *http3.Server
	if s.cfg.HTTP3 {
		if setup.config == nil {
			s.log.Warn("http3 requested without tls; skipping")
		} else {
			h3 = &http3.Server{
				Addr:      ln.Addr().String(),
				Handler:   handler,
				TLSConfig: http3.ConfigureTLSConfig(setup.config.Clone()),
			}
			handler = advertiseHTTP3(h3, handler)
		}
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		TLSConfig:         setup.config,
		ErrorLog:          log.New(serverErrorLogWriter{log: s.log}, "", 0),
	}

	errCh := make(chan error, 3)

	var challengeServer *http.Server
	if setup.manager != nil {
		challengeServer = &http.Server{
			Addr: s.cfg.ACMEHTTPListen,
			// A nil fallback redirects plain HTTP to HTTPS.
			Handler:           setup.manager.HTTPHandler(nil),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
		}
		go func() {
			s.log.Info("starting ACME challenge server", "addr", s.cfg.ACMEHTTPListen)
			if err := challengeServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("challenge server: %w", err)
			}
		}()
	}

	go func() {
		if setup.config != nil {
			s.log.Info("starting HTTPS server", "addr", ln.Addr().String(), "tls", setup.source)
			if err := srv.ServeTLS(ln, "", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("https server: %w", err)
			}
			return
		}
		s.log.Info("starting HTTP server", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if h3 != nil {
		go func() {
			s.log.Info("starting HTTP/3 server", "addr", h3.Addr)
			if err := h3.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	s.sessions.closeAll()
	timeout := s.cfg.ShutdownTimeout
	if err := shutdownServer(srv, timeout); err != nil && runErr == nil {
		runErr = err
	}
	if challengeServer != nil {
		if err := shutdownServer(challengeServer, timeout); err != nil && runErr == nil {
			runErr = err
		}
	}
	if h3 != nil {
		_ = h3.Close()
	}
	if !waitGroupWait(&s.sessions.wg, timeout) {
		s.log.Warn("websocket handlers still running after shutdown timeout")
	}
	return runErr
}

// advertiseHTTP3 adds the Alt-Svc header to TCP responses so clients can
// upgrade to QUIC.
func advertiseHTTP3(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			_ = h3.SetQUICHeaders(w.Header())
		}
		next.ServeHTTP(w, r)
	})
}
