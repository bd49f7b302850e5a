package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/crypto/acme/autocert"

	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/netutil"
)

// tlsSetup is the resolved TLS state for one Run.
type tlsSetup struct {
	config  *tls.Config
	manager *autocert.Manager
	source  string
}

// resolveTLS builds the listener TLS config for the configured mode. A nil
// config means plain HTTP.
func (s *Server) resolveTLS() (tlsSetup, error) {
	switch s.cfg.TLSMode {
	case "", config.TLSModeOff:
		return tlsSetup{}, nil
	case config.TLSModeFiles:
		return loadCertificatePair(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
	case config.TLSModeAutoPEM:
		dir := s.cfg.PEMDir
		if dir == "" {
			dir = "."
		}
		keyFile, certFile, ok := findPEMPair(dir)
		if !ok {
			s.log.Warn("no certificate and key .pem pair found; serving plain HTTP", "dir", dir)
			return tlsSetup{}, nil
		}
		return loadCertificatePair(certFile, keyFile)
	case config.TLSModeACME:
		allowed := make(map[string]struct{}, len(s.cfg.ACMEDomains))
		for _, d := range s.cfg.ACMEDomains {
			allowed[netutil.NormalizeHost(d)] = struct{}{}
		}
		manager := &autocert.Manager{
			Cache:  autocert.DirCache(s.cfg.CertCacheDir),
			Prompt: autocert.AcceptTOS,
			HostPolicy: func(_ context.Context, host string) error {
				if _, ok := allowed[netutil.NormalizeHost(host)]; ok {
					return nil
				}
				return errors.New("host not allowed")
			},
		}
		cfg := manager.TLSConfig()
		cfg.MinVersion = tls.VersionTLS12
		return tlsSetup{config: cfg, manager: manager, source: "acme"}, nil
	default:
		return tlsSetup{}, fmt.Errorf("unknown tls mode %q", s.cfg.TLSMode)
	}
}

func loadCertificatePair(certFile, keyFile string) (tlsSetup, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tlsSetup{}, fmt.Errorf("load tls certificate: %w", err)
	}
	return tlsSetup{
		config: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"h2", "http/1.1"},
		},
		source: certFile,
	}, nil
}

// findPEMPair looks for a key and a certificate among the *.pem
// files in dir. A file whose name contains "key" is the key; any other .pem
// is the certificate. Both must be present.
func findPEMPair(dir string) (keyFile, certFile string, ok bool) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.pem"))
	if err != nil || len(matches) == 0 {
		return "", "", false
	}
	sort.Strings(matches)
	for _, m := range matches {
		if info, err := os.Stat(m); err != nil || info.IsDir() {
			continue
		}
		if strings.Contains(strings.ToLower(filepath.Base(m)), "key") {
			keyFile = m
		} else {
			certFile = m
		}
	}
	if keyFile == "" || certFile == "" {
		return "", "", false
	}
	return keyFile, certFile, true
}

// serverErrorLogWriter routes net/http's internal error log into slog and
// demotes handshake noise from scanners to debug.
type serverErrorLogWriter struct {
	log *slog.Logger
}

func (w serverErrorLogWriter) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	const marker = "TLS handshake error from "
	if idx := strings.Index(line, marker); idx >= 0 {
		addr, reason, _ := strings.Cut(line[idx+len(marker):], ": ")
		if isLikelyScannerTLSReason(reason) {
			w.log.Debug("tls handshake rejected", "remote_addr", strings.TrimSpace(addr), "reason", reason)
		} else {
			w.log.Warn("tls handshake failed", "remote_addr", strings.TrimSpace(addr), "reason", reason)
		}
		return len(p), nil
	}
	w.log.Warn("http server error", "err", line)
	return len(p), nil
}

func isLikelyScannerTLSReason(reason string) bool {
	reason = strings.ToLower(strings.TrimSpace(reason))
	if reason == "" {
		return false
	}
	return reason == "eof" ||
		strings.Contains(reason, "missing server name") ||
		strings.Contains(reason, "unsupported application protocols") ||
		strings.Contains(reason, "offered only unsupported versions") ||
		strings.Contains(reason, "no cipher suite supported by both client and server") ||
		strings.Contains(reason, "host not allowed") ||
		strings.Contains(reason, "connection reset by peer") ||
		strings.Contains(reason, "i/o timeout") ||
		strings.Contains(reason, "first record does not look like a tls handshake") ||
		strings.Contains(reason, "http request to an https server")
}
