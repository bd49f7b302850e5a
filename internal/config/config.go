package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// TLS modes accepted by --tls-mode.
const (
	TLSModeOff     = "off"
	TLSModeFiles   = "files"
	TLSModeAutoPEM = "auto-pem"
	TLSModeACME    = "acme"
)

type ServerConfig struct {
	Listen          string
	ConfigPath      string
	StoreBackend    string
	DBPath          string
	StaticRoot      string
	LogLevel        string
	LogFormat       string
	ProxyTimeout    time.Duration
	MaxBodyBytes    int64
	WSReadLimit     int64
	ShutdownTimeout time.Duration
	TLSMode         string
	TLSCertFile     string
	TLSKeyFile      string
	PEMDir          string
	ACMEDomains     []string
	CertCacheDir    string
	ACMEHTTPListen  string
	HTTP3           bool
	DebugListen     string
	WatchConfig     bool
	SecureCookie    bool
}

const defaultServerListen = ":8000"
const defaultServerConfigPath = "./config.json"
const defaultServerDBPath = "./thub.db"
const defaultServerStaticRoot = "./static"
const defaultServerCertCacheDir = "./cert"
const defaultServerACMEHTTPListen = ":80"
const defaultServerProxyTimeout = 30 * time.Second
const defaultServerMaxBodyBytes = 10 * 1024 * 1024
const defaultServerWSReadLimit = 1 << 20
const defaultServerShutdownTimeout = 10 * time.Second

func ParseServerFlags(args []string) (ServerConfig, error) {
	cfg := ServerConfig{
		Listen:          envOrDefault("THUB_LISTEN", defaultServerListen),
		ConfigPath:      envOrDefault("THUB_CONFIG", defaultServerConfigPath),
		StoreBackend:    envOrDefault("THUB_STORE", StoreBackendFile),
		DBPath:          envOrDefault("THUB_DB_PATH", defaultServerDBPath),
		StaticRoot:      envOrDefault("THUB_STATIC_ROOT", defaultServerStaticRoot),
		LogLevel:        envOrDefault("THUB_LOG_LEVEL", "info"),
		LogFormat:       envOrDefault("THUB_LOG_FORMAT", "text"),
		ProxyTimeout:    envDurationOrDefault("THUB_PROXY_TIMEOUT", defaultServerProxyTimeout),
		MaxBodyBytes:    int64(envIntOrDefault("THUB_MAX_BODY_BYTES", defaultServerMaxBodyBytes)),
		WSReadLimit:     int64(envIntOrDefault("THUB_WS_READ_LIMIT", defaultServerWSReadLimit)),
		ShutdownTimeout: defaultServerShutdownTimeout,
		TLSMode:         envOrDefault("THUB_TLS_MODE", TLSModeOff),
		TLSCertFile:     envOrDefault("THUB_TLS_CERT_FILE", ""),
		TLSKeyFile:      envOrDefault("THUB_TLS_KEY_FILE", ""),
		PEMDir:          envOrDefault("THUB_PEM_DIR", "."),
		CertCacheDir:    envOrDefault("THUB_CERT_CACHE_DIR", defaultServerCertCacheDir),
		ACMEHTTPListen:  envOrDefault("THUB_ACME_HTTP_LISTEN", defaultServerACMEHTTPListen),
		HTTP3:           envBoolOrDefault("THUB_HTTP3", false),
		DebugListen:     envOrDefault("THUB_DEBUG_LISTEN", ""),
		WatchConfig:     envBoolOrDefault("THUB_WATCH_CONFIG", true),
		SecureCookie:    envBoolOrDefault("THUB_SECURE_COOKIE", false),
	}
	domains := envOrDefault("THUB_ACME_DOMAIN", "")

	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.StringVar(&cfg.Listen, "listen", cfg.Listen, "HTTP(S) listen address")
	fs.StringVar(&cfg.ConfigPath, "config", cfg.ConfigPath, "JSON/YAML config file (file store)")
	fs.StringVar(&cfg.StoreBackend, "store", cfg.StoreBackend, "Config store backend: file|sqlite")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path (sqlite store)")
	fs.StringVar(&cfg.StaticRoot, "static-root", cfg.StaticRoot, "Directory served to authenticated users")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text|json")
	fs.DurationVar(&cfg.ProxyTimeout, "proxy-timeout", cfg.ProxyTimeout, "Upstream API request timeout")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", cfg.MaxBodyBytes, "Largest accepted proxy request body")
	fs.Int64Var(&cfg.WSReadLimit, "ws-read-limit", cfg.WSReadLimit, "Largest accepted WebSocket message")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "Graceful shutdown budget")
	fs.StringVar(&cfg.TLSMode, "tls-mode", cfg.TLSMode, "TLS mode: off|files|auto-pem|acme")
	fs.StringVar(&cfg.TLSCertFile, "tls-cert-file", cfg.TLSCertFile, "TLS certificate PEM file (files mode)")
	fs.StringVar(&cfg.TLSKeyFile, "tls-key-file", cfg.TLSKeyFile, "TLS private key PEM file (files mode)")
	fs.StringVar(&cfg.PEMDir, "pem-dir", cfg.PEMDir, "Directory searched for *.pem files (auto-pem mode)")
	fs.StringVar(&domains, "acme-domain", domains, "Comma-separated host names for ACME certificates")
	fs.StringVar(&cfg.CertCacheDir, "cert-cache-dir", cfg.CertCacheDir, "ACME certificate cache dir")
	fs.StringVar(&cfg.ACMEHTTPListen, "acme-http-listen", cfg.ACMEHTTPListen, "HTTP-01 challenge listen address")
	fs.BoolVar(&cfg.HTTP3, "http3", cfg.HTTP3, "Also serve HTTP/3 over QUIC when TLS is on")
	fs.StringVar(&cfg.DebugListen, "debug-listen", cfg.DebugListen, "pprof and /metrics listen address (empty disables)")
	fs.BoolVar(&cfg.WatchConfig, "watch-config", cfg.WatchConfig, "Reload the config file on external edits")
	fs.BoolVar(&cfg.SecureCookie, "secure-cookie", cfg.SecureCookie, "Mark the session cookie Secure even without TLS")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if fs.NArg() > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}

	sc := cfg.store()
	if err := sc.Validate(); err != nil {
		return cfg, err
	}
	cfg.StoreBackend = sc.Backend

	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	switch cfg.LogFormat {
	case "", "text":
		cfg.LogFormat = "text"
	case "json":
	default:
		return cfg, errors.New("log format must be one of: text, json")
	}

	cfg.TLSMode = strings.ToLower(strings.TrimSpace(cfg.TLSMode))
	switch cfg.TLSMode {
	case "":
		cfg.TLSMode = TLSModeOff
	case TLSModeOff, TLSModeAutoPEM:
	case TLSModeFiles:
		if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
			return cfg, errors.New("tls mode files requires --tls-cert-file and --tls-key-file")
		}
	case TLSModeACME:
		cfg.ACMEDomains = splitHosts(domains)
		if len(cfg.ACMEDomains) == 0 {
			return cfg, errors.New("tls mode acme requires --acme-domain or THUB_ACME_DOMAIN")
		}
	default:
		return cfg, errors.New("tls mode must be one of: off, files, auto-pem, acme")
	}
	if cfg.HTTP3 && cfg.TLSMode == TLSModeOff {
		return cfg, errors.New("http3 requires a tls mode other than off")
	}

	if cfg.ProxyTimeout <= 0 {
		return cfg, errors.New("proxy timeout must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("max body bytes must be > 0")
	}
	if cfg.WSReadLimit <= 0 {
		return cfg, errors.New("ws read limit must be > 0")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("shutdown timeout must be > 0")
	}

	return cfg, nil
}

// StorePath is the path the selected backend opens.
func (c ServerConfig) StorePath() string {
	return c.store().Path()
}

func (c ServerConfig) store() StoreConfig {
	return StoreConfig{Backend: c.StoreBackend, ConfigPath: c.ConfigPath, DBPath: c.DBPath}
}

// TLSEnabled reports whether the server terminates TLS itself.
func (c ServerConfig) TLSEnabled() bool {
	return c.TLSMode != "" && c.TLSMode != TLSModeOff
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitHosts(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if h := normalizeDomainHost(part); h != "" {
			out = append(out, h)
		}
	}
	return out
}

func normalizeDomainHost(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	if idx := strings.Index(v, "/"); idx >= 0 {
		v = v[:idx]
	}
	if strings.Contains(v, ":") {
		parts := strings.Split(v, ":")
		v = parts[0]
	}
	return strings.TrimSuffix(v, ".")
}
