package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/thub/thub/internal/audit"
	"github.com/thub/thub/internal/auth"
	"github.com/thub/thub/internal/channel"
	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/debughttp"
	ilog "github.com/thub/thub/internal/log"
	"github.com/thub/thub/internal/metrics"
	"github.com/thub/thub/internal/proxy"
	"github.com/thub/thub/internal/server"
	"github.com/thub/thub/internal/store"
)

func runServe(ctx context.Context, args []string, std streams) int {
	loadEnvFromDotEnv(".env")
	cfg, err := config.ParseServerFlags(args)
	if err != nil {
		fmtErrln(std.err, "server config error:", err)
		return 2
	}
	logger := ilog.NewWithOptions(ilog.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: std.out})
	logger.Info("application_startup", "version", Version, "listen", cfg.Listen, "store", cfg.StoreBackend)

	if cfg.StoreBackend == config.StoreBackendFile {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				err = fmt.Errorf("config file %s not found; run `thub adduser` or `thub import` first", cfg.ConfigPath)
			}
			fmtErrln(std.err, "server config error:", err)
			return 1
		}
	}

	st, err := store.Open(cfg.StoreBackend, cfg.StorePath(), store.Options{Log: logger, Watch: cfg.WatchConfig})
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	snapshot, err := st.Load(ctx)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	logger.Info("configuration_loaded", "user_count", len(snapshot.Users), "proxy_count", len(snapshot.Proxies))

	tokens, err := auth.NewTokenService(ctx, st, auth.TokenOptions{})
	if err != nil {
		fmtErrln(std.err, "token error:", err)
		return 1
	}

	var registry *channel.Registry
	collector := metrics.NewCollector(metrics.StatsFunc(func() channel.Stats { return registry.Stats() }))
	hooks := audit.NewMulti(audit.NewLogger(logger), collector)
	registry = channel.NewRegistry(channel.Options{Log: logger, Hooks: hooks})

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collector,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if _, err := debughttp.Start(ctx, cfg.DebugListen, promRegistry, logger); err != nil {
		fmtErrln(std.err, "debug listener error:", err)
		return 1
	}

	forwarder := proxy.New(st, proxy.Options{Timeout: cfg.ProxyTimeout, Hooks: hooks, Log: logger})
	s := server.New(cfg, server.Deps{
		Store:     st,
		Tokens:    tokens,
		Registry:  registry,
		Forwarder: forwarder,
		Hooks:     hooks,
		Timer:     collector,
		Log:       logger,
	})
	runErr := s.Run(ctx)
	logger.Info("application_shutdown")
	if runErr != nil {
		fmtErrln(std.err, "server error:", runErr)
		return 1
	}
	return 0
}
