package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/thub/thub/internal/config"
	"github.com/thub/thub/internal/domain"
)

// headerFlags collects repeated -H 'Name: value' flags.
type headerFlags map[string]string

func (h headerFlags) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func (h headerFlags) Set(raw string) error {
	name, value, ok := strings.Cut(raw, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" || strings.ContainsAny(name, " \t") {
		return fmt.Errorf("header %q must look like 'Name: value'", raw)
	}
	h[name] = strings.TrimSpace(value)
	return nil
}

func runProxyAdmin(ctx context.Context, args []string, std streams) int {
	if len(args) == 0 {
		fmtErrln(std.err, "usage: thub proxy <add|rm|list> [flags]")
		return 2
	}
	switch args[0] {
	case "add":
		return runProxyAdd(ctx, args[1:], std)
	case "rm", "remove":
		return runProxyRemove(ctx, args[1:], std)
	case "list", "ls":
		return runProxyList(ctx, args[1:], std)
	default:
		fmtErrln(std.err, "unknown proxy command:", args[0])
		return 2
	}
}

func runProxyAdd(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("proxy-add", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	headers := headerFlags{}
	fs.Var(headers, "H", "Header injected into every forwarded request, as 'Name: value' (repeatable)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fmtErrln(std.err, "proxy add error: expected <name> <base_url>")
		return 2
	}
	name := strings.TrimSpace(fs.Arg(0))
	baseURL, err := normalizeBaseURL(fs.Arg(1))
	if err != nil || name == "" {
		if err == nil {
			err = errors.New("name must not be empty")
		}
		fmtErrln(std.err, "proxy add error:", err)
		return 2
	}

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	route := domain.ProxyRoute{Name: name, BaseURL: baseURL, Headers: map[string]string(headers)}
	if err := st.PutRoute(ctx, route); err != nil {
		fmtErrln(std.err, "proxy add error:", err)
		return 1
	}
	_, _ = fmt.Fprintf(std.out, "saved route: %s -> %s\n", name, baseURL)
	return 0
}

func runProxyRemove(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("proxy-rm", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmtErrln(std.err, "proxy rm error: expected <name>")
		return 2
	}
	name := strings.TrimSpace(fs.Arg(0))

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	if err := st.DeleteRoute(ctx, name); err != nil {
		fmtErrln(std.err, "proxy rm error:", err)
		return 1
	}
	_, _ = fmt.Fprintln(std.out, "removed route:", name)
	return 0
}

func runProxyList(ctx context.Context, args []string, std streams) int {
	fs := flag.NewFlagSet("proxy-list", flag.ContinueOnError)
	fs.SetOutput(std.err)
	sc := config.BindStoreFlags(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	st, err := openAdminStore(sc)
	if err != nil {
		fmtErrln(std.err, "store error:", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	cfg, err := st.Load(ctx)
	if err != nil {
		fmtErrln(std.err, "proxy list error:", err)
		return 1
	}
	names := make([]string, 0, len(cfg.Proxies))
	for name := range cfg.Proxies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		route := cfg.Proxies[name]
		headerNames := make([]string, 0, len(route.Headers))
		for k := range route.Headers {
			headerNames = append(headerNames, k)
		}
		sort.Strings(headerNames)
		// Header values usually carry credentials; only names are printed.
		_, _ = fmt.Fprintf(std.out, "%s\t%s\theaders=%s\n", name, route.BaseURL, strings.Join(headerNames, ","))
	}
	return 0
}

func normalizeBaseURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("missing base URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errors.New("base URL must use http or https")
	}
	if u.Host == "" {
		return "", errors.New("base URL must include a host")
	}
	return raw, nil
}
