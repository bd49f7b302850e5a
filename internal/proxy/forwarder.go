// Package proxy forwards authenticated requests to configured third-party
// APIs, injecting the route's static headers and sanitizing the response.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/thub/thub/internal/domain"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 32 << 20
)

// RouteLookup resolves an API name to its route. It is consulted on every
// request so configuration changes apply without a restart.
type RouteLookup interface {
	LookupRoute(ctx context.Context, name string) (domain.ProxyRoute, bool, error)
}

// Hooks observes forwarded traffic.
type Hooks interface {
	ProxyRequest(api, path, method, username string)
	ProxyResponse(api string, status int)
}

// Options tunes [New].
type Options struct {
	// Client overrides the HTTP client. Its redirect policy is replaced so
	// upstream redirects are always returned to the caller.
	Client           *http.Client
	Timeout          time.Duration
	MaxResponseBytes int64
	Breaker          BreakerSettings
	Hooks            Hooks
	Log              *slog.Logger
}

// Request is one inbound call to forward. Query is the raw query string and
// is sent verbatim. The caller's own headers are deliberately absent.
type Request struct {
	API      string
	Path     string
	Method   string
	Query    string
	Body     []byte
	Username string
}

// Forwarder relays requests to upstream APIs.
type Forwarder struct {
	routes   RouteLookup
	client   *http.Client
	hooks    Hooks
	log      *slog.Logger
	maxBody  int64
	breakers *breakerSet
}

// New returns a Forwarder resolving routes through routes.
func New(routes RouteLookup, opts Options) *Forwarder {
	log := opts.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	client := &http.Client{}
	if opts.Client != nil {
		c := *opts.Client
		client = &c
	}
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	} else if client.Timeout <= 0 {
		client.Timeout = defaultTimeout
	}
	maxBody := opts.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}
	f := &Forwarder{
		routes:  routes,
		client:  client,
		hooks:   opts.Hooks,
		log:     log,
		maxBody: maxBody,
	}
	if !opts.Breaker.Disabled {
		f.breakers = newBreakerSet(opts.Breaker, log)
	}
	return f
}

// UpstreamURL joins a route base URL and a request path with exactly one
// slash between them.
func UpstreamURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Forward relays req and always returns a writable result; transport
// failures become 502 results rather than errors.
func (f *Forwarder) Forward(ctx context.Context, req Request) Result {
	route, ok, err := f.routes.LookupRoute(ctx, req.API)
	if err != nil {
		f.log.Error("proxy route lookup failed", "api", req.API, "err", err)
		return errorResult(http.StatusInternalServerError, CategoryInternal, "route lookup failed")
	}
	if !ok {
		return notConfigured(req.API)
	}

	if f.hooks != nil {
		f.hooks.ProxyRequest(req.API, req.Path, req.Method, req.Username)
	}
	res := f.forward(ctx, route, req)
	if f.hooks != nil {
		f.hooks.ProxyResponse(req.API, res.Status)
	}
	return res
}

func (f *Forwarder) forward(ctx context.Context, route domain.ProxyRoute, req Request) Result {
	target := UpstreamURL(route.BaseURL, req.Path)
	if req.Query != "" {
		target += "?" + req.Query
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	upReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return badGateway(&domain.ProxyError{API: req.API, Op: "build request", Err: err})
	}
	for k, v := range route.Headers {
		upReq.Header.Set(k, v)
	}

	resp, err := f.do(req.API, upReq)
	if err != nil {
		f.log.Warn("proxy upstream failed", "api", req.API, "method", method, "err", err)
		return badGateway(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return badGateway(fmt.Errorf("read upstream body: %w", err))
	}
	if int64(len(data)) > f.maxBody {
		return badGateway(fmt.Errorf("upstream response exceeds %d bytes", f.maxBody))
	}

	return Result{
		Status:   resp.StatusCode,
		Header:   sanitizeHeaders(resp.Header),
		Body:     data,
		Category: CategoryOK,
	}
}

// do runs the round trip through the API's breaker. Only transport errors
// count as breaker failures; any HTTP status is a success.
func (f *Forwarder) do(api string, req *http.Request) (*http.Response, error) {
	if f.breakers == nil {
		return f.client.Do(req)
	}
	out, err := f.breakers.get(api).Execute(func() (interface{}, error) {
		return f.client.Do(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit breaker for %s is open", domain.ErrUpstream, api)
	}
	if err != nil {
		return nil, err
	}
	return out.(*http.Response), nil
}
