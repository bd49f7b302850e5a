package proxy

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thub/thub/internal/domain"
)

type staticRoutes map[string]domain.ProxyRoute

func (s staticRoutes) LookupRoute(_ context.Context, name string) (domain.ProxyRoute, bool, error) {
	r, ok := s[name]
	return r, ok, nil
}

type brokenRoutes struct{}

func (brokenRoutes) LookupRoute(context.Context, string) (domain.ProxyRoute, bool, error) {
	return domain.ProxyRoute{}, false, errors.New("store offline")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

type hookRecorder struct {
	mu        sync.Mutex
	requests  []string
	responses []int
}

func (h *hookRecorder) ProxyRequest(api, path, method, username string) {
	h.mu.Lock()
	h.requests = append(h.requests, strings.Join([]string{api, path, method, username}, "|"))
	h.mu.Unlock()
}

func (h *hookRecorder) ProxyResponse(_ string, status int) {
	h.mu.Lock()
	h.responses = append(h.responses, status)
	h.mu.Unlock()
}

func TestUpstreamURL(t *testing.T) {
	tests := map[[2]string]string{
		{"https://api.example.com/v1", "users"}:   "https://api.example.com/v1/users",
		{"https://api.example.com/v1/", "/users"}: "https://api.example.com/v1/users",
		{"https://api.example.com/v1//", "//a/b"}: "https://api.example.com/v1/a/b",
		{"https://api.example.com", ""}:           "https://api.example.com/",
		{"https://api.example.com/v1", "a/b/c/"}:  "https://api.example.com/v1/a/b/c/",
	}
	for in, want := range tests {
		assert.Equal(t, want, UpstreamURL(in[0], in[1]), "UpstreamURL(%q, %q)", in[0], in[1])
	}
}

func TestForwardInjectsConfiguredHeadersOnly(t *testing.T) {
	var got *http.Request
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"users":[]}`))
	}))
	defer upstream.Close()

	hooks := &hookRecorder{}
	f := New(staticRoutes{
		"example": {Name: "example", BaseURL: upstream.URL + "/v1", Headers: map[string]string{"Authorization": "Bearer X"}},
	}, Options{Hooks: hooks})

	res := f.Forward(context.Background(), Request{
		API: "example", Path: "users", Method: http.MethodGet, Query: "page=2", Username: "alice",
	})

	require.Equal(t, CategoryOK, res.Category)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, `{"users":[]}`, string(res.Body))
	assert.Equal(t, "application/json", res.Header.Get("Content-Type"))

	require.NotNil(t, got)
	assert.Equal(t, "/v1/users", got.URL.Path)
	assert.Equal(t, "page=2", got.URL.RawQuery)
	assert.Equal(t, "Bearer X", got.Header.Get("Authorization"))
	assert.Empty(t, got.Header.Get("Cookie"))
	assert.Empty(t, gotBody)
	assert.Equal(t, int64(0), got.ContentLength)

	assert.Equal(t, []string{"example|users|GET|alice"}, hooks.requests)
	assert.Equal(t, []int{http.StatusOK}, hooks.responses)
}

func TestForwardPreservesMethodAndBody(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, `{"name":"x"}`, string(body))
		assert.Equal(t, "a=1&a=2&b=", r.URL.RawQuery)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("created"))
	}))
	defer upstream.Close()

	f := New(staticRoutes{"svc": {Name: "svc", BaseURL: upstream.URL}}, Options{})
	res := f.Forward(context.Background(), Request{
		API: "svc", Path: "/items", Method: http.MethodPost, Query: "a=1&a=2&b=", Body: []byte(`{"name":"x"}`),
	})
	assert.Equal(t, http.StatusCreated, res.Status)
	assert.Equal(t, "created", string(res.Body))
}

func TestForwardStripsSensitiveHeaders(t *testing.T) {
	body := `{"result": "success"}`
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		h := make(http.Header)
		h.Set("Content-Type", "application/json")
		h.Set("Content-Length", "9999")
		h.Set("Transfer-Encoding", "chunked")
		h.Set("Content-Encoding", "gzip")
		h.Add("Set-Cookie", "upstream=1")
		h.Set("Authorization", "Bearer leaked")
		h.Set("WWW-Authenticate", "Basic")
		h.Set("Proxy-Authenticate", "Basic")
		h.Set("Proxy-Authorization", "Basic abc")
		h.Set("X-Request-Id", "abc123")
		h.Set("Cache-Control", "max-age=60")
		return &http.Response{
			StatusCode: http.StatusOK,
			Header:     h,
			Body:       io.NopCloser(strings.NewReader(body)),
			Request:    r,
		}, nil
	})
	f := New(staticRoutes{"api": {Name: "api", BaseURL: "http://upstream.invalid"}}, Options{
		Client: &http.Client{Transport: transport},
	})

	res := f.Forward(context.Background(), Request{API: "api", Path: "data", Method: http.MethodGet})
	require.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, body, string(res.Body))
	for _, name := range []string{"Set-Cookie", "Authorization", "Content-Length", "Transfer-Encoding", "Content-Encoding", "WWW-Authenticate", "Proxy-Authenticate", "Proxy-Authorization"} {
		assert.Empty(t, res.Header.Values(name), "%s must be stripped", name)
	}
	assert.Equal(t, "abc123", res.Header.Get("X-Request-Id"))
	assert.Equal(t, "max-age=60", res.Header.Get("Cache-Control"))

	rec := httptest.NewRecorder()
	res.Write(rec)
	assert.Equal(t, "21", rec.Header().Get("Content-Length"))
	assert.Equal(t, body, rec.Body.String())
}

func TestForwardDefaultsContentType(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader("\x00\x01")), Request: r}, nil
	})
	f := New(staticRoutes{"bin": {Name: "bin", BaseURL: "http://upstream.invalid"}}, Options{Client: &http.Client{Transport: transport}})
	res := f.Forward(context.Background(), Request{API: "bin", Path: "blob"})
	assert.Equal(t, "application/octet-stream", res.Header.Get("Content-Type"))
}

func TestForwardDoesNotFollowRedirects(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path == "/start" {
			http.Redirect(w, r, "/elsewhere", http.StatusFound)
			return
		}
		_, _ = w.Write([]byte("followed"))
	}))
	defer upstream.Close()

	f := New(staticRoutes{"r": {Name: "r", BaseURL: upstream.URL}}, Options{})
	res := f.Forward(context.Background(), Request{API: "r", Path: "start", Method: http.MethodGet})
	assert.Equal(t, http.StatusFound, res.Status)
	assert.Equal(t, "/elsewhere", res.Header.Get("Location"))
	assert.Equal(t, int32(1), hits.Load())
}

func TestForwardUnknownAPIMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("unexpected")
	})
	hooks := &hookRecorder{}
	f := New(staticRoutes{}, Options{Client: &http.Client{Transport: transport}, Hooks: hooks})

	res := f.Forward(context.Background(), Request{API: "unknownapi", Path: "endpoint"})
	assert.Equal(t, CategoryNotConfigured, res.Category)
	assert.Equal(t, http.StatusNotFound, res.Status)
	assert.Contains(t, string(res.Body), "API 'unknownapi' not configured")
	assert.Equal(t, int32(0), calls.Load())
	assert.Empty(t, hooks.requests)
}

func TestForwardConnectionFailureIsBadGateway(t *testing.T) {
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("Connection failed")
	})
	hooks := &hookRecorder{}
	f := New(staticRoutes{"api": {Name: "api", BaseURL: "http://upstream.invalid"}}, Options{
		Client: &http.Client{Transport: transport},
		Hooks:  hooks,
	})

	res := f.Forward(context.Background(), Request{API: "api", Path: "endpoint", Username: "frank"})
	assert.Equal(t, CategoryBadGateway, res.Category)
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Contains(t, string(res.Body), "Proxy request failed")
	assert.Contains(t, string(res.Body), "Connection failed")
	assert.Equal(t, []int{http.StatusBadGateway}, hooks.responses)
}

func TestForwardRefusedConnection(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	addr := dead.URL
	dead.Close()

	f := New(staticRoutes{"api": {Name: "api", BaseURL: addr}}, Options{Breaker: BreakerSettings{Disabled: true}})
	res := f.Forward(context.Background(), Request{API: "api", Path: "x"})
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Contains(t, string(res.Body), "Proxy request failed")
}

func TestForwardTimeoutIsBadGateway(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer upstream.Close()
	defer close(release)

	f := New(staticRoutes{"slow": {Name: "slow", BaseURL: upstream.URL}}, Options{Timeout: 50 * time.Millisecond})
	res := f.Forward(context.Background(), Request{API: "slow", Path: "wait"})
	assert.Equal(t, CategoryBadGateway, res.Category)
}

func TestForwardLookupErrorIsInternal(t *testing.T) {
	f := New(brokenRoutes{}, Options{})
	res := f.Forward(context.Background(), Request{API: "x"})
	assert.Equal(t, CategoryInternal, res.Category)
	assert.Equal(t, http.StatusInternalServerError, res.Status)
}

func TestForwardResponseTooLarge(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Header: http.Header{}, Body: io.NopCloser(strings.NewReader(strings.Repeat("a", 64))), Request: r}, nil
	})
	f := New(staticRoutes{"big": {Name: "big", BaseURL: "http://upstream.invalid"}}, Options{
		Client:           &http.Client{Transport: transport},
		MaxResponseBytes: 16,
	})
	res := f.Forward(context.Background(), Request{API: "big", Path: "x"})
	assert.Equal(t, CategoryBadGateway, res.Category)
	assert.Contains(t, string(res.Body), "exceeds 16 bytes")
}

func TestBreakerOpensOnTransportFailures(t *testing.T) {
	var calls atomic.Int32
	transport := roundTripFunc(func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, errors.New("dial failed")
	})
	f := New(staticRoutes{"flaky": {Name: "flaky", BaseURL: "http://upstream.invalid"}}, Options{
		Client:  &http.Client{Transport: transport},
		Breaker: BreakerSettings{MinRequests: 3, FailureRatio: 0.5, OpenTimeout: time.Minute},
	})

	for i := 0; i < 3; i++ {
		res := f.Forward(context.Background(), Request{API: "flaky", Path: "x"})
		require.Equal(t, http.StatusBadGateway, res.Status)
	}
	assert.Equal(t, gobreaker.StateOpen, f.breakers.State("flaky"))

	res := f.Forward(context.Background(), Request{API: "flaky", Path: "x"})
	assert.Equal(t, http.StatusBadGateway, res.Status)
	assert.Contains(t, string(res.Body), "circuit breaker")
	assert.Equal(t, int32(3), calls.Load(), "open breaker must short-circuit the upstream call")
}

func TestBreakerIgnoresHTTPErrorStatuses(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	f := New(staticRoutes{"err": {Name: "err", BaseURL: upstream.URL}}, Options{
		Breaker: BreakerSettings{MinRequests: 2, FailureRatio: 0.5},
	})
	for i := 0; i < 5; i++ {
		res := f.Forward(context.Background(), Request{API: "err", Path: "x"})
		assert.Equal(t, http.StatusInternalServerError, res.Status)
		assert.Equal(t, CategoryOK, res.Category)
	}
	assert.Equal(t, gobreaker.StateClosed, f.breakers.State("err"))
}

func TestIsSensitiveHeader(t *testing.T) {
	for _, h := range []string{"Set-Cookie", "set-cookie", "CONTENT-LENGTH", " Transfer-Encoding "} {
		assert.True(t, IsSensitiveHeader(h), h)
	}
	for _, h := range []string{"Content-Type", "X-Custom", "Location"} {
		assert.False(t, IsSensitiveHeader(h), h)
	}
}
