package proxy

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/thub/thub/internal/domain"
)

// Category classifies a forwarding outcome.
type Category string

const (
	CategoryOK            Category = "ok"
	CategoryNotConfigured Category = "not_configured"
	CategoryBadGateway    Category = "bad_gateway"
	CategoryInternal      Category = "internal"
)

const defaultContentType = "application/octet-stream"

// sensitiveResponseHeaders are dropped from every upstream response.
// Credential headers must not reach the browser; framing headers are
// recomputed when the result is written.
var sensitiveResponseHeaders = map[string]struct{}{
	"set-cookie":          {},
	"authorization":       {},
	"www-authenticate":    {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"content-length":      {},
	"transfer-encoding":   {},
	"content-encoding":    {},
}

// IsSensitiveHeader reports whether name is stripped from upstream responses.
func IsSensitiveHeader(name string) bool {
	_, ok := sensitiveResponseHeaders[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Result is the outcome of a forward. It is always safe to write back to
// the caller as-is.
type Result struct {
	Status   int
	Header   http.Header
	Body     []byte
	Category Category
}

// Write sends the result to w with a freshly computed Content-Length.
func (r Result) Write(w http.ResponseWriter) {
	dst := w.Header()
	for k, vv := range r.Header {
		dst[k] = append([]string(nil), vv...)
	}
	dst.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.Status)
	_, _ = w.Write(r.Body)
}

func sanitizeHeaders(src http.Header) http.Header {
	out := make(http.Header, len(src))
	for k, vv := range src {
		if IsSensitiveHeader(k) {
			continue
		}
		out[k] = append([]string(nil), vv...)
	}
	if out.Get("Content-Type") == "" {
		out.Set("Content-Type", defaultContentType)
	}
	return out
}

func errorResult(status int, category Category, detail string) Result {
	body, err := json.Marshal(domain.ErrorResponse{Error: string(category), Detail: detail})
	if err != nil {
		body = []byte(fmt.Sprintf(`{"error":%q}`, category))
	}
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return Result{Status: status, Header: h, Body: body, Category: category}
}

func notConfigured(api string) Result {
	return errorResult(http.StatusNotFound, CategoryNotConfigured, fmt.Sprintf("API '%s' not configured", api))
}

func badGateway(err error) Result {
	return errorResult(http.StatusBadGateway, CategoryBadGateway, "Proxy request failed: "+err.Error())
}
