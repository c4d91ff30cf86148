package http

import (
	"strings"
	"sync"

	"github.com/indigo-web/utils/strcomp"
	"golang.org/x/net/http/httpguts"
)

// Well-known header names
const (
	HeaderConnection    = "Connection"
	HeaderContentLength = "Content-Length"
	HeaderContentType   = "Content-Type"
	HeaderForwardedFor  = "X-Forwarded-For"
	HeaderKeepAlive     = "Keep-Alive"
	HeaderRequestID     = "X-Request-Id"
	HeaderRetryAfter    = "Retry-After"
)

// Protocol versions
const (
	HTTP10 = "HTTP/1.0"
	HTTP11 = "HTTP/1.1"
)

// Request is a parsed HTTP/1.1 request.
// Header names are stored exactly as received.
type Request struct {
	Method    string
	Path      string // percent-decoded
	RawTarget string // target as it appeared on the request line
	Version   string

	Headers map[string]string
	Query   map[string]string
	Params  map[string]string // filled by the router
	Body    []byte

	// Route is the pattern of the matched route, empty if none matched
	Route string
}

var requestPool = sync.Pool{
	New: func() any {
		return &Request{
			Headers: make(map[string]string, 8),
			Body:    make([]byte, 0, 512),
		}
	},
}

// AcquireRequest returns an empty request from the pool
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest returns req to the pool. req must not be used afterwards.
func ReleaseRequest(req *Request) {
	req.Reset()
	requestPool.Put(req)
}

// Reset clears the request for reuse, keeping allocated storage
func (r *Request) Reset() {
	r.Method = ""
	r.Path = ""
	r.RawTarget = ""
	r.Version = ""
	r.Route = ""
	clear(r.Headers)
	r.Query = nil
	r.Params = nil
	r.Body = r.Body[:0]
}

// Header returns the value of the named header. An exact match is
// preferred; otherwise names are compared case-insensitively.
func (r *Request) Header(name string) (string, bool) {
	if v, ok := r.Headers[name]; ok {
		return v, true
	}
	for k, v := range r.Headers {
		if strcomp.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// Param returns a path parameter captured by the router
func (r *Request) Param(name string) string {
	return r.Params[name]
}

// WantsKeepAlive reports whether the client asked for a persistent
// connection. An explicit Connection header decides; without one only
// HTTP/1.1 defaults to keep-alive.
func (r *Request) WantsKeepAlive() bool {
	conn, ok := r.Header(HeaderConnection)
	if !ok {
		return r.Version == HTTP11
	}
	return httpguts.HeaderValuesContainsToken([]string{conn}, "keep-alive")
}

// ClientKey returns the first address of X-Forwarded-For, or "local"
func (r *Request) ClientKey() string {
	xff, ok := r.Header(HeaderForwardedFor)
	if !ok {
		return "local"
	}
	if i := strings.IndexByte(xff, ','); i >= 0 {
		xff = xff[:i]
	}
	xff = strings.TrimSpace(xff)
	if xff == "" {
		return "local"
	}
	return xff
}
