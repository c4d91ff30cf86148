package http

import (
	"slices"
	"strconv"
	"time"

	"github.com/indigo-web/utils/strcomp"
	"golang.org/x/net/http/httpguts"
)

// Response is what handlers and middleware produce.
// Content-Length, when set, always equals len(Body).
type Response struct {
	Status    int
	Headers   map[string]string
	Body      []byte
	KeepAlive bool
}

// NewResponse returns an empty keep-alive response with the given status
func NewResponse(status int) *Response {
	return &Response{
		Status:    status,
		Headers:   make(map[string]string, 4),
		KeepAlive: true,
	}
}

// Text builds a text/plain response
func Text(status int, body string) *Response {
	return NewResponse(status).SetBody([]byte(body))
}

// Reason is the reason phrase sent with Status
func (r *Response) Reason() string {
	return StatusText(r.Status)
}

func (r *Response) SetStatus(code int) *Response {
	r.Status = code
	return r
}

func (r *Response) SetHeader(key, value string) *Response {
	if r.Headers == nil {
		r.Headers = make(map[string]string, 4)
	}
	r.Headers[key] = value
	return r
}

// Header returns a response header, compared case-insensitively
func (r *Response) Header(key string) string {
	if v, ok := r.Headers[key]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strcomp.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// SetBody replaces the body and recomputes Content-Length. Content-Type
// defaults to text/plain when not already set.
func (r *Response) SetBody(body []byte) *Response {
	r.Body = body
	r.SetHeader(HeaderContentLength, strconv.Itoa(len(body)))
	if r.Header(HeaderContentType) == "" {
		r.SetHeader(HeaderContentType, "text/plain")
	}
	return r
}

// SetContent sets both the body and its content type
func (r *Response) SetContent(contentType string, body []byte) *Response {
	r.SetHeader(HeaderContentType, contentType)
	return r.SetBody(body)
}

// Close marks the response as the last one on its connection
func (r *Response) Close() *Response {
	r.KeepAlive = false
	return r
}

// Serializer frames responses onto the wire
type Serializer struct {
	// KeepAliveTimeout and KeepAliveMax are advertised in the Keep-Alive
	// header of persistent responses
	KeepAliveTimeout time.Duration
	KeepAliveMax     int
}

// DefaultSerializer advertises timeout=5, max=100
var DefaultSerializer = Serializer{
	KeepAliveTimeout: 5 * time.Second,
	KeepAliveMax:     100,
}

// Append writes the wire form of r to dst and returns the extended slice.
// Connection management headers are derived from r.KeepAlive; user set
// Connection, Keep-Alive and Content-Length headers are ignored, as are
// headers with invalid names or values such as embedded CR or LF.
func (s Serializer) Append(dst []byte, r *Response) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(r.Status), 10)
	dst = append(dst, ' ')
	dst = append(dst, r.Reason()...)
	dst = append(dst, crlf...)

	if r.KeepAlive {
		dst = append(dst, "Connection: keep-alive\r\nKeep-Alive: timeout="...)
		dst = strconv.AppendInt(dst, int64(s.KeepAliveTimeout/time.Second), 10)
		dst = append(dst, ", max="...)
		dst = strconv.AppendInt(dst, int64(s.KeepAliveMax), 10)
		dst = append(dst, crlf...)
	} else {
		dst = append(dst, "Connection: close\r\n"...)
	}

	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		if isFramingHeader(k) || !httpguts.ValidHeaderFieldName(k) ||
			!httpguts.ValidHeaderFieldValue(r.Headers[k]) {
			continue
		}
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		dst = append(dst, k...)
		dst = append(dst, ": "...)
		dst = append(dst, r.Headers[k]...)
		dst = append(dst, crlf...)
	}

	if bodyAllowed(r.Status) {
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(len(r.Body)), 10)
		dst = append(dst, crlf...)
	}
	dst = append(dst, crlf...)

	if bodyAllowed(r.Status) {
		dst = append(dst, r.Body...)
	}
	return dst
}

func isFramingHeader(k string) bool {
	return strcomp.EqualFold(k, HeaderConnection) ||
		strcomp.EqualFold(k, HeaderKeepAlive) ||
		strcomp.EqualFold(k, HeaderContentLength)
}

// 1xx, 204 and 304 responses carry no body
func bodyAllowed(status int) bool {
	return status >= 200 && status != StatusNoContent && status != 304
}
