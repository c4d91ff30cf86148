package middleware

import (
	"strconv"
	"sync/atomic"

	"github.com/searchktools/wirehttp/core/http"
)

var requestCounter atomic.Uint64

// NextRequestID returns the next process-wide request id, starting at 1
func NextRequestID() uint64 {
	return requestCounter.Add(1)
}

// RequestID stamps every response with X-Request-Id
func RequestID() Middleware {
	return Funcs{
		OnAfter: func(x *Exchange) {
			x.Response.SetHeader(http.HeaderRequestID, strconv.FormatUint(NextRequestID(), 10))
		},
	}
}
