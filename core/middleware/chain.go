package middleware

import (
	"sync"

	"github.com/searchktools/wirehttp/core/http"
)

// Middleware wraps the handler call. Before runs on the way in and may
// stop the chain with Exchange.Abort; After runs on the way out, in
// reverse order, for every middleware whose Before completed without
// aborting.
type Middleware interface {
	Before(x *Exchange)
	After(x *Exchange)
}

// Funcs adapts plain functions to Middleware. Nil hooks are skipped.
type Funcs struct {
	OnBefore func(x *Exchange)
	OnAfter  func(x *Exchange)
}

func (f Funcs) Before(x *Exchange) {
	if f.OnBefore != nil {
		f.OnBefore(x)
	}
}

func (f Funcs) After(x *Exchange) {
	if f.OnAfter != nil {
		f.OnAfter(x)
	}
}

// Exchange carries one request/response pair through the chain
type Exchange struct {
	Request  *http.Request
	Response *http.Response

	aborted bool
	index   int
	locals  []any
}

// Abort short-circuits the remaining middleware and the handler,
// answering with resp
func (x *Exchange) Abort(resp *http.Response) {
	x.aborted = true
	x.Response = resp
}

func (x *Exchange) IsAborted() bool {
	return x.aborted
}

// SetLocal stores per-exchange state for the running middleware
func (x *Exchange) SetLocal(v any) {
	x.locals[x.index] = v
}

// Local returns what the running middleware stored with SetLocal
func (x *Exchange) Local() any {
	return x.locals[x.index]
}

var exchangePool = sync.Pool{
	New: func() any {
		return &Exchange{locals: make([]any, 0, 8)}
	},
}

func acquireExchange(req *http.Request, n int) *Exchange {
	x := exchangePool.Get().(*Exchange)
	x.Request = req
	if cap(x.locals) < n {
		x.locals = make([]any, n)
	}
	x.locals = x.locals[:n]
	return x
}

func releaseExchange(x *Exchange) {
	clear(x.locals)
	x.Request = nil
	x.Response = nil
	x.aborted = false
	x.index = 0
	exchangePool.Put(x)
}

// Chain is an ordered middleware list walked by index
type Chain struct {
	middlewares []Middleware
}

// NewChain creates a chain running mws in the given order
func NewChain(mws ...Middleware) *Chain {
	c := &Chain{middlewares: make([]Middleware, 0, 8)}
	return c.Use(mws...)
}

// Use appends middleware. It must not be called once serving has started.
func (c *Chain) Use(mws ...Middleware) *Chain {
	c.middlewares = append(c.middlewares, mws...)
	return c
}

func (c *Chain) Len() int {
	return len(c.middlewares)
}

// Execute runs req through the chain with final as the innermost handler.
// A nil response from final or from Abort becomes a 500.
func (c *Chain) Execute(req *http.Request, final func(*http.Request) *http.Response) *http.Response {
	if len(c.middlewares) == 0 {
		return orInternalError(final(req))
	}

	x := acquireExchange(req, len(c.middlewares))
	defer releaseExchange(x)

	entered := len(c.middlewares)
	for i, m := range c.middlewares {
		x.index = i
		m.Before(x)
		if x.aborted {
			entered = i
			break
		}
	}

	if !x.aborted {
		x.Response = final(req)
	}
	x.Response = orInternalError(x.Response)

	for i := entered - 1; i >= 0; i-- {
		x.index = i
		c.middlewares[i].After(x)
	}
	return x.Response
}

func orInternalError(resp *http.Response) *http.Response {
	if resp != nil {
		return resp
	}
	return http.Text(http.StatusInternalServerError, "Internal Server Error")
}
