package router

import (
	"fmt"

	"github.com/searchktools/wirehttp/core/http"
)

// NotFoundBody is sent when no route matches
const NotFoundBody = "Page not found"

// Builder collects routes before serving starts
type Builder struct {
	routes   []*Route
	notFound Handler
	err      error
}

// NewBuilder creates an empty route builder
func NewBuilder() *Builder {
	return &Builder{
		routes: make([]*Route, 0, 16),
	}
}

// Handle registers a route. Routes are tried in registration order.
func (b *Builder) Handle(method, pattern string, h Handler) error {
	if h == nil {
		return fmt.Errorf("%w: %s %s", ErrNilHandler, method, pattern)
	}
	re, names, err := compile(pattern)
	if err != nil {
		return err
	}
	b.routes = append(b.routes, &Route{
		Method:  method,
		Pattern: pattern,
		Names:   names,
		re:      re,
		handler: h,
	})
	return nil
}

// add keeps the first registration error for Build to report
func (b *Builder) add(method, pattern string, h Handler) *Builder {
	if err := b.Handle(method, pattern, h); err != nil && b.err == nil {
		b.err = err
	}
	return b
}

func (b *Builder) GET(pattern string, h Handler) *Builder     { return b.add("GET", pattern, h) }
func (b *Builder) POST(pattern string, h Handler) *Builder    { return b.add("POST", pattern, h) }
func (b *Builder) PUT(pattern string, h Handler) *Builder     { return b.add("PUT", pattern, h) }
func (b *Builder) DELETE(pattern string, h Handler) *Builder  { return b.add("DELETE", pattern, h) }
func (b *Builder) PATCH(pattern string, h Handler) *Builder   { return b.add("PATCH", pattern, h) }
func (b *Builder) HEAD(pattern string, h Handler) *Builder    { return b.add("HEAD", pattern, h) }
func (b *Builder) OPTIONS(pattern string, h Handler) *Builder { return b.add("OPTIONS", pattern, h) }

// NotFound overrides the default 404 handler
func (b *Builder) NotFound(h Handler) *Builder {
	b.notFound = h
	return b
}

// Build freezes the routes into a Table
func (b *Builder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	routes := make([]*Route, len(b.routes))
	copy(routes, b.routes)

	notFound := b.notFound
	if notFound == nil {
		notFound = NotFound
	}
	return &Table{routes: routes, notFound: notFound}, nil
}

// Table is an immutable route table, safe for concurrent use
type Table struct {
	routes   []*Route
	notFound Handler
}

// Match returns the first route whose method and whole pattern match
func (t *Table) Match(method, path string) (*Route, map[string]string) {
	for _, r := range t.routes {
		if r.Method != method {
			continue
		}
		if params, ok := r.match(path); ok {
			return r, params
		}
	}
	return nil, nil
}

// Serve routes req to its handler, replacing req.Params
func (t *Table) Serve(req *http.Request) *http.Response {
	route, params := t.Match(req.Method, req.Path)
	if route == nil {
		req.Params = nil
		req.Route = ""
		return t.notFound(req)
	}
	req.Params = params
	req.Route = route.Pattern
	return route.handler(req)
}

// Routes lists registered routes in match order
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	for i, r := range t.routes {
		out[i] = *r
	}
	return out
}

// NotFound is the default handler for unmatched requests. It honours the
// client's keep-alive preference.
func NotFound(req *http.Request) *http.Response {
	resp := http.Text(http.StatusNotFound, NotFoundBody)
	resp.KeepAlive = req.WantsKeepAlive()
	return resp
}
