package core

import (
	"github.com/rs/zerolog"

	"github.com/searchktools/wirehttp/core/http"
	"github.com/searchktools/wirehttp/core/middleware"
	"github.com/searchktools/wirehttp/core/router"
)

// Dispatcher runs a request through the middleware chain into the route
// table. Both are built before serving and shared read-only.
type Dispatcher struct {
	chain      *middleware.Chain
	table      *router.Table
	serializer http.Serializer
	log        zerolog.Logger
}

// NewDispatcher creates a dispatcher. chain may be nil.
func NewDispatcher(table *router.Table, chain *middleware.Chain, serializer http.Serializer, log zerolog.Logger) *Dispatcher {
	if chain == nil {
		chain = middleware.NewChain()
	}
	return &Dispatcher{
		chain:      chain,
		table:      table,
		serializer: serializer,
		log:        log,
	}
}

// Dispatch never fails: panics in handlers or middleware become a 500
// that closes the connection
func (d *Dispatcher) Dispatch(req *http.Request) (resp *http.Response) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().
				Interface("panic", r).
				Str("method", req.Method).
				Str("target", req.RawTarget).
				Msg("handler panic recovered")
			resp = http.Text(http.StatusInternalServerError, "Internal Server Error").Close()
		}
	}()

	return d.chain.Execute(req, d.table.Serve)
}
