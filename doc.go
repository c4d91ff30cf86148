/*
Package wirehttp is an HTTP/1.1 server engine built from small, separately
testable parts: an incremental request parser, a response serializer, a
first-match route table, a before/after middleware chain and a per
connection state machine driven by one of two schedulers.

# Schedulers

The reactor (linux only) owns every connection from a single goroutine and
drives them through a completion queue backed by epoll or io_uring. The
workers scheduler serves each connection on a goroutine of a fixed pool with
blocking reads and writes, and runs on any platform.

Both serve pipelined requests in order, honour keep-alive negotiation, cap
requests per connection, bound read buffers and drain gracefully when their
context is cancelled.

# Quick Start

	cfg, err := config.Load(os.Args[0], os.Args[1:])
	if err != nil {
	    log.Fatal(err)
	}
	application, err := app.New(cfg)
	if err != nil {
	    log.Fatal(err)
	}

	application.Routes().
	    GET("/hello", func(*http.Request) *http.Response {
	        return http.Text(http.StatusOK, "Hello, World!")
	    }).
	    GET("/users/:id", func(req *http.Request) *http.Response {
	        return render.MustRespond(http.StatusOK, render.JSON, map[string]string{
	            "id": req.Param("id"),
	        })
	    })

	application.RunWithSignals()

# Modules

  - app: logger, middleware defaults, server lifecycle
  - config: flags, WIREHTTP_* environment and JSON configuration
  - core: connection state machine, dispatcher, reactor and worker schedulers
  - core/http: request parser, response model and serializer
  - core/router: ordered route table with :name captures
  - core/middleware: chain with Logger, RequestID, CORS, rate limit and content type guard
  - core/poller: completion rings over epoll and io_uring
  - core/pools: byte, object and worker pools, GC tuning
  - core/observability: per-route metrics and hotspot detection
  - core/render: JSON, protobuf and protojson response codecs

See examples/basic for a runnable server.
*/
package wirehttp
