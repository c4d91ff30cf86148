package middleware

import (
	"bytes"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/wirehttp/core/http"
	"github.com/searchktools/wirehttp/core/observability"
)

func okHandler(req *http.Request) *http.Response {
	return http.Text(http.StatusOK, "ok")
}

func newRequest(method string) *http.Request {
	return &http.Request{
		Method:    method,
		Path:      "/x",
		RawTarget: "/x?y=1",
		Version:   http.HTTP11,
		Headers:   map[string]string{},
	}
}

type recorder struct {
	name  string
	trace *[]string
	abort bool
}

func (r recorder) Before(x *Exchange) {
	*r.trace = append(*r.trace, "before "+r.name)
	if r.abort {
		x.Abort(http.Text(http.StatusBadRequest, r.name))
	}
}

func (r recorder) After(x *Exchange) {
	*r.trace = append(*r.trace, "after "+r.name)
}

// TestChainOrder 测试中间件执行顺序
func TestChainOrder(t *testing.T) {
	var trace []string
	chain := NewChain(
		recorder{name: "a", trace: &trace},
		recorder{name: "b", trace: &trace},
	)

	resp := chain.Execute(newRequest("GET"), func(*http.Request) *http.Response {
		trace = append(trace, "handler")
		return http.Text(http.StatusOK, "done")
	})

	require.Equal(t, "done", string(resp.Body))
	require.Equal(t, []string{"before a", "before b", "handler", "after b", "after a"}, trace)
}

// TestChainAbort 测试中间件终止
func TestChainAbort(t *testing.T) {
	var trace []string
	chain := NewChain(
		recorder{name: "a", trace: &trace},
		recorder{name: "b", trace: &trace, abort: true},
		recorder{name: "c", trace: &trace},
	)

	resp := chain.Execute(newRequest("GET"), func(*http.Request) *http.Response {
		trace = append(trace, "handler")
		return okHandler(nil)
	})

	require.Equal(t, http.StatusBadRequest, resp.Status)
	require.Equal(t, "b", string(resp.Body))
	require.Equal(t, []string{"before a", "before b", "after a"}, trace)
}

func TestChainEmpty(t *testing.T) {
	resp := NewChain().Execute(newRequest("GET"), okHandler)
	require.Equal(t, "ok", string(resp.Body))
}

func TestChainNilResponse(t *testing.T) {
	resp := NewChain().Execute(newRequest("GET"), func(*http.Request) *http.Response { return nil })
	require.Equal(t, http.StatusInternalServerError, resp.Status)

	var seen int
	chain := NewChain(Funcs{OnAfter: func(x *Exchange) { seen = x.Response.Status }})
	resp = chain.Execute(newRequest("GET"), func(*http.Request) *http.Response { return nil })
	require.Equal(t, http.StatusInternalServerError, resp.Status)
	require.Equal(t, http.StatusInternalServerError, seen)
}

func TestChainLocals(t *testing.T) {
	var got []any
	store := func(v string) Middleware {
		return Funcs{
			OnBefore: func(x *Exchange) { x.SetLocal(v) },
			OnAfter:  func(x *Exchange) { got = append(got, x.Local()) },
		}
	}
	chain := NewChain(store("outer"), store("inner"))

	chain.Execute(newRequest("GET"), okHandler)
	require.Equal(t, []any{"inner", "outer"}, got)

	// locals never leak into the next exchange
	got = nil
	chain2 := NewChain(Funcs{OnAfter: func(x *Exchange) { got = append(got, x.Local()) }})
	chain2.Execute(newRequest("GET"), okHandler)
	require.Equal(t, []any{nil}, got)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	mon := observability.NewMonitor()
	mw := Logger(zerolog.New(&buf), mon)

	clock := time.Unix(100, 0)
	mw.now = func() time.Time {
		clock = clock.Add(1500 * time.Microsecond)
		return clock
	}

	req := newRequest("GET")
	req.Route = "/x"
	resp := NewChain(mw).Execute(req, okHandler)
	require.Equal(t, http.StatusOK, resp.Status)

	line := buf.String()
	require.Contains(t, line, `"method":"GET"`)
	require.Contains(t, line, `"target":"/x?y=1"`)
	require.Contains(t, line, `"status":200`)
	require.Contains(t, line, `"elapsed":1.5`)

	snap := mon.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, "GET /x", snap[0].Label)
	require.Equal(t, 1500*time.Microsecond, snap[0].Average)
}

func TestRequestID(t *testing.T) {
	chain := NewChain(RequestID())

	first, err := strconv.ParseUint(chain.Execute(newRequest("GET"), okHandler).Header(http.HeaderRequestID), 10, 64)
	require.NoError(t, err)
	second, err := strconv.ParseUint(chain.Execute(newRequest("GET"), okHandler).Header(http.HeaderRequestID), 10, 64)
	require.NoError(t, err)
	require.Greater(t, second, first)
	require.GreaterOrEqual(t, first, uint64(1))
}

func TestRequestIDConcurrent(t *testing.T) {
	const n = 1000
	ids := make(chan uint64, n)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < n/10; j++ {
				ids <- NextRequestID()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]struct{}, n)
	for id := range ids {
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %d", id)
		seen[id] = struct{}{}
	}
	require.Len(t, seen, n)
}

func TestCORSPreflight(t *testing.T) {
	handled := false
	chain := NewChain(CORS(DefaultCORSConfig))

	resp := chain.Execute(newRequest("OPTIONS"), func(*http.Request) *http.Response {
		handled = true
		return okHandler(nil)
	})

	require.False(t, handled)
	require.Equal(t, http.StatusNoContent, resp.Status)
	require.Equal(t, "*", resp.Headers["Access-Control-Allow-Origin"])
	require.Equal(t, "GET, POST, PUT, DELETE, PATCH, OPTIONS", resp.Headers["Access-Control-Allow-Methods"])
	require.Equal(t, "Content-Type, Authorization, X-Request-Id", resp.Headers["Access-Control-Allow-Headers"])
	require.Equal(t, "86400", resp.Headers["Access-Control-Max-Age"])
	require.True(t, resp.KeepAlive)
}

func TestCORSSimple(t *testing.T) {
	cfg := DefaultCORSConfig
	cfg.AllowOrigin = "https://example.org"
	resp := NewChain(CORS(cfg)).Execute(newRequest("GET"), okHandler)

	require.Equal(t, http.StatusOK, resp.Status)
	require.Equal(t, "https://example.org", resp.Headers["Access-Control-Allow-Origin"])
	require.NotContains(t, resp.Headers, "Access-Control-Max-Age")
}

// TestRateLimiterBoundary 测试滑动窗口边界
func TestRateLimiterBoundary(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewRateLimiter(3, time.Second, WithClock(func() time.Time { return now }))
	chain := NewChain(limiter)

	for i := 0; i < 3; i++ {
		resp := chain.Execute(newRequest("GET"), okHandler)
		require.Equal(t, http.StatusOK, resp.Status, "request %d", i+1)
	}

	now = now.Add(500 * time.Millisecond)
	resp := chain.Execute(newRequest("GET"), okHandler)
	require.Equal(t, http.StatusTooManyRequests, resp.Status)
	require.Equal(t, "1", resp.Headers[http.HeaderRetryAfter])
	require.Equal(t, RateLimitBody, string(resp.Body))

	now = now.Add(500*time.Millisecond + time.Millisecond)
	resp = chain.Execute(newRequest("GET"), okHandler)
	require.Equal(t, http.StatusOK, resp.Status)
}

func TestRateLimiterKeys(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewRateLimiter(1, time.Minute, WithClock(func() time.Time { return now }))

	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))
	require.True(t, limiter.Allow("b"))

	req := newRequest("GET")
	req.Headers["X-Forwarded-For"] = "10.1.1.1, 192.168.0.1"
	chain := NewChain(limiter)
	require.Equal(t, http.StatusOK, chain.Execute(req, okHandler).Status)
	resp := chain.Execute(req, okHandler)
	require.Equal(t, http.StatusTooManyRequests, resp.Status)
	require.Equal(t, "60", resp.Headers[http.HeaderRetryAfter])

	// a different first hop is a different client
	req.Headers["X-Forwarded-For"] = "10.1.1.2, 192.168.0.1"
	require.Equal(t, http.StatusOK, chain.Execute(req, okHandler).Status)
}

func TestRateLimiterSweep(t *testing.T) {
	now := time.Unix(1000, 0)
	limiter := NewRateLimiter(5, time.Second, WithClock(func() time.Time { return now }))

	for i := 0; i < 50; i++ {
		limiter.Allow(strconv.Itoa(i))
	}
	require.Equal(t, 50, limiter.Clients())

	now = now.Add(3 * time.Second)
	limiter.Allow("fresh")
	require.Equal(t, 1, limiter.Clients())
}

func TestRateLimiterSweepKeepsLiveStamps(t *testing.T) {
	start := time.Unix(1000, 0)
	now := start
	limiter := NewRateLimiter(3, time.Second, WithClock(func() time.Time { return now }))

	for _, at := range []time.Duration{0, 600 * time.Millisecond, 700 * time.Millisecond} {
		now = start.Add(at)
		require.True(t, limiter.Allow("a"))
	}

	// another client triggers the sweep while "a" still has two live stamps
	now = start.Add(1050 * time.Millisecond)
	require.True(t, limiter.Allow("b"))

	now = start.Add(1100 * time.Millisecond)
	require.True(t, limiter.Allow("a"))
	require.False(t, limiter.Allow("a"))

	// the stamps at 0.6s and 0.7s leave the window
	now = start.Add(1750 * time.Millisecond)
	require.True(t, limiter.Allow("a"))
}

func TestRequireContentType(t *testing.T) {
	chain := NewChain(RequireContentType("application/json"))

	tcs := []struct {
		method string
		ct     string
		status int
	}{
		{"GET", "", http.StatusOK},
		{"DELETE", "", http.StatusOK},
		{"POST", "", http.StatusUnsupportedMediaType},
		{"PUT", "text/plain", http.StatusUnsupportedMediaType},
		{"PATCH", "application/json; charset=utf-8", http.StatusOK},
		{"POST", "application/json", http.StatusOK},
	}

	for _, tc := range tcs {
		req := newRequest(tc.method)
		if tc.ct != "" {
			req.Headers["content-type"] = tc.ct
		}
		resp := chain.Execute(req, okHandler)
		require.Equal(t, tc.status, resp.Status, "%s %q", tc.method, tc.ct)
		if tc.status == http.StatusUnsupportedMediaType {
			require.Equal(t, "Expected Content-Type: application/json", string(resp.Body))
		}
	}
}

func TestRequireContentTypePrefixes(t *testing.T) {
	chain := NewChain(RequireContentType("application/json", "/api/"))

	req := newRequest("POST")
	req.Path = "/echo"
	req.Headers["Content-Type"] = "text/plain"
	require.Equal(t, http.StatusOK, chain.Execute(req, okHandler).Status)

	req = newRequest("POST")
	req.Path = "/api/users"
	req.Headers["Content-Type"] = "text/plain"
	require.Equal(t, http.StatusUnsupportedMediaType, chain.Execute(req, okHandler).Status)
}
