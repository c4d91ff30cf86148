package core

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/wirehttp/core/http"
	"github.com/searchktools/wirehttp/core/pools"
	"github.com/searchktools/wirehttp/core/router"
)

func testDispatcher(t testing.TB) *Dispatcher {
	t.Helper()

	table, err := router.NewBuilder().
		GET("/hello", func(*http.Request) *http.Response {
			return http.Text(http.StatusOK, "hello")
		}).
		GET("/users/:id", func(req *http.Request) *http.Response {
			return http.Text(http.StatusOK, "user "+req.Param("id"))
		}).
		POST("/echo", func(req *http.Request) *http.Response {
			return http.NewResponse(http.StatusOK).SetBody(req.Body)
		}).
		GET("/bye", func(*http.Request) *http.Response {
			return http.Text(http.StatusOK, "bye").Close()
		}).
		GET("/panic", func(*http.Request) *http.Response {
			panic("boom")
		}).
		Build()
	require.NoError(t, err)

	return NewDispatcher(table, nil, http.DefaultSerializer, zerolog.Nop())
}

func testConn(t testing.TB, maxBuffer, maxRequests int) *Connection {
	t.Helper()

	c := newConnection(&connLimits{
		initialBuffer: 64,
		maxBuffer:     maxBuffer,
		maxRequests:   maxRequests,
		buffers:       pools.NewBytePool(),
		dispatcher:    testDispatcher(t),
	})
	c.open(3, 1, time.Now())
	return c
}

// feed copies data into the connection as the scheduler would
func feed(c *Connection, data string) State {
	for {
		space := c.ReadSpace()
		n := copy(space, data)
		data = data[n:]
		state := c.Ingest(n)
		if len(data) == 0 || state != StateReading {
			return state
		}
	}
}

// drainOutput takes all pending output as if fully written
func drainOutput(c *Connection) (string, State) {
	out := string(c.PendingWrite())
	return out, c.Wrote(len(out))
}

func TestConnection_SingleRequest(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	state := feed(c, "GET /hello HTTP/1.1\r\nHost: x\r\n\r\n")
	require.Equal(t, StateWriting, state)

	out, state := drainOutput(c)
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\n"))
	require.Contains(t, out, "Connection: keep-alive\r\n")
	require.True(t, strings.HasSuffix(out, "\r\n\r\nhello"))
	require.Equal(t, StateReading, state)
	require.Equal(t, 1, c.Requests())
}

// TestConnection_Pipelined 测试流水线请求按顺序响应
func TestConnection_Pipelined(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	state := feed(c, "GET /users/1 HTTP/1.1\r\n\r\n"+
		"GET /users/2 HTTP/1.1\r\n\r\n"+
		"GET /users/3 HTTP/1.1\r\n\r\n")
	require.Equal(t, StateWriting, state)

	out, _ := drainOutput(c)
	first := strings.Index(out, "user 1")
	second := strings.Index(out, "user 2")
	third := strings.Index(out, "user 3")
	require.True(t, first >= 0 && first < second && second < third, out)
	require.Equal(t, 3, c.Requests())
	require.Zero(t, c.Buffered())
}

func TestConnection_PartialInputWaits(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	require.Equal(t, StateReading, feed(c, "GET /hello HTTP/1.1\r\nHo"))
	require.Empty(t, c.PendingWrite())
	require.Positive(t, c.Buffered())

	require.Equal(t, StateWriting, feed(c, "st: x\r\n\r\n"))
	require.Zero(t, c.Buffered())
}

func TestConnection_ByteAtATime(t *testing.T) {
	c := testConn(t, 1<<20, 0)
	raw := "POST /echo HTTP/1.1\r\nContent-Length: 5\r\n\r\nhello"

	var state State
	for i := 0; i < len(raw); i++ {
		state = feed(c, raw[i:i+1])
		if i < len(raw)-1 {
			require.Equal(t, StateReading, state, "byte %d", i)
		}
	}
	require.Equal(t, StateWriting, state)

	out, _ := drainOutput(c)
	require.True(t, strings.HasSuffix(out, "\r\n\r\nhello"))
}

func TestConnection_Malformed(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	state := feed(c, "GARBAGE\r\n\r\n")
	require.Equal(t, StateClosing, state)
	require.Equal(t, ReasonMalformed, c.Reason())
	require.Empty(t, c.PendingWrite())
}

func TestConnection_MalformedAfterValid(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	state := feed(c, "GET /hello HTTP/1.1\r\n\r\nPOST /echo HTTP/1.1\r\nContent-Length: abc\r\n\r\n")
	require.Equal(t, StateWriting, state)
	require.Equal(t, ReasonMalformed, c.Reason())

	out, state := drainOutput(c)
	require.Contains(t, out, "hello")
	require.Equal(t, 1, strings.Count(out, "HTTP/1.1 "))
	require.Equal(t, StateClosing, state)
}

func TestConnection_RequestCap(t *testing.T) {
	c := testConn(t, 1<<20, 2)

	require.Equal(t, StateWriting, feed(c, "GET /hello HTTP/1.1\r\n\r\n"))
	out, state := drainOutput(c)
	require.Contains(t, out, "Connection: keep-alive\r\n")
	require.Equal(t, StateReading, state)

	// the second response is the last one and announces close
	require.Equal(t, StateWriting, feed(c, "GET /hello HTTP/1.1\r\n\r\nGET /hello HTTP/1.1\r\n\r\n"))
	out, state = drainOutput(c)
	require.Equal(t, 1, strings.Count(out, "HTTP/1.1 200"))
	require.Contains(t, out, "Connection: close\r\n")
	require.Equal(t, StateClosing, state)
	require.Equal(t, ReasonRequestCap, c.Reason())
}

func TestConnection_KeepAliveNegotiation(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		keep   bool
		reason CloseReason
	}{
		{"http11 default", "GET /hello HTTP/1.1\r\n\r\n", true, ReasonNone},
		{"http11 close", "GET /hello HTTP/1.1\r\nConnection: close\r\n\r\n", false, ReasonNotKeepAlive},
		{"http10 default", "GET /hello HTTP/1.0\r\n\r\n", false, ReasonNotKeepAlive},
		{"http10 keep-alive", "GET /hello HTTP/1.0\r\nConnection: keep-alive\r\n\r\n", true, ReasonNone},
		{"handler close", "GET /bye HTTP/1.1\r\n\r\n", false, ReasonNotKeepAlive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testConn(t, 1<<20, 0)
			require.Equal(t, StateWriting, feed(c, tt.raw))

			out, state := drainOutput(c)
			if tt.keep {
				require.Contains(t, out, "Connection: keep-alive\r\n")
				require.Equal(t, StateReading, state)
			} else {
				require.Contains(t, out, "Connection: close\r\n")
				require.Equal(t, StateClosing, state)
			}
			require.Equal(t, tt.reason, c.Reason())
		})
	}
}

func TestConnection_CloseDiscardsRemainder(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	feed(c, "GET /bye HTTP/1.1\r\n\r\nGET /hello HTTP/1.1\r\n\r\n")
	out, state := drainOutput(c)
	require.Equal(t, 1, strings.Count(out, "HTTP/1.1 200"))
	require.Equal(t, StateClosing, state)
	require.Zero(t, c.Buffered())
}

func TestConnection_BufferLimit(t *testing.T) {
	c := testConn(t, 256, 0)

	// a header block that never ends
	state := feed(c, "GET /hello HTTP/1.1\r\n"+strings.Repeat("X-Pad: aaaaaaaa\r\n", 32))
	require.Equal(t, StateClosing, state)
	require.Equal(t, ReasonBufferLimit, c.Reason())
	require.Empty(t, c.PendingWrite())
}

func TestConnection_ReadSpaceBounded(t *testing.T) {
	c := testConn(t, 100, 0)

	for i := 0; i < 10; i++ {
		space := c.ReadSpace()
		if len(space) == 0 {
			break
		}
		require.LessOrEqual(t, c.Buffered()+len(space), 100)
		c.rbuf = c.rbuf[:len(c.rbuf)+len(space)]
	}
	require.Equal(t, 100, c.Buffered())
}

func TestConnection_PartialWrites(t *testing.T) {
	c := testConn(t, 1<<20, 0)
	feed(c, "GET /hello HTTP/1.1\r\n\r\n")

	var out bytes.Buffer
	for len(c.PendingWrite()) > 0 {
		chunk := c.PendingWrite()[:min(7, len(c.PendingWrite()))]
		out.Write(chunk)
		state := c.Wrote(len(chunk))
		if len(c.PendingWrite()) > 0 {
			require.Equal(t, StateWriting, state)
		} else {
			require.Equal(t, StateReading, state)
		}
	}
	require.True(t, strings.HasSuffix(out.String(), "hello"))
}

func TestConnection_ResetReleases(t *testing.T) {
	c := testConn(t, 1<<20, 0)
	feed(c, "GET /hello HTTP/1.1\r\n\r\n")
	c.Close(ReasonShutdown)

	c.Reset()
	require.Equal(t, -1, c.FD())
	require.Zero(t, c.Requests())
	require.Equal(t, ReasonNone, c.Reason())
	require.Zero(t, c.Buffered())
	require.NotNil(t, c.limits)
}

func TestDispatcher_RecoversPanic(t *testing.T) {
	c := testConn(t, 1<<20, 0)

	require.Equal(t, StateWriting, feed(c, "GET /panic HTTP/1.1\r\n\r\n"))
	out, state := drainOutput(c)
	require.True(t, strings.HasPrefix(out, "HTTP/1.1 500 Internal Server Error\r\n"))
	require.Contains(t, out, "Connection: close\r\n")
	require.Equal(t, StateClosing, state)
}

func TestCloseReason_String(t *testing.T) {
	for r := ReasonNone; r < numReasons; r++ {
		require.NotEqual(t, "unknown", r.String(), fmt.Sprint(uint8(r)))
	}
	require.Equal(t, "unknown", numReasons.String())
}

func BenchmarkConnection_Pipelined(b *testing.B) {
	c := testConn(b, 1<<20, 0)
	raw := strings.Repeat("GET /users/42 HTTP/1.1\r\nHost: bench\r\n\r\n", 16)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		feed(c, raw)
		c.Wrote(len(c.PendingWrite()))
	}
}
