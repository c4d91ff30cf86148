package core

import (
	"time"

	"github.com/searchktools/wirehttp/core/http"
	"github.com/searchktools/wirehttp/core/pools"
)

// State is the lifecycle position of a connection
type State uint8

const (
	StateAccepting State = iota
	StateReading
	StateDispatching
	StateWriting
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateReading:
		return "reading"
	case StateDispatching:
		return "dispatching"
	case StateWriting:
		return "writing"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// CloseReason records why a connection ended
type CloseReason uint8

const (
	ReasonNone CloseReason = iota
	ReasonPeerClosed
	ReasonTransport
	ReasonMalformed
	ReasonBufferLimit
	ReasonRequestCap
	ReasonNotKeepAlive
	ReasonWriteStalled
	ReasonIdle
	ReasonReadTimeout
	ReasonShutdown
	numReasons
)

var reasonNames = [numReasons]string{
	ReasonNone:         "none",
	ReasonPeerClosed:   "peer_closed",
	ReasonTransport:    "transport",
	ReasonMalformed:    "malformed",
	ReasonBufferLimit:  "buffer_limit",
	ReasonRequestCap:   "request_cap",
	ReasonNotKeepAlive: "not_keep_alive",
	ReasonWriteStalled: "write_stalled",
	ReasonIdle:         "idle",
	ReasonReadTimeout:  "read_timeout",
	ReasonShutdown:     "shutdown",
}

func (r CloseReason) String() string {
	if r < numReasons {
		return reasonNames[r]
	}
	return "unknown"
}

// connLimits is shared by every connection of one server
type connLimits struct {
	initialBuffer int
	maxBuffer     int
	maxRequests   int
	buffers       *pools.BytePool
	dispatcher    *Dispatcher
}

// Connection holds the buffers and protocol state of one client.
// It does no I/O: the scheduler reads into ReadSpace, reports bytes
// with Ingest, sends PendingWrite and reports progress with Wrote.
type Connection struct {
	fd    int
	tag   uint32
	state State

	rbuf     []byte // len(rbuf) is the filled length
	wbuf     []byte
	written  int
	requests int

	closeAfterWrite bool
	reason          CloseReason

	inflight    bool
	lastActive  time.Time
	writeStalls int

	limits *connLimits
}

func newConnection(limits *connLimits) *Connection {
	return &Connection{fd: -1, limits: limits}
}

// open prepares a pooled connection for a freshly accepted descriptor
func (c *Connection) open(fd int, tag uint32, now time.Time) {
	c.fd = fd
	c.tag = tag
	c.state = StateReading
	c.lastActive = now
	c.rbuf = c.limits.buffers.Get(c.limits.initialBuffer)
}

// Reset releases buffers and clears all state
func (c *Connection) Reset() {
	if c.rbuf != nil {
		c.limits.buffers.Put(c.rbuf)
	}
	if c.wbuf != nil {
		c.limits.buffers.Put(c.wbuf)
	}
	*c = Connection{fd: -1, limits: c.limits}
}

func (c *Connection) FD() int             { return c.fd }
func (c *Connection) State() State        { return c.state }
func (c *Connection) Requests() int       { return c.requests }
func (c *Connection) Reason() CloseReason { return c.reason }
func (c *Connection) Buffered() int       { return len(c.rbuf) }

// ReadSpace returns the free tail of the read buffer, growing it when
// full. Growth never exceeds the configured ceiling.
func (c *Connection) ReadSpace() []byte {
	if len(c.rbuf) == cap(c.rbuf) {
		size := min(max(2*cap(c.rbuf), c.limits.initialBuffer), c.limits.maxBuffer)
		c.rbuf = c.limits.buffers.Grow(c.rbuf, size)
	}
	return c.rbuf[len(c.rbuf):max(len(c.rbuf), min(cap(c.rbuf), c.limits.maxBuffer))]
}

// Ingest accounts n bytes read into ReadSpace and serves every complete
// request now buffered. Afterwards State is Writing when output is
// pending, Reading when more input is needed and Closing otherwise.
func (c *Connection) Ingest(n int) State {
	c.rbuf = c.rbuf[:len(c.rbuf)+n]

	off := 0
	for !c.closeAfterWrite {
		out := http.Parse(c.rbuf[off:])
		if out.Status == http.Incomplete {
			break
		}
		if out.Status == http.Malformed {
			c.closeWith(ReasonMalformed)
			break
		}

		off += out.Consumed
		c.serve(out.Request)
	}

	if c.closeAfterWrite {
		// anything after the last served request is discarded
		c.rbuf = c.rbuf[:0]
	} else {
		c.rbuf = c.rbuf[:copy(c.rbuf, c.rbuf[off:])]
		if len(c.rbuf) >= c.limits.maxBuffer {
			c.closeWith(ReasonBufferLimit)
		}
	}

	c.settle()
	return c.state
}

// serve dispatches one request and queues its serialized response
func (c *Connection) serve(req *http.Request) {
	c.state = StateDispatching
	c.requests++

	d := c.limits.dispatcher
	resp := d.Dispatch(req)

	keep := resp.KeepAlive && req.WantsKeepAlive()
	switch {
	case !keep:
		c.closeWith(ReasonNotKeepAlive)
	case c.limits.maxRequests > 0 && c.requests >= c.limits.maxRequests:
		keep = false
		c.closeWith(ReasonRequestCap)
	}
	resp.KeepAlive = keep

	if c.wbuf == nil {
		c.wbuf = c.limits.buffers.Get(c.limits.initialBuffer)
	}
	c.wbuf = d.serializer.Append(c.wbuf, resp)
	http.ReleaseRequest(req)
}

func (c *Connection) closeWith(reason CloseReason) {
	c.closeAfterWrite = true
	if c.reason == ReasonNone {
		c.reason = reason
	}
}

// settle picks the next state from buffered output and close intent
func (c *Connection) settle() {
	switch {
	case c.written < len(c.wbuf):
		c.state = StateWriting
	case c.closeAfterWrite:
		c.state = StateClosing
	default:
		c.state = StateReading
	}
}

// PendingWrite returns serialized bytes not yet sent
func (c *Connection) PendingWrite() []byte {
	return c.wbuf[c.written:]
}

// Wrote accounts n sent bytes and returns the resulting state
func (c *Connection) Wrote(n int) State {
	c.written += n
	if n > 0 {
		c.writeStalls = 0
	}
	if c.written >= len(c.wbuf) {
		c.wbuf = c.wbuf[:0]
		c.written = 0
	}
	c.settle()
	return c.state
}

// Close marks the connection for closing once pending output is sent
func (c *Connection) Close(reason CloseReason) State {
	c.closeWith(reason)
	c.settle()
	return c.state
}
