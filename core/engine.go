//go:build linux

package core

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/searchktools/wirehttp/core/poller"
	"github.com/searchktools/wirehttp/core/pools"
)

// Engine is the completion-queue reactor. A single goroutine owns the
// descriptor table and every connection in it.
type Engine struct {
	opts   Options
	log    zerolog.Logger
	limits *connLimits

	ring        poller.Ring
	lfd         int
	addr        *net.TCPAddr
	acceptArmed bool
	draining    bool

	table []*Connection // indexed by descriptor
	live  int
	gen   uint32

	conns   *pools.ObjectPool[*Connection]
	buffers *pools.BytePool
	stats   Stats

	ready     chan struct{}
	readyOnce sync.Once
}

// NewEngine creates a reactor serving through d
func NewEngine(d *Dispatcher, opts Options) *Engine {
	opts = opts.withDefaults()
	buffers := pools.NewBytePool()
	limits := &connLimits{
		initialBuffer: opts.InitialBufferBytes,
		maxBuffer:     opts.MaxBufferBytes,
		maxRequests:   opts.MaxRequestsPerConn,
		buffers:       buffers,
		dispatcher:    d,
	}

	return &Engine{
		opts:    opts,
		log:     opts.Logger.With().Str("scheduler", SchedulerReactor).Logger(),
		limits:  limits,
		lfd:     -1,
		table:   make([]*Connection, opts.MaxDescriptors),
		conns:   pools.NewObjectPool(func() *Connection { return newConnection(limits) }),
		buffers: buffers,
		ready:   make(chan struct{}),
	}
}

// Ready is closed once the listener is bound
func (e *Engine) Ready() <-chan struct{} { return e.ready }

// Addr is the bound address, valid after Ready
func (e *Engine) Addr() net.Addr {
	if e.addr == nil {
		return nil
	}
	return e.addr
}

func (e *Engine) Stats() StatsSnapshot {
	snap := e.stats.snapshot(SchedulerReactor, e.buffers)
	snap.Connections = e.conns.Stats()
	return snap
}

// Serve listens and runs the event loop until ctx is cancelled and every
// connection has drained, or the grace period ends
func (e *Engine) Serve(ctx context.Context) error {
	lfd, addr, err := listenSocket(e.opts)
	if err != nil {
		return err
	}
	e.lfd, e.addr = lfd, addr
	defer unix.Close(lfd)

	ring, err := poller.New(e.opts.Backend, ringEntries)
	if err != nil {
		return fmt.Errorf("create %s ring: %w", e.opts.Backend, err)
	}
	e.ring = ring
	defer ring.Close()

	e.log.Info().
		Str("addr", addr.String()).
		Str("backend", e.opts.Backend).
		Int("max_descriptors", len(e.table)).
		Msg("reactor listening")
	e.readyOnce.Do(func() { close(e.ready) })

	return e.loop(ctx)
}

func (e *Engine) loop(ctx context.Context) error {
	batch := make([]poller.Completion, batchSize)
	lastSweep := time.Now()
	var deadline time.Time

	for {
		if !e.draining && ctx.Err() != nil {
			e.beginShutdown()
			deadline = time.Now().Add(e.opts.ShutdownGrace)
		}
		if e.draining {
			if e.live == 0 && !e.acceptArmed {
				e.log.Info().Msg("reactor stopped")
				return nil
			}
			if time.Now().After(deadline) {
				e.log.Warn().Int("live", e.live).Msg("shutdown grace expired")
				e.forceCloseAll()
				return nil
			}
		} else if !e.acceptArmed {
			e.armAccept()
		}

		n, err := e.ring.Wait(batch, waitTick)
		if err != nil {
			return fmt.Errorf("ring wait: %w", err)
		}
		for i := range batch[:n] {
			e.handle(batch[i])
		}

		if now := time.Now(); now.Sub(lastSweep) >= sweepInterval {
			e.sweep(now)
			lastSweep = now
		}
	}
}

func (e *Engine) handle(c poller.Completion) {
	if c.Kind == poller.KindAccept {
		e.onAccept(c)
		return
	}

	if c.FD < 0 || c.FD >= len(e.table) {
		return
	}
	conn := e.table[c.FD]
	if conn == nil || conn.tag != c.Tag {
		// completion for a descriptor that has been recycled
		return
	}
	conn.inflight = false

	if conn.state == StateClosing {
		e.finalize(conn)
		return
	}

	switch c.Kind {
	case poller.KindRead:
		e.onRead(conn, c)
	case poller.KindWrite:
		e.onWrite(conn, c)
	}
}

func (e *Engine) armAccept() {
	if err := e.ring.Accept(e.lfd, 0); err != nil {
		e.log.Error().Err(err).Msg("arm accept")
		return
	}
	e.acceptArmed = true
}

func (e *Engine) onAccept(c poller.Completion) {
	e.acceptArmed = false

	if c.Res >= 0 {
		e.admit(c.Res)
	} else if err := c.Err(); !isTransient(err) && !e.draining {
		e.log.Warn().Err(err).Msg("accept failed")
	}

	if !e.draining {
		e.armAccept()
	}
}

// admit places a new descriptor in the table and arms its first read
func (e *Engine) admit(fd int) {
	if fd >= len(e.table) || e.table[fd] != nil {
		e.log.Warn().Int("fd", fd).Msg("descriptor rejected")
		unix.Close(fd)
		e.stats.onReject()
		return
	}

	if err := configureFD(fd, e.opts); err != nil {
		e.log.Debug().Err(err).Int("fd", fd).Msg("socket options")
	}

	conn := e.conns.Get()
	conn.open(fd, e.nextTag(), time.Now())
	e.table[fd] = conn
	e.live++
	e.stats.onAccept()

	e.armRead(conn)
}

func (e *Engine) nextTag() uint32 {
	e.gen = (e.gen + 1) & poller.TagMask
	if e.gen == 0 {
		e.gen = 1
	}
	return e.gen
}

func (e *Engine) armRead(conn *Connection) {
	if err := e.ring.Read(conn.fd, conn.ReadSpace(), conn.tag); err != nil {
		e.log.Debug().Err(err).Int("fd", conn.fd).Msg("arm read")
		e.evict(conn, ReasonTransport)
		return
	}
	conn.inflight = true
}

func (e *Engine) armWrite(conn *Connection) {
	if err := e.ring.Write(conn.fd, conn.PendingWrite(), conn.tag); err != nil {
		e.log.Debug().Err(err).Int("fd", conn.fd).Msg("arm write")
		e.evict(conn, ReasonTransport)
		return
	}
	conn.inflight = true
}

func (e *Engine) onRead(conn *Connection, c poller.Completion) {
	switch {
	case c.Res == 0:
		e.evict(conn, ReasonPeerClosed)
		return
	case c.Res < 0:
		if isTransient(c.Err()) {
			e.armRead(conn)
			return
		}
		e.evict(conn, ReasonTransport)
		return
	}

	conn.lastActive = time.Now()
	e.advance(conn, conn.Ingest(c.Res))
}

func (e *Engine) onWrite(conn *Connection, c poller.Completion) {
	n := c.Res
	if n < 0 {
		if !isTransient(c.Err()) {
			e.evict(conn, ReasonTransport)
			return
		}
		n = 0
	}
	if n == 0 {
		conn.writeStalls++
		if conn.writeStalls > e.opts.WriteRetries {
			e.evict(conn, ReasonWriteStalled)
			return
		}
	} else {
		conn.lastActive = time.Now()
	}

	e.advance(conn, conn.Wrote(n))
}

// advance arms the operation the connection state calls for
func (e *Engine) advance(conn *Connection, state State) {
	switch state {
	case StateWriting:
		e.armWrite(conn)
	case StateReading:
		e.armRead(conn)
	default:
		e.evict(conn, conn.reason)
	}
}

// evict closes conn now, or once its in-flight operation completes
func (e *Engine) evict(conn *Connection, reason CloseReason) {
	if conn.reason == ReasonNone {
		conn.reason = reason
	}
	conn.state = StateClosing
	if conn.inflight {
		if err := e.ring.Cancel(conn.fd); err != nil {
			e.log.Debug().Err(err).Int("fd", conn.fd).Msg("cancel")
		}
		return
	}
	e.finalize(conn)
}

func (e *Engine) finalize(conn *Connection) {
	fd := conn.fd
	_ = e.ring.Cancel(fd)
	unix.Close(fd)

	e.table[fd] = nil
	e.live--
	e.stats.onClose(conn)
	e.log.Debug().
		Int("fd", fd).
		Int("requests", conn.requests).
		Stringer("reason", conn.reason).
		Msg("connection closed")

	e.conns.Put(conn)
}

// sweep evicts connections that made no progress in time: idle keep-alive
// connections after IdleTimeout, partial requests after ReadTimeout and
// blocked responses after WriteTimeout
func (e *Engine) sweep(now time.Time) {
	if e.live == 0 {
		return
	}
	for _, conn := range e.table {
		if conn == nil {
			continue
		}
		if reason, expired := e.expired(conn, now); expired {
			e.evict(conn, reason)
		}
	}
}

func (e *Engine) expired(conn *Connection, now time.Time) (CloseReason, bool) {
	quiet := now.Sub(conn.lastActive)

	switch conn.state {
	case StateReading:
		if conn.requests > 0 && conn.Buffered() == 0 {
			return ReasonIdle, e.opts.IdleTimeout > 0 && quiet > e.opts.IdleTimeout
		}
		return ReasonReadTimeout, e.opts.ReadTimeout > 0 && quiet > e.opts.ReadTimeout
	case StateWriting:
		return ReasonWriteStalled, e.opts.WriteTimeout > 0 && quiet > e.opts.WriteTimeout
	}
	return ReasonNone, false
}

// beginShutdown stops accepting and closes idle connections. Connections
// with pending output close after it is written.
func (e *Engine) beginShutdown() {
	e.draining = true
	e.log.Info().Int("live", e.live).Msg("reactor draining")

	if e.acceptArmed {
		if err := e.ring.Cancel(e.lfd); err != nil {
			e.log.Debug().Err(err).Msg("cancel accept")
		}
	}
	for _, conn := range e.table {
		if conn == nil || conn.state == StateClosing {
			continue
		}
		if conn.state == StateWriting {
			conn.closeWith(ReasonShutdown)
			continue
		}
		e.evict(conn, ReasonShutdown)
	}
}

// forceCloseAll closes what is left after the grace period. Buffers of
// connections with an operation still in flight are not recycled.
func (e *Engine) forceCloseAll() {
	for fd, conn := range e.table {
		if conn == nil {
			continue
		}
		if !conn.inflight {
			e.finalize(conn)
			continue
		}
		unix.Close(fd)
		e.table[fd] = nil
		e.live--
		e.stats.onClose(conn)
	}
}

// isTransient reports errors after which the operation is simply retried
func isTransient(err error) bool {
	return errors.Is(err, unix.EAGAIN) ||
		errors.Is(err, unix.EINTR) ||
		errors.Is(err, unix.ECONNABORTED)
}
