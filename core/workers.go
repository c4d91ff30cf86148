package core

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"

	"github.com/searchktools/wirehttp/core/pools"
)

// WorkerServer serves each connection on a goroutine of a fixed pool
// using blocking reads and writes with deadlines. The listener admits no
// more connections than there are workers.
type WorkerServer struct {
	opts   Options
	log    zerolog.Logger
	limits *connLimits

	pool     *pools.WorkerPool
	conns    *pools.ObjectPool[*Connection]
	buffers  *pools.BytePool
	registry *xsync.MapOf[net.Conn, *Connection]
	stats    Stats

	addr      net.Addr
	draining  atomic.Bool
	ready     chan struct{}
	readyOnce sync.Once
}

func NewWorkerServer(d *Dispatcher, opts Options) *WorkerServer {
	opts = opts.withDefaults()
	buffers := pools.NewBytePool()
	limits := &connLimits{
		initialBuffer: opts.InitialBufferBytes,
		maxBuffer:     opts.MaxBufferBytes,
		maxRequests:   opts.MaxRequestsPerConn,
		buffers:       buffers,
		dispatcher:    d,
	}

	return &WorkerServer{
		opts:     opts,
		log:      opts.Logger.With().Str("scheduler", SchedulerWorkers).Logger(),
		limits:   limits,
		pool:     pools.NewWorkerPool(opts.Workers, opts.Workers),
		conns:    pools.NewObjectPool(func() *Connection { return newConnection(limits) }),
		buffers:  buffers,
		registry: xsync.NewMapOf[net.Conn, *Connection](),
		ready:    make(chan struct{}),
	}
}

func (s *WorkerServer) Ready() <-chan struct{} { return s.ready }

func (s *WorkerServer) Addr() net.Addr { return s.addr }

func (s *WorkerServer) Stats() StatsSnapshot {
	snap := s.stats.snapshot(SchedulerWorkers, s.buffers)
	snap.Connections = s.conns.Stats()
	ws := s.pool.Stats()
	snap.Workers = &ws
	return snap
}

// Serve accepts until ctx is cancelled, then waits up to ShutdownGrace
// for in-flight connections
func (s *WorkerServer) Serve(ctx context.Context) error {
	l, err := listen(s.opts)
	if err != nil {
		return err
	}
	l = netutil.LimitListener(l, s.opts.Workers)
	s.addr = l.Addr()

	stop := context.AfterFunc(ctx, func() {
		s.draining.Store(true)
		l.Close()
		// wake connections blocked in Read
		s.registry.Range(func(nc net.Conn, _ *Connection) bool {
			nc.SetReadDeadline(time.Now())
			return true
		})
	})
	defer stop()

	s.log.Info().
		Str("addr", s.addr.String()).
		Int("workers", s.opts.Workers).
		Msg("workers listening")
	s.readyOnce.Do(func() { close(s.ready) })

	err = s.acceptLoop(ctx, l)
	s.drain()
	return err
}

func (s *WorkerServer) acceptLoop(ctx context.Context, l net.Listener) error {
	var backoff time.Duration
	for {
		nc, err := l.Accept()
		if err != nil {
			if s.draining.Load() {
				return nil
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				backoff = min(max(2*backoff, 5*time.Millisecond), time.Second)
				s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("accept failed")
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		if err := s.pool.Submit(ctx, func() { s.handle(nc) }); err != nil {
			nc.Close()
			s.stats.onReject()
		}
	}
}

// drain waits for workers and force closes whatever outlives the grace period
func (s *WorkerServer) drain() {
	done := make(chan struct{})
	go func() {
		s.pool.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.opts.ShutdownGrace):
		s.log.Warn().Int("live", s.registry.Size()).Msg("shutdown grace expired")
		s.registry.Range(func(nc net.Conn, _ *Connection) bool {
			nc.Close()
			return true
		})
		<-done
	}
	s.log.Info().Msg("workers stopped")
}

func (s *WorkerServer) handle(nc net.Conn) {
	conn := s.conns.Get()
	conn.open(-1, 0, time.Now())
	s.registry.Store(nc, conn)
	s.stats.onAccept()

	defer func() {
		s.registry.Delete(nc)
		nc.Close()
		s.stats.onClose(conn)
		s.log.Debug().
			Str("remote", nc.RemoteAddr().String()).
			Int("requests", conn.requests).
			Stringer("reason", conn.reason).
			Msg("connection closed")
		s.conns.Put(conn)
	}()

	if tc, ok := nc.(*net.TCPConn); ok {
		tc.SetNoDelay(s.opts.NoDelay)
		if s.opts.KeepAliveInterval > 0 {
			tc.SetKeepAlive(true)
			tc.SetKeepAlivePeriod(s.opts.KeepAliveInterval)
		}
	}

	for {
		// between requests the idle timeout applies
		timeout := s.opts.ReadTimeout
		idle := conn.requests > 0 && conn.Buffered() == 0
		if idle && s.opts.IdleTimeout > 0 {
			timeout = s.opts.IdleTimeout
		}
		if timeout > 0 {
			nc.SetReadDeadline(time.Now().Add(timeout))
		}
		if s.draining.Load() {
			conn.Close(ReasonShutdown)
			return
		}

		n, err := nc.Read(conn.ReadSpace())
		if n > 0 {
			conn.lastActive = time.Now()
			state := conn.Ingest(n)
			if state == StateWriting {
				if reason, werr := s.writeAll(nc, conn); werr != nil {
					conn.Close(reason)
					return
				}
				state = conn.State()
			}
			if state == StateClosing {
				return
			}
		}
		if err != nil {
			conn.Close(s.readFailure(err, idle))
			return
		}
	}
}

func (s *WorkerServer) readFailure(err error, idle bool) CloseReason {
	switch {
	case s.draining.Load():
		return ReasonShutdown
	case errors.Is(err, io.EOF):
		return ReasonPeerClosed
	case isTimeout(err) && idle:
		return ReasonIdle
	case isTimeout(err):
		return ReasonReadTimeout
	}
	return ReasonTransport
}

// writeAll flushes pending output. Writes that time out without progress
// are retried with exponential backoff up to WriteRetries times.
func (s *WorkerServer) writeAll(nc net.Conn, conn *Connection) (CloseReason, error) {
	for len(conn.PendingWrite()) > 0 {
		if s.opts.WriteTimeout > 0 {
			nc.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
		}
		n, err := nc.Write(conn.PendingWrite())
		conn.Wrote(n)
		if err == nil {
			continue
		}
		if !isTimeout(err) {
			return ReasonTransport, err
		}
		if n == 0 {
			conn.writeStalls++
			if conn.writeStalls > s.opts.WriteRetries {
				return ReasonWriteStalled, err
			}
			time.Sleep(s.opts.WriteBackoff << min(conn.writeStalls-1, 10))
		}
	}
	return ReasonNone, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
