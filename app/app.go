package app

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/wirehttp/config"
	"github.com/searchktools/wirehttp/core"
	"github.com/searchktools/wirehttp/core/middleware"
	"github.com/searchktools/wirehttp/core/observability"
	"github.com/searchktools/wirehttp/core/pools"
	"github.com/searchktools/wirehttp/core/router"
)

// App wires configuration, logging, routes and middleware into a server
type App struct {
	cfg     *config.Config
	log     zerolog.Logger
	routes  *router.Builder
	chain   *middleware.Chain
	monitor *observability.Monitor
	limiter *middleware.RateLimiter

	server atomic.Pointer[core.Server]
	ready  chan struct{}
}

// New creates an application with the default middleware: request
// logging, request IDs, CORS and, when configured, rate limiting
func New(cfg *config.Config) (*App, error) {
	log, err := NewLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		routes:  router.NewBuilder(),
		monitor: observability.NewMonitor(),
		ready:   make(chan struct{}),
	}

	a.chain = middleware.NewChain(
		middleware.Logger(log, a.monitor),
		middleware.RequestID(),
		middleware.CORS(middleware.DefaultCORSConfig),
	)
	if cfg.RateLimit > 0 {
		a.limiter = middleware.NewRateLimiter(cfg.RateLimit, cfg.RateWindow)
		a.chain.Use(a.limiter)
	}

	return a, nil
}

// NewLogger builds the process logger from the log level and format
func NewLogger(cfg *config.Config, w io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("%w: log level: %w", config.ErrInvalid, err)
	}

	out := w
	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).
		Level(level).
		With().
		Timestamp().
		Str("env", cfg.Env).
		Logger(), nil
}

// Routes returns the route builder. Routes must be registered before Run.
func (a *App) Routes() *router.Builder { return a.routes }

// Use appends middleware after the defaults
func (a *App) Use(mws ...middleware.Middleware) *App {
	a.chain.Use(mws...)
	return a
}

func (a *App) Logger() zerolog.Logger { return a.log }

func (a *App) Monitor() *observability.Monitor { return a.monitor }

// Stats returns server counters, or an empty snapshot before Run
func (a *App) Stats() core.StatsSnapshot {
	if srv := a.server.Load(); srv != nil {
		return (*srv).Stats()
	}
	return core.StatsSnapshot{Scheduler: a.cfg.Scheduler, Closes: map[string]uint64{}}
}

// Ready is closed once the server listens
func (a *App) Ready() <-chan struct{} { return a.ready }

// Addr is the bound address, nil before Ready
func (a *App) Addr() net.Addr {
	if srv := a.server.Load(); srv != nil {
		return (*srv).Addr()
	}
	return nil
}

// Run serves until ctx is cancelled
func (a *App) Run(ctx context.Context) error {
	prev := pools.ApplyGCConfig(pools.GCConfig{
		GCPercent:   a.cfg.GCPercent,
		MemoryLimit: a.cfg.MemoryLimit,
	})
	defer pools.ApplyGCConfig(prev)

	table, err := a.routes.Build()
	if err != nil {
		return fmt.Errorf("build routes: %w", err)
	}

	d := core.NewDispatcher(table, a.chain, a.cfg.Serializer(), a.log)
	srv, err := core.NewServer(d, a.cfg.Options(a.log))
	if err != nil {
		return err
	}
	a.server.Store(&srv)
	go func() {
		select {
		case <-srv.Ready():
			close(a.ready)
		case <-ctx.Done():
		}
	}()

	a.log.Info().
		Str("addr", a.cfg.Addr()).
		Str("scheduler", a.cfg.Scheduler).
		Int("routes", len(table.Routes())).
		Int("middleware", a.chain.Len()).
		Msg("server starting")

	if a.cfg.MetricsInterval > 0 {
		go a.watchHotspots(ctx)
	}

	if err := srv.Serve(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	a.log.Info().Msg("server stopped")
	return nil
}

// RunWithSignals serves until SIGINT or SIGTERM
func (a *App) RunWithSignals() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return a.Run(ctx)
}

// watchHotspots runs hotspot detection and logs newly found hotspots
func (a *App) watchHotspots(ctx context.Context) {
	go a.monitor.Run(ctx, a.cfg.MetricsInterval)

	ticker := time.NewTicker(a.cfg.MetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, h := range a.monitor.Hotspots() {
				a.log.Warn().
					Str("route", h.Label).
					Str("kind", h.Kind).
					Float64("impact", h.Impact).
					Msg(h.Details)
			}
			if a.limiter != nil {
				a.log.Debug().Int("clients", a.limiter.Clients()).Msg("rate limiter")
			}
		}
	}
}
