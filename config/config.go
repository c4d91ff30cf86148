package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"runtime"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/searchktools/wirehttp/core"
	"github.com/searchktools/wirehttp/core/http"
	"github.com/searchktools/wirehttp/core/poller"
)

// EnvPrefix prefixes environment overrides, e.g. WIREHTTP_READ_TIMEOUT
const EnvPrefix = "WIREHTTP"

var ErrInvalid = errors.New("invalid configuration")

// Config holds all application configuration.
// The config tags name the keys used by environment and JSON overrides.
type Config struct {
	Host string `config:"host"`
	Port int    `config:"port"`
	Env  string `config:"env"`

	Scheduler string `config:"scheduler"`
	Backend   string `config:"backend"`
	Workers   int    `config:"workers"`

	Backlog           int           `config:"backlog"`
	ReuseAddr         bool          `config:"reuse.addr"`
	NoDelay           bool          `config:"no.delay"`
	KeepAliveInterval time.Duration `config:"keepalive.interval"`
	ReadTimeout       time.Duration `config:"read.timeout"`
	WriteTimeout      time.Duration `config:"write.timeout"`
	IdleTimeout       time.Duration `config:"idle.timeout"`
	ShutdownGrace     time.Duration `config:"shutdown.grace"`

	InitialBufferBytes int           `config:"initial.buffer.bytes"`
	MaxBufferBytes     int           `config:"max.buffer.bytes"`
	MaxRequestsPerConn int           `config:"max.requests.per.conn"`
	MaxDescriptors     int           `config:"max.descriptors"`
	WriteRetries       int           `config:"write.retries"`
	WriteBackoff       time.Duration `config:"write.backoff"`

	// advertised in the Keep-Alive response header
	KeepAliveTimeoutHint time.Duration `config:"keepalive.timeout.hint"`
	KeepAliveMaxHint     int           `config:"keepalive.max.hint"`

	RateLimit       int           `config:"rate.limit"` // requests per client per window, 0 disables
	RateWindow      time.Duration `config:"rate.window"`
	MetricsInterval time.Duration `config:"metrics.interval"`

	LogLevel  string `config:"log.level"`
	LogFormat string `config:"log.format"`

	GCPercent   int   `config:"gc.percent"`
	MemoryLimit int64 `config:"memory.limit"`

	ConfigFile string `config:"-"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Host:                 "",
		Port:                 8080,
		Env:                  "development",
		Scheduler:            core.SchedulerReactor,
		Backend:              poller.BackendEpoll,
		Workers:              runtime.NumCPU() * 64,
		Backlog:              1024,
		ReuseAddr:            true,
		NoDelay:              true,
		KeepAliveInterval:    120 * time.Second,
		ReadTimeout:          10 * time.Second,
		WriteTimeout:         10 * time.Second,
		IdleTimeout:          60 * time.Second,
		ShutdownGrace:        5 * time.Second,
		InitialBufferBytes:   4 << 10,
		MaxBufferBytes:       1 << 20,
		MaxRequestsPerConn:   1000,
		MaxDescriptors:       65536,
		WriteRetries:         8,
		WriteBackoff:         100 * time.Microsecond,
		KeepAliveTimeoutHint: 5 * time.Second,
		KeepAliveMaxHint:     0,
		RateLimit:            0,
		RateWindow:           time.Second,
		MetricsInterval:      10 * time.Second,
		LogLevel:             "info",
		LogFormat:            "console",
		GCPercent:            0,
		MemoryLimit:          0,
	}
}

func (c *Config) flags(fs *flag.FlagSet) {
	fs.StringVar(&c.Host, "host", c.Host, "Listen host, empty for all interfaces")
	fs.IntVar(&c.Port, "port", c.Port, "HTTP server port")
	fs.StringVar(&c.Env, "env", c.Env, "Environment (development/production)")
	fs.StringVar(&c.Scheduler, "scheduler", c.Scheduler, "Connection scheduler (reactor/workers)")
	fs.StringVar(&c.Backend, "backend", c.Backend, "Reactor completion backend (epoll/uring)")
	fs.IntVar(&c.Workers, "workers", c.Workers, "Worker pool size")
	fs.IntVar(&c.Backlog, "backlog", c.Backlog, "Listen backlog")
	fs.BoolVar(&c.ReuseAddr, "reuse-addr", c.ReuseAddr, "Set SO_REUSEADDR on the listener")
	fs.BoolVar(&c.NoDelay, "no-delay", c.NoDelay, "Set TCP_NODELAY on connections")
	fs.DurationVar(&c.KeepAliveInterval, "keepalive-interval", c.KeepAliveInterval, "TCP keepalive interval, 0 disables")
	fs.DurationVar(&c.ReadTimeout, "read-timeout", c.ReadTimeout, "Read timeout")
	fs.DurationVar(&c.WriteTimeout, "write-timeout", c.WriteTimeout, "Write timeout")
	fs.DurationVar(&c.IdleTimeout, "idle-timeout", c.IdleTimeout, "Idle keep-alive connection timeout")
	fs.DurationVar(&c.ShutdownGrace, "shutdown-grace", c.ShutdownGrace, "Time allowed for connections to drain on shutdown")
	fs.IntVar(&c.InitialBufferBytes, "initial-buffer", c.InitialBufferBytes, "Initial read buffer size in bytes")
	fs.IntVar(&c.MaxBufferBytes, "max-buffer", c.MaxBufferBytes, "Read buffer ceiling in bytes")
	fs.IntVar(&c.MaxRequestsPerConn, "max-requests", c.MaxRequestsPerConn, "Requests served per connection, 0 for unlimited")
	fs.IntVar(&c.MaxDescriptors, "max-descriptors", c.MaxDescriptors, "Descriptor table size of the reactor")
	fs.IntVar(&c.WriteRetries, "write-retries", c.WriteRetries, "Write attempts without progress before closing")
	fs.DurationVar(&c.WriteBackoff, "write-backoff", c.WriteBackoff, "Base backoff between stalled writes")
	fs.DurationVar(&c.KeepAliveTimeoutHint, "keepalive-timeout-hint", c.KeepAliveTimeoutHint, "Keep-Alive timeout advertised to clients")
	fs.IntVar(&c.KeepAliveMaxHint, "keepalive-max-hint", c.KeepAliveMaxHint, "Keep-Alive max advertised to clients, 0 uses max-requests")
	fs.IntVar(&c.RateLimit, "rate-limit", c.RateLimit, "Requests per client per window, 0 disables")
	fs.DurationVar(&c.RateWindow, "rate-window", c.RateWindow, "Rate limit window")
	fs.DurationVar(&c.MetricsInterval, "metrics-interval", c.MetricsInterval, "Hotspot detection interval")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format (console/json)")
	fs.IntVar(&c.GCPercent, "gc-percent", c.GCPercent, "GOGC override, 0 keeps the runtime setting")
	fs.Int64Var(&c.MemoryLimit, "memory-limit", c.MemoryLimit, "Soft memory limit in bytes, 0 for none")
	fs.StringVar(&c.ConfigFile, "config", c.ConfigFile, "JSON configuration file")
}

// Load builds the configuration from defaults, an optional JSON file,
// WIREHTTP_* environment variables and finally command line flags, each
// overriding the previous
func Load(name string, args []string) (*Config, error) {
	cfg := Default()

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	cfg.flags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	m := NewManager()
	if cfg.ConfigFile != "" {
		if err := m.LoadFromJSON(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}
	m.LoadFromEnv(EnvPrefix)
	if err := m.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	// flags win over file and environment
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no server can run with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
		}
	}

	check(c.Port >= 0 && c.Port <= 65535, "port %d out of range", c.Port)
	check(c.Scheduler == core.SchedulerReactor || c.Scheduler == core.SchedulerWorkers,
		"unknown scheduler %q", c.Scheduler)
	check(c.Backend == poller.BackendEpoll || c.Backend == poller.BackendUring,
		"unknown backend %q", c.Backend)
	check(c.Workers > 0, "workers must be positive")
	check(c.Backlog > 0, "backlog must be positive")
	check(c.InitialBufferBytes > 0, "initial buffer must be positive")
	check(c.MaxBufferBytes >= c.InitialBufferBytes,
		"max buffer %d below initial buffer %d", c.MaxBufferBytes, c.InitialBufferBytes)
	check(c.MaxRequestsPerConn >= 0, "max requests must not be negative")
	check(c.MaxDescriptors > 0, "max descriptors must be positive")
	check(c.WriteRetries >= 0, "write retries must not be negative")
	check(c.KeepAliveMaxHint >= 0, "keep-alive max hint must not be negative")
	check(c.RateLimit >= 0, "rate limit must not be negative")
	check(c.RateLimit == 0 || c.RateWindow > 0, "rate window must be positive")
	check(c.LogFormat == "console" || c.LogFormat == "json", "unknown log format %q", c.LogFormat)
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		check(false, "log level: %v", err)
	}

	return errors.Join(errs...)
}

// Addr is the listen address
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Options maps the configuration onto transport options
func (c *Config) Options(log zerolog.Logger) core.Options {
	return core.Options{
		Addr:               c.Addr(),
		Scheduler:          c.Scheduler,
		Backend:            c.Backend,
		Workers:            c.Workers,
		Backlog:            c.Backlog,
		ReuseAddr:          c.ReuseAddr,
		NoDelay:            c.NoDelay,
		KeepAliveInterval:  c.KeepAliveInterval,
		ReadTimeout:        c.ReadTimeout,
		WriteTimeout:       c.WriteTimeout,
		IdleTimeout:        c.IdleTimeout,
		InitialBufferBytes: c.InitialBufferBytes,
		MaxBufferBytes:     c.MaxBufferBytes,
		MaxRequestsPerConn: c.MaxRequestsPerConn,
		MaxDescriptors:     c.MaxDescriptors,
		WriteRetries:       c.WriteRetries,
		WriteBackoff:       c.WriteBackoff,
		ShutdownGrace:      c.ShutdownGrace,
		Logger:             log,
	}
}

// Serializer returns the response serializer with the configured hints.
// Without an explicit max hint the per connection request cap is
// advertised.
func (c *Config) Serializer() http.Serializer {
	maxHint := c.KeepAliveMaxHint
	if maxHint == 0 {
		maxHint = c.MaxRequestsPerConn
	}
	if maxHint == 0 {
		maxHint = http.DefaultSerializer.KeepAliveMax
	}
	return http.Serializer{
		KeepAliveTimeout: c.KeepAliveTimeoutHint,
		KeepAliveMax:     maxHint,
	}
}
