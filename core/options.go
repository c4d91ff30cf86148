package core

import (
	"runtime"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler names
const (
	SchedulerReactor = "reactor"
	SchedulerWorkers = "workers"
)

// Options is the transport configuration shared by both schedulers
type Options struct {
	Addr      string
	Scheduler string
	Backend   string // poller backend for the reactor
	Workers   int    // worker pool size, also the connection bound

	Backlog           int
	ReuseAddr         bool
	NoDelay           bool
	KeepAliveInterval time.Duration // TCP keepalive probe interval, 0 disables
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	InitialBufferBytes int
	MaxBufferBytes     int
	MaxRequestsPerConn int
	MaxDescriptors     int

	WriteRetries int
	WriteBackoff time.Duration

	ShutdownGrace time.Duration

	Logger zerolog.Logger
}

// DefaultOptions mirrors the defaults of config.Default
func DefaultOptions() Options {
	return Options{
		Addr:               ":8080",
		Scheduler:          SchedulerReactor,
		Backend:            "epoll",
		Workers:            runtime.NumCPU() * 64,
		Backlog:            1024,
		ReuseAddr:          true,
		NoDelay:            true,
		KeepAliveInterval:  120 * time.Second,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		IdleTimeout:        60 * time.Second,
		InitialBufferBytes: 4 << 10,
		MaxBufferBytes:     1 << 20,
		MaxRequestsPerConn: 1000,
		MaxDescriptors:     65536,
		WriteRetries:       8,
		WriteBackoff:       100 * time.Microsecond,
		ShutdownGrace:      5 * time.Second,
		Logger:             zerolog.Nop(),
	}
}

// withDefaults fills zero values from DefaultOptions
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Addr == "" {
		o.Addr = d.Addr
	}
	if o.Workers <= 0 {
		o.Workers = d.Workers
	}
	if o.Backlog <= 0 {
		o.Backlog = d.Backlog
	}
	if o.InitialBufferBytes <= 0 {
		o.InitialBufferBytes = d.InitialBufferBytes
	}
	if o.MaxBufferBytes <= 0 {
		o.MaxBufferBytes = d.MaxBufferBytes
	}
	if o.InitialBufferBytes > o.MaxBufferBytes {
		o.InitialBufferBytes = o.MaxBufferBytes
	}
	if o.MaxDescriptors <= 0 {
		o.MaxDescriptors = d.MaxDescriptors
	}
	if o.WriteRetries < 0 {
		o.WriteRetries = 0
	}
	if o.WriteBackoff <= 0 {
		o.WriteBackoff = d.WriteBackoff
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = d.ShutdownGrace
	}
	return o
}
