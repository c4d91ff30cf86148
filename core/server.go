package core

import (
	"context"
	"fmt"
	"net"
)

// Server is implemented by both schedulers
type Server interface {
	// Serve blocks until ctx is cancelled and connections have drained
	Serve(ctx context.Context) error
	// Addr is valid once Ready is closed
	Addr() net.Addr
	Ready() <-chan struct{}
	Stats() StatsSnapshot
}

var (
	_ Server = (*Engine)(nil)
	_ Server = (*WorkerServer)(nil)
)

// NewServer returns the scheduler named by opts.Scheduler
func NewServer(d *Dispatcher, opts Options) (Server, error) {
	switch opts.Scheduler {
	case SchedulerReactor, "":
		return NewEngine(d, opts), nil
	case SchedulerWorkers:
		return NewWorkerServer(d, opts), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownScheduler, opts.Scheduler)
}
