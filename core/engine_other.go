//go:build !linux

package core

import (
	"context"
	"net"
)

// Engine is only available on linux. Elsewhere Serve fails with
// ErrReactorUnsupported and the workers scheduler should be used.
type Engine struct {
	ready chan struct{}
}

func NewEngine(d *Dispatcher, opts Options) *Engine {
	return &Engine{ready: make(chan struct{})}
}

func (e *Engine) Ready() <-chan struct{} { return e.ready }

func (e *Engine) Addr() net.Addr { return nil }

func (e *Engine) Stats() StatsSnapshot {
	return StatsSnapshot{Scheduler: SchedulerReactor, Closes: map[string]uint64{}}
}

func (e *Engine) Serve(ctx context.Context) error {
	return ErrReactorUnsupported
}
