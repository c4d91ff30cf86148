package core

import (
	"errors"
	"time"
)

// Reactor tuning
const (
	waitTick      = 100 * time.Millisecond
	sweepInterval = time.Second
	batchSize     = 256
	ringEntries   = 4096
)

// Error definitions
var (
	ErrReactorUnsupported = errors.New("reactor scheduler not supported on this platform")
	ErrUnknownScheduler   = errors.New("unknown scheduler")
)
