package poller

import (
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Kind tags what a completion finished
type Kind uint8

const (
	KindAccept Kind = iota + 1
	KindRead
	KindWrite
)

func (k Kind) String() string {
	switch k {
	case KindAccept:
		return "accept"
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Backend names accepted by New
const (
	BackendEpoll = "epoll"
	BackendUring = "uring"
)

// TagMask bounds the bits of a tag that survive a round trip
const TagMask = 1<<24 - 1

var (
	ErrUnsupported    = errors.New("poller backend not supported on this platform")
	ErrUnknownBackend = errors.New("unknown poller backend")
)

// Completion is the result of one submitted operation.
// Res is the byte count for reads and writes, the new descriptor for
// accepts, or a negated errno.
type Completion struct {
	Kind Kind
	FD   int
	Res  int
	Tag  uint32
}

// Err returns the errno carried by a negative Res
func (c Completion) Err() error {
	if c.Res >= 0 {
		return nil
	}
	return syscall.Errno(-c.Res)
}

// Ring is a completion queue. Every operation submitted through Accept,
// Read or Write produces exactly one Completion, including operations
// interrupted by Cancel. Buffers must stay untouched until then.
type Ring interface {
	Accept(lfd int, tag uint32) error
	Read(fd int, buf []byte, tag uint32) error
	Write(fd int, buf []byte, tag uint32) error

	// Cancel forces any pending operation on fd to complete early
	Cancel(fd int) error

	// Wait fills out with up to len(out) completions, blocking at most timeout
	Wait(out []Completion, timeout time.Duration) (int, error)

	Close() error
}

// errnoRes converts err into a negative Res value
func errnoRes(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return -int(errno)
	}
	return -int(syscall.EIO)
}
