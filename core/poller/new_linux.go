//go:build linux

package poller

import "fmt"

// New creates a ring for the named backend
func New(backend string, entries int) (Ring, error) {
	switch backend {
	case BackendEpoll, "":
		return NewEpollRing(entries)
	case BackendUring:
		return NewUringRing(uint32(entries))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}
