//go:build !linux

package poller

import "fmt"

// New always fails outside Linux; use the worker pool scheduler there
func New(backend string, entries int) (Ring, error) {
	switch backend {
	case BackendEpoll, BackendUring, "":
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, backend)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
}
