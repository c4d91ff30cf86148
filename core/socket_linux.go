//go:build linux

package core

import (
	"errors"

	"golang.org/x/sys/unix"
)

// configureFD applies per-connection socket options once, right after accept
func configureFD(fd int, o Options) error {
	var errs []error

	if o.NoDelay {
		errs = append(errs, unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1))
	}
	if o.KeepAliveInterval > 0 {
		secs := max(int(o.KeepAliveInterval.Seconds()), 1)
		errs = append(errs,
			unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1),
			unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs),
			unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, secs),
		)
	}

	return errors.Join(errs...)
}
