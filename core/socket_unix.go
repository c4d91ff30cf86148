//go:build unix

package core

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// listenSocket creates a non-blocking listening socket honouring the
// backlog and address reuse options
func listenSocket(o Options) (int, *net.TCPAddr, error) {
	addr, err := net.ResolveTCPAddr("tcp", o.Addr)
	if err != nil {
		return -1, nil, fmt.Errorf("resolve %q: %w", o.Addr, err)
	}

	family, sa := toSockaddr(addr)
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)

	fail := func(op string, err error) (int, *net.TCPAddr, error) {
		unix.Close(fd)
		return -1, nil, fmt.Errorf("%s %s: %w", op, o.Addr, err)
	}

	if o.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			return fail("setsockopt SO_REUSEADDR", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fail("bind", err)
	}
	if err := unix.Listen(fd, o.Backlog); err != nil {
		return fail("listen", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return fail("set nonblock", err)
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return fail("getsockname", err)
	}
	return fd, fromSockaddr(bound), nil
}

func toSockaddr(addr *net.TCPAddr) (int, unix.Sockaddr) {
	if ip4 := addr.IP.To4(); addr.IP == nil || ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			sa.Addr = [4]byte(ip4)
		}
		return unix.AF_INET, sa
	}
	return unix.AF_INET6, &unix.SockaddrInet6{Port: addr.Port, Addr: [16]byte(addr.IP.To16())}
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]).To16(), Port: sa.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(sa.Addr[:]), Port: sa.Port}
	}
	return &net.TCPAddr{}
}

// listen wraps a configured socket in a net.Listener
func listen(o Options) (net.Listener, error) {
	fd, _, err := listenSocket(o)
	if err != nil {
		return nil, err
	}
	f := os.NewFile(uintptr(fd), "wirehttp-listener")
	defer f.Close()

	return net.FileListener(f)
}
