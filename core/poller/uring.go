//go:build linux

package poller

import (
	"errors"
	"fmt"
	"time"

	"github.com/godzie44/go-uring/uring"
	"golang.org/x/sys/unix"
)

// UringRing submits operations to io_uring (Linux 5.5+). Kind, tag and
// descriptor travel in the SQE user data.
type UringRing struct {
	ring     *uring.Ring
	inflight int
}

// NewUringRing creates a ring with the given submission queue size
func NewUringRing(entries uint32) (*UringRing, error) {
	if entries == 0 {
		entries = 256
	}
	ring, err := uring.New(entries)
	if err != nil {
		return nil, fmt.Errorf("io_uring setup: %w", err)
	}
	return &UringRing{ring: ring}, nil
}

func packUserData(kind Kind, fd int, tag uint32) uint64 {
	return uint64(kind)<<56 | uint64(tag&TagMask)<<32 | uint64(uint32(fd))
}

func unpackUserData(ud uint64) (Kind, int, uint32) {
	return Kind(ud >> 56), int(int32(uint32(ud))), uint32(ud>>32) & TagMask
}

func (r *UringRing) Accept(lfd int, tag uint32) error {
	return r.queue(uring.Accept(uintptr(lfd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC), KindAccept, lfd, tag)
}

func (r *UringRing) Read(fd int, buf []byte, tag uint32) error {
	return r.queue(uring.Recv(uintptr(fd), buf, 0), KindRead, fd, tag)
}

func (r *UringRing) Write(fd int, buf []byte, tag uint32) error {
	return r.queue(uring.Send(uintptr(fd), buf, unix.MSG_NOSIGNAL), KindWrite, fd, tag)
}

func (r *UringRing) queue(op uring.Operation, kind Kind, fd int, tag uint32) error {
	ud := packUserData(kind, fd, tag)
	err := r.ring.QueueSQE(op, 0, ud)
	if err != nil {
		// submission queue full: flush and retry once
		if _, serr := r.ring.Submit(); serr != nil {
			return serr
		}
		err = r.ring.QueueSQE(op, 0, ud)
	}
	if err != nil {
		return err
	}
	r.inflight++
	return nil
}

// Cancel shuts the socket down so a pending recv or send completes.
// Accepts on a listener complete with EINVAL.
func (r *UringRing) Cancel(fd int) error {
	err := unix.Shutdown(fd, unix.SHUT_RDWR)
	if errors.Is(err, unix.ENOTCONN) {
		return nil
	}
	return err
}

func (r *UringRing) Wait(out []Completion, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	if _, err := r.ring.Submit(); err != nil && !errors.Is(err, unix.EINTR) {
		return 0, err
	}
	if r.inflight == 0 {
		time.Sleep(timeout)
		return 0, nil
	}

	cqe, err := r.ring.WaitCQEventsWithTimeout(1, timeout)
	if err != nil {
		if errors.Is(err, unix.ETIME) || errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, err
	}

	n := 0
	for cqe != nil && n < len(out) {
		kind, fd, tag := unpackUserData(cqe.UserData)
		out[n] = Completion{Kind: kind, FD: fd, Res: int(cqe.Res), Tag: tag}
		r.ring.SeenCQE(cqe)
		r.inflight--
		n++

		if n == len(out) {
			break
		}
		if cqe, err = r.ring.PeekCQE(); err != nil {
			break
		}
	}
	return n, nil
}

func (r *UringRing) Close() error {
	return r.ring.Close()
}
