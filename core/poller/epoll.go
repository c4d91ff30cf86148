//go:build linux

package poller

import (
	"errors"
	"time"

	"golang.org/x/sys/unix"
)

type pendingOp struct {
	kind Kind
	buf  []byte
	tag  uint32
}

// EpollRing emulates completions on top of readiness. Operations are
// attempted eagerly; those that would block are parked behind a
// one-shot registration and retried when the descriptor becomes ready.
type EpollRing struct {
	epfd       int
	events     []unix.EpollEvent
	pending    map[int]pendingOp
	registered map[int]bool
	ready      []Completion
}

// NewEpollRing creates an epoll backed ring
func NewEpollRing(maxEvents int) (*EpollRing, error) {
	if maxEvents <= 0 {
		maxEvents = 1024
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}

	return &EpollRing{
		epfd:       epfd,
		events:     make([]unix.EpollEvent, maxEvents),
		pending:    make(map[int]pendingOp),
		registered: make(map[int]bool),
	}, nil
}

func (r *EpollRing) Accept(lfd int, tag uint32) error {
	return r.submit(lfd, pendingOp{kind: KindAccept, tag: tag})
}

func (r *EpollRing) Read(fd int, buf []byte, tag uint32) error {
	return r.submit(fd, pendingOp{kind: KindRead, buf: buf, tag: tag})
}

func (r *EpollRing) Write(fd int, buf []byte, tag uint32) error {
	return r.submit(fd, pendingOp{kind: KindWrite, buf: buf, tag: tag})
}

func (r *EpollRing) submit(fd int, op pendingOp) error {
	if res, done := attempt(fd, op); done {
		r.ready = append(r.ready, Completion{Kind: op.kind, FD: fd, Res: res, Tag: op.tag})
		return nil
	}
	if err := r.arm(fd, op.kind); err != nil {
		return err
	}
	r.pending[fd] = op
	return nil
}

// attempt runs the syscall behind op. done is false when it would block.
func attempt(fd int, op pendingOp) (res int, done bool) {
	for {
		var (
			n   int
			err error
		)
		switch op.kind {
		case KindAccept:
			n, _, err = unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		case KindRead:
			n, err = unix.Read(fd, op.buf)
		case KindWrite:
			n, err = unix.Write(fd, op.buf)
		}

		switch {
		case err == nil:
			return n, true
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			return 0, false
		case op.kind == KindAccept && errors.Is(err, unix.ECONNABORTED):
			continue
		default:
			return errnoRes(err), true
		}
	}
}

func (r *EpollRing) arm(fd int, kind Kind) error {
	events := uint32(unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT)
	if kind == KindWrite {
		events = uint32(unix.EPOLLOUT | unix.EPOLLONESHOT)
	}
	ev := unix.EpollEvent{Events: events, Fd: int32(fd)}

	if r.registered[fd] {
		err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
		if !errors.Is(err, unix.ENOENT) {
			return err
		}
		// closed and reused since it was registered
		delete(r.registered, fd)
	}
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		if !errors.Is(err, unix.EEXIST) {
			return err
		}
		if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
			return err
		}
	}
	r.registered[fd] = true
	return nil
}

// Cancel completes a parked operation on fd with ECANCELED and drops the
// descriptor from the epoll set
func (r *EpollRing) Cancel(fd int) error {
	if op, ok := r.pending[fd]; ok {
		delete(r.pending, fd)
		r.ready = append(r.ready, Completion{
			Kind: op.kind,
			FD:   fd,
			Res:  -int(unix.ECANCELED),
			Tag:  op.tag,
		})
	}
	if !r.registered[fd] {
		return nil
	}
	delete(r.registered, fd)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (r *EpollRing) Wait(out []Completion, timeout time.Duration) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}

	msec := int(timeout / time.Millisecond)
	if len(r.ready) > 0 {
		msec = 0
	}

	n, err := unix.EpollWait(r.epfd, r.events, msec)
	if err != nil && !errors.Is(err, unix.EINTR) {
		return 0, err
	}

	for i := 0; i < n; i++ {
		fd := int(r.events[i].Fd)
		op, ok := r.pending[fd]
		if !ok {
			continue
		}
		res, done := attempt(fd, op)
		if !done {
			if err := r.arm(fd, op.kind); err != nil {
				res, done = errnoRes(err), true
			}
		}
		if done {
			delete(r.pending, fd)
			r.ready = append(r.ready, Completion{Kind: op.kind, FD: fd, Res: res, Tag: op.tag})
		}
	}

	count := copy(out, r.ready)
	r.ready = r.ready[:copy(r.ready, r.ready[count:])]
	return count, nil
}

func (r *EpollRing) Close() error {
	return unix.Close(r.epfd)
}
