//go:build linux
// +build linux

package poller

import (
	"golang.org/x/sys/unix"
)

const (
	connEvents = unix.EPOLLET | unix.EPOLLONESHOT | unix.EPOLLRDHUP
	hupEvents  = unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR
)

// EpollPoller is an epoll-based I/O multiplexer. The 64-bit epoll data
// word carries the registration token, split across the Fd and Pad fields.
type EpollPoller struct {
	epfd   int
	events []unix.EpollEvent
}

// NewPoller creates a new Poller returning at most maxEvents per Wait
func NewPoller(maxEvents int) (Poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	if maxEvents <= 0 {
		maxEvents = 1024
	}

	return &EpollPoller{
		epfd:   epfd,
		events: make([]unix.EpollEvent, maxEvents),
	}, nil
}

func epollEvent(events uint32, token uint64) *unix.EpollEvent {
	return &unix.EpollEvent{
		Events: events,
		Fd:     int32(uint32(token)),
		Pad:    int32(uint32(token >> 32)),
	}
}

func eventToken(ev *unix.EpollEvent) uint64 {
	return uint64(uint32(ev.Fd)) | uint64(uint32(ev.Pad))<<32
}

// AddListener adds a listening socket to the watch list
func (p *EpollPoller) AddListener(fd int, token uint64) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, epollEvent(unix.EPOLLIN, token))
}

// Add adds a connection socket to the watch list
func (p *EpollPoller) Add(fd int, token uint64) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, epollEvent(unix.EPOLLIN|connEvents, token))
}

// Rearm re-enables a one-shot descriptor
func (p *EpollPoller) Rearm(fd int, token uint64, interest Interest) error {
	var events uint32 = unix.EPOLLIN
	if interest == Writable {
		events = unix.EPOLLOUT
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, epollEvent(events|connEvents, token))
}

// Remove removes a file descriptor from the watch list
func (p *EpollPoller) Remove(fd int) error {
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

// Wait waits for I/O events
func (p *EpollPoller) Wait(timeout int) ([]Event, error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}

	if n <= 0 {
		return nil, nil
	}

	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ev := &p.events[i]
		out = append(out, Event{
			Token:    eventToken(ev),
			Readable: ev.Events&unix.EPOLLIN != 0,
			Writable: ev.Events&unix.EPOLLOUT != 0,
			Hangup:   ev.Events&hupEvents != 0,
		})
	}

	return out, nil
}

// Close closes the Poller
func (p *EpollPoller) Close() error {
	return unix.Close(p.epfd)
}
