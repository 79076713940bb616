//go:build linux
// +build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7)-backed Reactor. UserData is round-tripped through the
// kernel via the epoll_event data union, which avoids a separate
// fd->userData side table on the hot readiness path. unix.EpollEvent
// exposes that 8-byte union as the adjacent Fd+Pad int32 fields, so the
// value is packed with an 8-byte store at &ev.Fd; the wakeup eventfd is
// told apart from connections by a sentinel userData, never by fd.

package reactor

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// wakeupSentinel is the userData registered for the wakeup eventfd; no
// connection registration ever carries it.
const wakeupSentinel = ^uint64(0)

type epollReactor struct {
	epfd     int
	wakeupFD int // eventfd used by Wakeup
}

// NewReactor constructs a Linux epoll-backed Reactor.
func NewReactor() (Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, err
	}
	r := &epollReactor{epfd: epfd, wakeupFD: wfd}
	ev := &unix.EpollEvent{Events: unix.EPOLLIN}
	storeUserData(ev, wakeupSentinel)
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, ev); err != nil {
		unix.Close(epfd)
		unix.Close(wfd)
		return nil, err
	}
	return r, nil
}

func toEpollEvents(ops Ops) uint32 {
	var e uint32
	if ops&Read != 0 {
		e |= unix.EPOLLIN
	}
	if ops&Write != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) Ops {
	var ops Ops
	if e&unix.EPOLLIN != 0 {
		ops |= Read
	}
	if e&unix.EPOLLOUT != 0 {
		ops |= Write
	}
	if e&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		ops |= Err
	}
	return ops
}

// storeUserData packs userData into the kernel's 8-byte data union,
// which unix.EpollEvent splits into Fd (offset 4) and Pad (offset 8).
// The store starts at &ev.Fd so it stays inside the struct.
func storeUserData(ev *unix.EpollEvent, userData uint64) {
	*(*uint64)(unsafe.Pointer(&ev.Fd)) = userData
}

func loadUserData(ev *unix.EpollEvent) uint64 {
	return *(*uint64)(unsafe.Pointer(&ev.Fd))
}

func (r *epollReactor) Register(fd uintptr, userData uint64, ops Ops) error {
	ev := &unix.EpollEvent{Events: toEpollEvents(ops)}
	storeUserData(ev, userData)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, int(fd), ev)
}

func (r *epollReactor) Modify(fd uintptr, userData uint64, ops Ops) error {
	// EPOLL_CTL_MOD replaces the whole event, data union included, so
	// the userData must be re-packed on every interest change.
	ev := &unix.EpollEvent{Events: toEpollEvents(ops)}
	storeUserData(ev, userData)
	return unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, int(fd), ev)
}

func (r *epollReactor) Unregister(fd uintptr) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	if err == unix.ENOENT {
		return nil
	}
	return err
}

func (r *epollReactor) Wait(timeoutMs int) ([]Event, error) {
	const maxEvents = 256
	var raw [maxEvents]unix.EpollEvent
	n, err := unix.EpollWait(r.epfd, raw[:], timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		ud := loadUserData(&raw[i])
		if ud == wakeupSentinel {
			var buf [8]byte
			_, _ = unix.Read(r.wakeupFD, buf[:])
			continue
		}
		out = append(out, Event{UserData: ud, Ready: fromEpollEvents(raw[i].Events)})
	}
	return out, nil
}

func (r *epollReactor) Wakeup() error {
	var one [8]byte
	one[0] = 1
	_, err := unix.Write(r.wakeupFD, one[:])
	return err
}

func (r *epollReactor) Close() error {
	unix.Close(r.wakeupFD)
	return unix.Close(r.epfd)
}
