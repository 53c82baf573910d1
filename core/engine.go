package core

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"runtime"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/searchktools/fast-httpd/core/observability"
	"github.com/searchktools/fast-httpd/core/poller"
	"github.com/searchktools/fast-httpd/core/pools"
	"github.com/searchktools/fast-httpd/logger"
)

// taskQueue is where the reactor hands connections to the workers
type taskQueue interface {
	Submit(task pools.Task) bool
	Pending() int
	Stats() pools.WorkerPoolStats
	Close()
}

// Engine is the reactor: one goroutine locked to an OS thread waits for
// readiness, accepts connections and performs socket I/O, while a fixed
// pool of workers parses requests and prepares responses.
type Engine struct {
	opts    Options
	srv     *server
	workers taskQueue
	limiter *rate.Limiter

	serving atomic.Bool
	closed  atomic.Bool
	addr    atomic.Pointer[net.TCPAddr]
	started time.Time
}

// NewEngine creates the poller, connection table and worker pool. A nil
// metrics sink disables metrics.
func NewEngine(opts Options, metrics observability.Metrics) (*Engine, error) {
	opts = opts.withDefaults()
	if opts.DocumentRoot == "" {
		return nil, ErrNoDocumentRoot
	}
	if metrics == nil {
		metrics = observability.Noop()
	}

	p, err := poller.NewPoller(opts.MaxEvents)
	if err != nil {
		return nil, fmt.Errorf("create poller: %w", err)
	}

	workers, err := pools.NewWorkerPool(opts.Threads, opts.QueueCapacity)
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("create worker pool: %w", err)
	}

	e := &Engine{
		opts:    opts,
		srv:     newServer(opts, p, metrics),
		workers: workers,
	}
	if opts.AcceptRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.AcceptRate), opts.AcceptBurst)
	}
	return e, nil
}

// Options returns the effective options
func (e *Engine) Options() Options {
	return e.opts
}

// Addr returns the listening address once serving has started
func (e *Engine) Addr() net.Addr {
	if a := e.addr.Load(); a != nil {
		return a
	}
	return nil
}

// ActiveConnections returns the number of open connections
func (e *Engine) ActiveConnections() int64 {
	return e.srv.active.Load()
}

// Run listens on addr and serves until ctx is cancelled. If the listener
// cannot be opened the engine is released and the error returned.
func (e *Engine) Run(ctx context.Context, addr string) error {
	laddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		e.close()
		return err
	}

	ln, err := net.ListenTCP("tcp", laddr)
	if err != nil {
		e.close()
		return err
	}
	defer ln.Close()

	return e.Serve(ctx, ln)
}

// Serve runs the event loop on ln until ctx is cancelled or the poller
// fails. On return the worker pool is drained, every connection is closed
// and the engine cannot be reused. Cancel ctx to stop it.
func (e *Engine) Serve(ctx context.Context, ln *net.TCPListener) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	if !e.serving.CompareAndSwap(false, true) {
		return ErrAlreadyServing
	}
	defer e.close()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	lnFile, err := ln.File()
	if err != nil {
		return err
	}
	defer lnFile.Close()
	lfd := int(lnFile.Fd())

	if err := unix.SetNonblock(lfd, true); err != nil {
		return err
	}
	if err := e.srv.poller.AddListener(lfd, listenerToken); err != nil {
		return fmt.Errorf("register listener: %w", err)
	}

	e.addr.Store(ln.Addr().(*net.TCPAddr))
	e.started = time.Now()
	logger.Info("Listening on %s (threads=%d queue=%d max_connections=%d root=%s)",
		ln.Addr(), e.opts.Threads, e.opts.QueueCapacity, e.opts.MaxConnections, e.opts.DocumentRoot)

	timeout := int(e.opts.PollTimeout / time.Millisecond)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down reactor")
			return nil
		default:
		}

		events, err := e.srv.poller.Wait(timeout)
		if err != nil {
			logger.Error("Poller wait: %v", err)
			return fmt.Errorf("poller wait: %w", err)
		}

		for _, ev := range events {
			if ev.Token == listenerToken {
				e.acceptConnections(lfd)
				continue
			}
			e.handleEvent(ev)
		}
		e.srv.metrics.SetQueueDepth(e.workers.Pending())
	}
}

// acceptConnections accepts every pending connection
func (e *Engine) acceptConnections(lfd int) {
	for {
		nfd, sa, err := unix.Accept4(lfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			if err == unix.EINTR || err == unix.ECONNABORTED {
				continue
			}
			logger.Warn("Accept error: %v", err)
			return
		}

		peer := sockaddrToAddrPort(sa)

		setNoDelay(nfd, peer)
		if e.limiter != nil && !e.limiter.Allow() {
			logger.Debug("Accept rate exceeded, rejecting %s", peer)
			unix.Close(nfd)
			e.srv.metrics.ConnectionRejected("rate_limited")
			continue
		}

		id, conn, ok := e.srv.conns.Acquire()
		if !ok {
			logger.Warn("Internal server busy, rejecting %s", peer)
			unix.Close(nfd)
			e.srv.metrics.ConnectionRejected("slots_full")
			continue
		}

		if err := conn.Init(id, nfd, peer); err != nil {
			logger.Warn("Register %s: %v", peer, err)
			conn.Close()
			e.srv.metrics.ConnectionRejected("register")
			continue
		}
	}
}

// setNoDelay disables Nagle's algorithm. Failure is not fatal.
func setNoDelay(fd int, peer netip.AddrPort) error {
	err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	if err != nil {
		logger.Debug("Set TCP_NODELAY on %s: %v", peer, err)
	}
	return err
}

// handleEvent reacts to readiness on a connection. The connection is one
// shot, so no further event arrives for it until it is re-armed.
func (e *Engine) handleEvent(ev poller.Event) {
	conn, ok := e.srv.conns.Lookup(pools.SlotID(ev.Token))
	if !ok {
		// the connection closed after the event was queued
		return
	}
	if conn.busy.Load() {
		logger.Warn("Event for %s while it is being processed", conn.peer)
		return
	}

	switch {
	case ev.Hangup:
		conn.Close()
	case ev.Readable:
		if !conn.Read() {
			conn.Close()
			return
		}
		conn.queuedAt = time.Now()
		conn.busy.Store(true)
		if !e.workers.Submit(conn) {
			conn.busy.Store(false)
			logger.Warn("Work queue full, dropping %s", conn.peer)
			e.srv.metrics.TaskRejected()
			conn.Close()
		}
	case ev.Writable:
		if !conn.Write() {
			conn.Close()
		}
	}
}

// close drains the worker pool, closes every connection and releases the
// poller. It runs on the reactor goroutine when Serve returns.
func (e *Engine) close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}

	e.workers.Close()
	for _, conn := range e.srv.conns.Live() {
		conn.Close()
	}
	err := e.srv.poller.Close()

	if !e.started.IsZero() {
		logger.Info("Reactor stopped after %s", time.Since(e.started).Round(time.Millisecond))
	}
	return err
}
