package core

import (
	"net/netip"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-httpd/core/http"
	"github.com/searchktools/fast-httpd/core/observability"
	"github.com/searchktools/fast-httpd/core/poller"
	"github.com/searchktools/fast-httpd/core/pools"
	"github.com/searchktools/fast-httpd/core/static"
	"github.com/searchktools/fast-httpd/logger"
)

// server holds what every connection shares with the reactor
type server struct {
	opts     Options
	poller   poller.Poller
	conns    *pools.SlotTable[*Conn]
	resolver *static.Resolver
	metrics  observability.Metrics
	active   atomic.Int64
}

func newServer(opts Options, p poller.Poller, metrics observability.Metrics) *server {
	srv := &server{
		opts:     opts,
		poller:   p,
		resolver: static.NewResolver(opts.DocumentRoot, opts.MaxPathLength, opts.DetectContentType),
		metrics:  metrics,
	}
	srv.conns = pools.NewSlotTable(opts.MaxConnections, func() *Conn {
		return newConn(srv)
	})
	return srv
}

// Conn is the per-connection state: the socket, its buffers, the request
// parser and the response being written.
//
// The reactor reads and writes; a worker parses and builds the response.
// busy is set by the reactor before the connection is queued and cleared
// by the worker before it re-arms the socket, so the two never touch the
// connection at the same time.
type Conn struct {
	srv  *server
	id   pools.SlotID
	fd   int
	peer netip.AddrPort

	rbuf   *http.ReadBuffer
	wbuf   *http.WriteBuffer
	parser *http.Parser
	out    http.Segments
	res    *static.Resource
	linger bool

	queuedAt time.Time
	busy     atomic.Bool
	closed   atomic.Bool
}

func newConn(srv *server) *Conn {
	c := &Conn{
		srv:    srv,
		fd:     -1,
		rbuf:   http.NewReadBuffer(srv.opts.ReadBufferSize),
		wbuf:   http.NewWriteBuffer(srv.opts.WriteBufferSize),
		parser: http.NewParser(srv.opts.Rewrites),
	}
	c.closed.Store(true)
	return c
}

// Init binds the connection to an accepted socket, resets all request
// state and registers the socket for reads. Calling Init on a live
// connection only resets its state and re-arms the socket for reads.
func (c *Conn) Init(id pools.SlotID, fd int, peer netip.AddrPort) error {
	c.id = id
	c.fd = fd
	c.peer = peer
	c.busy.Store(false)
	c.reset()

	if !c.closed.Swap(false) {
		// already registered
		return c.rearm(poller.Readable)
	}
	c.srv.active.Add(1)
	c.srv.metrics.ConnectionOpened()

	return c.srv.poller.Add(fd, uint64(id))
}

// reset prepares the connection for the next request
func (c *Conn) reset() {
	c.parser.Reset()
	c.rbuf.Reset()
	c.wbuf.Reset()
	c.out.Reset()
	c.linger = false
	c.releaseFile()
}

func (c *Conn) releaseFile() {
	if c.res == nil {
		return
	}
	if err := c.res.Release(); err != nil {
		logger.Warn("Release %s: %v", c.res.Path, err)
	}
	c.res = nil
}

// ID returns the slot ID the connection was registered with
func (c *Conn) ID() pools.SlotID {
	return c.id
}

// Fd returns the socket descriptor, or -1 once closed
func (c *Conn) Fd() int {
	return c.fd
}

// Peer returns the remote address
func (c *Conn) Peer() netip.AddrPort {
	return c.peer
}

// Closed reports whether Close has run since the last Init
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

// Read drains the socket into the read buffer until it would block or the
// buffer is full. It reports false if the buffer was already full, the
// peer closed the stream or the read failed.
func (c *Conn) Read() bool {
	if c.rbuf.Full() {
		return false
	}

	for !c.rbuf.Full() {
		n, err := unix.Read(c.fd, c.rbuf.Free())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				break
			}
			logger.Debug("Read %s: %v", c.peer, err)
			return false
		}
		if n == 0 {
			return false
		}
		c.rbuf.Commit(n)
	}
	return true
}

// Process parses what has been read and, once a request is complete,
// resolves it and prepares the response. It runs on a worker.
func (c *Conn) Process() {
	code := c.processRead()
	if code == http.NoRequest {
		c.busy.Store(false)
		if err := c.rearm(poller.Readable); err != nil {
			c.Close()
		}
		return
	}

	if !c.processWrite(code) {
		c.busy.Store(false)
		c.Close()
		return
	}

	c.busy.Store(false)
	if err := c.rearm(poller.Writable); err != nil {
		c.Close()
	}
}

func (c *Conn) processRead() http.Code {
	code := c.parser.Parse(c.rbuf)
	if code == http.BadRequest {
		logger.Debug("Bad request from %s: %v", c.peer, c.parser.Err())
	}
	if code != http.GetRequest {
		return code
	}
	return c.doRequest()
}

// doRequest maps the requested file. On FileRequest the connection owns
// the mapping until the response is written or the connection closes.
func (c *Conn) doRequest() http.Code {
	res, code := c.srv.resolver.Resolve(c.parser.Request().URL)
	if code == http.FileRequest {
		c.res = res
	}
	return code
}

func (c *Conn) processWrite(code http.Code) bool {
	var file http.ResponseFile
	if code == http.FileRequest && c.res != nil {
		file.Data = c.res.File.Bytes()
		file.ContentType = c.res.ContentType
	}

	// after a malformed request the stream position is unknown
	c.linger = c.parser.Request().KeepAlive && code != http.BadRequest

	if !http.BuildResponse(c.wbuf, &c.out, code, c.linger, file) {
		logger.Warn("Response for %s (%s) does not fit the write buffer", c.peer, code)
		c.releaseFile()
		return false
	}

	status := http.StatusCode(code)
	c.srv.metrics.RecordResponse(status, c.out.ToSend(), time.Since(c.queuedAt))
	logger.Debug("%s %s %d %d", c.peer, c.parser.Request().URL, status, c.out.ToSend())
	return true
}

// Write sends the queued response with gathered writes. On a partial write
// it re-arms for writability. When everything is sent it either resets
// for the next request and re-arms for reads, or reports false so the
// caller closes the connection.
func (c *Conn) Write() bool {
	if c.out.Done() {
		c.reset()
		return c.rearm(poller.Readable) == nil
	}

	for {
		n, err := unix.Writev(c.fd, c.out.Pending())
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if err == unix.EAGAIN {
				return c.rearm(poller.Writable) == nil
			}
			logger.Debug("Write %s: %v", c.peer, err)
			c.releaseFile()
			return false
		}

		c.out.Advance(n)
		if !c.out.Done() {
			continue
		}

		c.releaseFile()
		if !c.linger {
			return false
		}
		c.reset()
		return c.rearm(poller.Readable) == nil
	}
}

func (c *Conn) rearm(interest poller.Interest) error {
	err := c.srv.poller.Rearm(c.fd, uint64(c.id), interest)
	if err != nil {
		logger.Debug("Rearm %s for %s: %v", c.peer, interest, err)
	}
	return err
}

// Close deregisters and closes the socket, releases any mapping and frees
// the slot. Only the first call has any effect.
func (c *Conn) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}

	if err := c.srv.poller.Remove(c.fd); err != nil {
		logger.Debug("Remove %s: %v", c.peer, err)
	}
	if err := unix.Close(c.fd); err != nil {
		logger.Debug("Close %s: %v", c.peer, err)
	}
	c.reset()
	c.fd = -1

	c.srv.active.Add(-1)
	c.srv.metrics.ConnectionClosed()
	c.srv.conns.Release(c.id)
}

func sockaddrToAddrPort(sa unix.Sockaddr) netip.AddrPort {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(sa.Addr), uint16(sa.Port))
	default:
		return netip.AddrPort{}
	}
}
