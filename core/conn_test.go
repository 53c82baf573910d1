package core

import (
	"bytes"
	"errors"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-httpd/core/http"
	"github.com/searchktools/fast-httpd/core/observability"
	"github.com/searchktools/fast-httpd/core/poller"
)

type rearmCall struct {
	fd       int
	token    uint64
	interest poller.Interest
}

// fakePoller records registrations instead of talking to the kernel
type fakePoller struct {
	mu      sync.Mutex
	added   map[int]uint64
	rearms  []rearmCall
	removed []int
	addErr  error
}

func newFakePoller() *fakePoller {
	return &fakePoller{added: make(map[int]uint64)}
}

func (p *fakePoller) AddListener(fd int, token uint64) error {
	return p.Add(fd, token)
}

func (p *fakePoller) Add(fd int, token uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.addErr != nil {
		return p.addErr
	}
	if _, ok := p.added[fd]; ok {
		return unix.EEXIST
	}
	p.added[fd] = token
	return nil
}

func (p *fakePoller) Rearm(fd int, token uint64, interest poller.Interest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rearms = append(p.rearms, rearmCall{fd, token, interest})
	return nil
}

func (p *fakePoller) Remove(fd int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.added, fd)
	p.removed = append(p.removed, fd)
	return nil
}

func (p *fakePoller) Wait(int) ([]poller.Event, error) {
	return nil, nil
}

func (p *fakePoller) Close() error {
	return nil
}

func (p *fakePoller) lastRearm(t *testing.T) rearmCall {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.rearms, "connection was never re-armed")
	return p.rearms[len(p.rearms)-1]
}

func (p *fakePoller) rearmCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.rearms)
}

func testOptions(root string) Options {
	opts := DefaultOptions()
	opts.DocumentRoot = root
	opts.MaxConnections = 4
	return opts.withDefaults()
}

func newTestServer(opts Options, p poller.Poller) *server {
	return newServer(opts, p, observability.Noop())
}

func docRoot(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		require.NoError(t, os.Chmod(path, 0o644))
	}
	return root
}

// newTestConn binds a connection to one end of a socket pair and returns
// the other end
func newTestConn(t *testing.T, srv *server) (*Conn, int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)

	id, c, ok := srv.conns.Acquire()
	require.True(t, ok)
	require.NoError(t, c.Init(id, fds[0], netip.MustParseAddrPort("127.0.0.1:40000")))

	t.Cleanup(func() {
		c.Close()
		unix.Close(fds[1])
	})
	return c, fds[1]
}

func send(t *testing.T, fd int, s string) {
	t.Helper()
	n, err := unix.Write(fd, []byte(s))
	require.NoError(t, err)
	require.Equal(t, len(s), n)
}

// drain reads everything currently available on a non-blocking socket
func drain(t *testing.T, fd int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := unix.Read(fd, buf)
		if errors.Is(err, unix.EAGAIN) || n == 0 {
			return out
		}
		require.NoError(t, err)
		out = append(out, buf[:n]...)
	}
}

// process runs one worker turn the way the reactor would schedule it
func process(c *Conn) {
	c.busy.Store(true)
	c.Process()
}

func TestConn_Init(t *testing.T) {
	p := newFakePoller()
	srv := newTestServer(testOptions(t.TempDir()), p)

	c, _ := newTestConn(t, srv)

	assert.Equal(t, uint64(c.ID()), p.added[c.Fd()])
	assert.Equal(t, int64(1), srv.active.Load())
	assert.False(t, c.Closed())
	assert.Equal(t, "127.0.0.1:40000", c.Peer().String())
}

func TestConn_InitRegisterFailure(t *testing.T) {
	p := newFakePoller()
	p.addErr = errors.New("boom")
	srv := newTestServer(testOptions(t.TempDir()), p)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1])

	id, c, ok := srv.conns.Acquire()
	require.True(t, ok)
	assert.Error(t, c.Init(id, fds[0], netip.AddrPort{}))

	c.Close()
	assert.Equal(t, int64(0), srv.active.Load())
	assert.Equal(t, 0, srv.conns.Len())
}

func TestConn_KeepAliveRoundTrip(t *testing.T) {
	p := newFakePoller()
	srv := newTestServer(testOptions(docRoot(t, map[string]string{"index.html": "<p>hello</p>"})), p)
	c, remote := newTestConn(t, srv)

	for i := 0; i < 2; i++ {
		send(t, remote, "GET /index.html HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")

		require.True(t, c.Read())
		process(c)

		assert.False(t, c.busy.Load())
		assert.Equal(t, poller.Writable, p.lastRearm(t).interest)
		assert.Equal(t, uint64(c.ID()), p.lastRearm(t).token)
		require.NotNil(t, c.res)
		mapped := c.res.File

		require.True(t, c.Write())
		assert.Equal(t, poller.Readable, p.lastRearm(t).interest)
		assert.True(t, mapped.Released(), "mapping must be released once sent")

		want := "HTTP/1.1 200 OK\r\n" +
			"Content-Length: 12\r\n" +
			"Content-Type: text/html\r\n" +
			"Connection: keep-alive\r\n" +
			"\r\n" +
			"<p>hello</p>"
		assert.Equal(t, want, string(drain(t, remote)))

		// ready for the next request
		assert.Equal(t, http.StateRequestLine, c.parser.State())
		assert.Equal(t, 0, c.rbuf.Buffered())
		assert.Nil(t, c.res)
		assert.False(t, c.Closed())
	}
}

func TestConn_CloseAfterResponse(t *testing.T) {
	p := newFakePoller()
	srv := newTestServer(testOptions(docRoot(t, map[string]string{"a.html": "A"})), p)
	c, remote := newTestConn(t, srv)

	send(t, remote, "GET /a.html HTTP/1.1\r\n\r\n")
	require.True(t, c.Read())
	process(c)

	mapped := c.res.File
	assert.False(t, c.Write(), "without keep-alive the caller closes")
	assert.True(t, mapped.Released())
	assert.Contains(t, string(drain(t, remote)), "Connection: close\r\n")
}

func TestConn_IncompleteRequest(t *testing.T) {
	p := newFakePoller()
	srv := newTestServer(testOptions(t.TempDir()), p)
	c, remote := newTestConn(t, srv)

	send(t, remote, "GET /index.html HTTP/1.1\r\nHost: a")
	require.True(t, c.Read())
	process(c)

	assert.Equal(t, poller.Readable, p.lastRearm(t).interest)
	assert.Equal(t, http.StateHeaders, c.parser.State())
	assert.True(t, c.out.Done())
	assert.Empty(t, drain(t, remote))
}

func TestConn_ErrorResponses(t *testing.T) {
	tests := []struct {
		name    string
		request string
		status  string
	}{
		{"not found", "GET /missing.html HTTP/1.1\r\n\r\n", "HTTP/1.1 404 Not Found\r\n"},
		{"bad method", "POST / HTTP/1.1\r\nConnection: keep-alive\r\n\r\n", "HTTP/1.1 400 Bad Request\r\n"},
		{"directory", "GET /sub HTTP/1.1\r\n\r\n", "HTTP/1.1 403 Forbidden\r\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))

			p := newFakePoller()
			srv := newTestServer(testOptions(root), p)
			c, remote := newTestConn(t, srv)

			send(t, remote, tt.request)
			require.True(t, c.Read())
			process(c)
			require.Equal(t, poller.Writable, p.lastRearm(t).interest)

			assert.False(t, c.Write())
			resp := string(drain(t, remote))
			assert.True(t, bytes.HasPrefix([]byte(resp), []byte(tt.status)), resp)
			assert.Contains(t, resp, "Connection: close\r\n")
		})
	}
}

func TestConn_ReadPeerClosed(t *testing.T) {
	srv := newTestServer(testOptions(t.TempDir()), newFakePoller())
	c, remote := newTestConn(t, srv)

	require.NoError(t, unix.Shutdown(remote, unix.SHUT_WR))
	assert.False(t, c.Read())
}

func TestConn_ReadFullBuffer(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.ReadBufferSize = 64
	p := newFakePoller()
	srv := newTestServer(opts, p)
	c, remote := newTestConn(t, srv)

	send(t, remote, "GET /"+string(bytes.Repeat([]byte("a"), 100)))

	// the read stops when the buffer fills
	require.True(t, c.Read())
	assert.True(t, c.rbuf.Full())

	process(c)
	assert.ErrorIs(t, c.parser.Err(), http.ErrRequestTooLarge)
	require.Equal(t, poller.Writable, p.lastRearm(t).interest)

	assert.False(t, c.Write())
	resp := string(drain(t, remote))
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 400 Bad Request\r\n"), resp)
	assert.Contains(t, resp, "Connection: close\r\n")
}

func TestConn_ReadAlreadyFull(t *testing.T) {
	opts := testOptions(t.TempDir())
	opts.ReadBufferSize = 64
	srv := newTestServer(opts, newFakePoller())
	c, remote := newTestConn(t, srv)

	send(t, remote, string(bytes.Repeat([]byte("a"), 64)))
	require.True(t, c.Read())
	require.True(t, c.rbuf.Full())

	assert.False(t, c.Read())
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	p := newFakePoller()
	srv := newTestServer(testOptions(docRoot(t, map[string]string{"a.html": "A"})), p)
	c, remote := newTestConn(t, srv)
	id := c.ID()

	send(t, remote, "GET /a.html HTTP/1.1\r\n\r\n")
	require.True(t, c.Read())
	process(c)
	mapped := c.res.File

	c.Close()
	c.Close()

	assert.True(t, c.Closed())
	assert.Equal(t, -1, c.Fd())
	assert.True(t, mapped.Released())
	assert.Equal(t, int64(0), srv.active.Load())
	assert.Len(t, p.removed, 1)

	_, ok := srv.conns.Lookup(id)
	assert.False(t, ok, "slot must be freed")
}

func TestConn_InitResetsState(t *testing.T) {
	p := newFakePoller()
	srv := newTestServer(testOptions(docRoot(t, map[string]string{"a.html": "A"})), p)
	c, remote := newTestConn(t, srv)

	send(t, remote, "GET /a.html HTTP/1.1\r\n\r\n")
	require.True(t, c.Read())
	process(c)
	mapped := c.res.File

	rearms := p.rearmCount()
	require.NoError(t, c.Init(c.ID(), c.Fd(), c.Peer()))

	assert.Equal(t, rearms+1, p.rearmCount())
	assert.Equal(t, poller.Readable, p.lastRearm(t).interest)
	assert.True(t, mapped.Released())
	assert.Nil(t, c.res)
	assert.Equal(t, http.StateRequestLine, c.parser.State())
	assert.Equal(t, 0, c.rbuf.Buffered())
	assert.True(t, c.out.Done())
	assert.Equal(t, int64(1), srv.active.Load(), "re-init must not count twice")
}

func TestConn_InitTwiceWithEpoll(t *testing.T) {
	p, err := poller.NewPoller(16)
	require.NoError(t, err)
	defer p.Close()

	srv := newTestServer(testOptions(docRoot(t, map[string]string{"a.html": "A"})), p)
	c, remote := newTestConn(t, srv)

	require.NoError(t, c.Init(c.ID(), c.Fd(), c.Peer()))
	assert.Equal(t, int64(1), srv.active.Load())

	// still registered: a request wakes the poller with the connection's token
	send(t, remote, "GET /a.html HTTP/1.1\r\n\r\n")
	events, err := p.Wait(1000)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, uint64(c.ID()), events[0].Token)
	assert.True(t, events[0].Readable)
}

func TestConn_PartialWrites(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789abcdef"), 256*1024)
	root := t.TempDir()
	path := filepath.Join(root, "big.bin")
	require.NoError(t, os.WriteFile(path, body, 0o644))
	require.NoError(t, os.Chmod(path, 0o644))

	p := newFakePoller()
	srv := newTestServer(testOptions(root), p)
	c, remote := newTestConn(t, srv)

	send(t, remote, "GET /big.bin HTTP/1.1\r\nConnection: keep-alive\r\n\r\n")
	require.True(t, c.Read())
	process(c)

	var got []byte
	writes := 0
	for {
		before := p.rearmCount()
		require.True(t, c.Write())
		writes++
		require.Greater(t, p.rearmCount(), before)
		got = append(got, drain(t, remote)...)
		if p.lastRearm(t).interest == poller.Readable {
			break
		}
		require.Less(t, writes, 100000, "write never completed")
	}
	got = append(got, drain(t, remote)...)

	assert.Greater(t, writes, 1, "a 4 MiB body cannot fit one socket buffer")
	idx := bytes.Index(got, []byte("\r\n\r\n"))
	require.Positive(t, idx)
	assert.Contains(t, string(got[:idx]), "Content-Length: 4194304")
	assert.True(t, bytes.Equal(body, got[idx+4:]), "body mismatch")
}

func TestSockaddrToAddrPort(t *testing.T) {
	v4 := sockaddrToAddrPort(&unix.SockaddrInet4{Port: 8080, Addr: [4]byte{10, 0, 0, 1}})
	assert.Equal(t, "10.0.0.1:8080", v4.String())

	v6 := sockaddrToAddrPort(&unix.SockaddrInet6{Port: 443, Addr: netip.MustParseAddr("::1").As16()})
	assert.Equal(t, "[::1]:443", v6.String())

	assert.False(t, sockaddrToAddrPort(&unix.SockaddrUnix{Name: "x"}).IsValid())
}
