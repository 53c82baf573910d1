package http

import (
	"fmt"
)

// HTTP header names understood by the parser and written by the builder
const (
	HeaderContentType   = "Content-Type"
	HeaderContentLength = "Content-Length"
	HeaderHost          = "Host"
	HeaderConnection    = "Connection"
)

// DefaultContentType is sent unless content-type detection is enabled
const DefaultContentType = "text/html"

// emptyFileBody is served in place of a zero-length file
const emptyFileBody = "<html><body></body></html>"

type status struct {
	code   int
	reason string
	body   string
}

var statusTable = map[Code]status{
	FileRequest:      {200, "OK", ""},
	BadRequest:       {400, "Bad Request", "Your request has bad syntax or is inherently impossible to satisfy.\n"},
	ForbiddenRequest: {403, "Forbidden", "You do not have permission to get file from this server.\n"},
	NoResource:       {404, "Not Found", "The requested file was not found on this server.\n"},
	InternalError:    {500, "Internal Error", "There was an unusual problem serving the requested file.\n"},
}

// StatusCode returns the HTTP status sent for an outcome, or 0 if the
// outcome does not produce a response
func StatusCode(c Code) int {
	return statusTable[c].code
}

// WriteBuffer is a fixed-capacity buffer for response headers and canned
// bodies. Appends that would overflow fail and leave the buffer unchanged.
type WriteBuffer struct {
	buf []byte
	idx int
}

// NewWriteBuffer allocates a buffer holding at most size bytes
func NewWriteBuffer(size int) *WriteBuffer {
	return &WriteBuffer{buf: make([]byte, size)}
}

// Appendf formats into the free space of the buffer. It reports false if
// the formatted text does not fit.
func (w *WriteBuffer) Appendf(format string, args ...any) bool {
	free := w.buf[w.idx:w.idx:len(w.buf)]
	out := fmt.Appendf(free, format, args...)
	if len(out) > cap(free) {
		return false
	}
	w.idx += len(out)
	return true
}

// Len returns the number of bytes written
func (w *WriteBuffer) Len() int {
	return w.idx
}

// Bytes returns the written bytes. The slice aliases the buffer.
func (w *WriteBuffer) Bytes() []byte {
	return w.buf[:w.idx]
}

// Reset zeroes the buffer
func (w *WriteBuffer) Reset() {
	clear(w.buf[:w.idx])
	w.idx = 0
}

func (w *WriteBuffer) addStatusLine(code int, reason string) bool {
	return w.Appendf("%s %d %s\r\n", supportedVersion, code, reason)
}

func (w *WriteBuffer) addHeaders(contentLength int, contentType string, keepAlive bool) bool {
	return w.addContentLength(contentLength) &&
		w.addContentType(contentType) &&
		w.addLinger(keepAlive) &&
		w.addBlankLine()
}

func (w *WriteBuffer) addContentLength(n int) bool {
	return w.Appendf("%s: %d\r\n", HeaderContentLength, n)
}

func (w *WriteBuffer) addContentType(contentType string) bool {
	return w.Appendf("%s: %s\r\n", HeaderContentType, contentType)
}

func (w *WriteBuffer) addLinger(keepAlive bool) bool {
	value := "close"
	if keepAlive {
		value = "keep-alive"
	}
	return w.Appendf("%s: %s\r\n", HeaderConnection, value)
}

func (w *WriteBuffer) addBlankLine() bool {
	return w.Appendf("\r\n")
}

func (w *WriteBuffer) addContent(content string) bool {
	return w.Appendf("%s", content)
}

// Segments is the ordered pair of byte ranges sent for one response:
// the header buffer and, optionally, the mapped file.
type Segments struct {
	iov    [2][]byte
	count  int
	toSend int
	sent   int
}

// Count returns the number of segments in use
func (s *Segments) Count() int {
	return s.count
}

// Segment returns segment i as originally queued
func (s *Segments) Segment(i int) []byte {
	return s.iov[i]
}

// ToSend returns the bytes still to be written
func (s *Segments) ToSend() int {
	return s.toSend
}

// Sent returns the bytes already written
func (s *Segments) Sent() int {
	return s.sent
}

// Done reports whether everything queued has been written
func (s *Segments) Done() bool {
	return s.toSend <= 0
}

// Pending returns the unsent tail of every segment, skipping drained ones
func (s *Segments) Pending() [][]byte {
	out := make([][]byte, 0, s.count)
	offset := s.sent
	for i := 0; i < s.count; i++ {
		seg := s.iov[i]
		if offset >= len(seg) {
			offset -= len(seg)
			continue
		}
		out = append(out, seg[offset:])
		offset = 0
	}
	return out
}

// Advance records n more bytes as written
func (s *Segments) Advance(n int) {
	if n > s.toSend {
		n = s.toSend
	}
	s.sent += n
	s.toSend -= n
}

// Reset drops all segments
func (s *Segments) Reset() {
	s.iov = [2][]byte{}
	s.count = 0
	s.toSend = 0
	s.sent = 0
}

func (s *Segments) set(segs ...[]byte) {
	s.Reset()
	for _, seg := range segs {
		s.iov[s.count] = seg
		s.count++
		s.toSend += len(seg)
	}
}

// ResponseFile is the mapped body of a FileRequest. Data may be empty.
type ResponseFile struct {
	Data        []byte
	ContentType string
}

// BuildResponse renders the response for a terminal outcome into w and
// queues the segments to send. It reports false if the outcome produces no
// response or the headers do not fit the write buffer.
func BuildResponse(w *WriteBuffer, segs *Segments, code Code, keepAlive bool, file ResponseFile) bool {
	st, ok := statusTable[code]
	if !ok {
		return false
	}
	w.Reset()
	segs.Reset()

	if !w.addStatusLine(st.code, st.reason) {
		return false
	}

	if code == FileRequest && len(file.Data) > 0 {
		contentType := file.ContentType
		if contentType == "" {
			contentType = DefaultContentType
		}
		if !w.addHeaders(len(file.Data), contentType, keepAlive) {
			return false
		}
		segs.set(w.Bytes(), file.Data)
		return true
	}

	body := st.body
	if code == FileRequest {
		body = emptyFileBody
	}
	if !w.addHeaders(len(body), DefaultContentType, keepAlive) || !w.addContent(body) {
		return false
	}
	segs.set(w.Bytes())
	return true
}
