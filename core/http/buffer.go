package http

// LineStatus is the outcome of one step of the line scanner
type LineStatus uint8

const (
	// LineOK means a complete line was found and consumed
	LineOK LineStatus = iota
	// LineBad means the bytes seen so far can never form a valid line
	LineBad
	// LineOpen means no terminator is buffered yet
	LineOpen
)

func (s LineStatus) String() string {
	switch s {
	case LineOK:
		return "LineOK"
	case LineBad:
		return "LineBad"
	case LineOpen:
		return "LineOpen"
	default:
		return "LineUnknown"
	}
}

// ReadBuffer is a fixed-capacity request buffer with explicit cursors.
//
//	0 <= startLine <= checkedIdx <= readIdx <= len(buf)
//
// readIdx marks the end of valid bytes, checkedIdx the scan position and
// startLine the first byte of the line (or body) being parsed.
type ReadBuffer struct {
	buf        []byte
	readIdx    int
	checkedIdx int
	startLine  int
}

// NewReadBuffer allocates a buffer holding at most size bytes
func NewReadBuffer(size int) *ReadBuffer {
	return &ReadBuffer{buf: make([]byte, size)}
}

// Cap returns the fixed capacity
func (b *ReadBuffer) Cap() int {
	return len(b.buf)
}

// Free returns the writable tail of the buffer
func (b *ReadBuffer) Free() []byte {
	return b.buf[b.readIdx:]
}

// Commit marks n bytes of Free() as valid
func (b *ReadBuffer) Commit(n int) {
	if n < 0 || b.readIdx+n > len(b.buf) {
		panic("http: ReadBuffer.Commit out of range")
	}
	b.readIdx += n
}

// Full reports whether no more bytes can be read into the buffer
func (b *ReadBuffer) Full() bool {
	return b.readIdx >= len(b.buf)
}

// Buffered returns the number of valid bytes
func (b *ReadBuffer) Buffered() int {
	return b.readIdx
}

// Checked returns the scan cursor
func (b *ReadBuffer) Checked() int {
	return b.checkedIdx
}

// LineStart returns the offset of the line currently being parsed
func (b *ReadBuffer) LineStart() int {
	return b.startLine
}

// Remaining returns how many bytes could still follow the current line start
func (b *ReadBuffer) Remaining() int {
	return len(b.buf) - b.startLine
}

// Bytes returns all valid bytes. The slice aliases the buffer.
func (b *ReadBuffer) Bytes() []byte {
	return b.buf[:b.readIdx]
}

// NextLine scans for the next line terminator starting at the scan cursor.
// On LineOK the terminator bytes are zeroed, both cursors move past them
// and the returned slice holds the line content. The cursors do not move
// on LineOpen or LineBad.
func (b *ReadBuffer) NextLine() ([]byte, LineStatus) {
	for i := b.checkedIdx; i < b.readIdx; i++ {
		switch b.buf[i] {
		case '\r':
			if i+1 == b.readIdx {
				// the LF may still be in flight
				return nil, LineOpen
			}
			if b.buf[i+1] != '\n' {
				return nil, LineBad
			}
			return b.consumeLine(i, 2), LineOK
		case '\n':
			return b.consumeLine(i, 1), LineOK
		}
	}
	return nil, LineOpen
}

func (b *ReadBuffer) consumeLine(end, termLen int) []byte {
	for j := end; j < end+termLen; j++ {
		b.buf[j] = 0
	}
	line := b.buf[b.startLine:end]
	b.checkedIdx = end + termLen
	b.startLine = b.checkedIdx
	return line
}

// Take consumes n bytes starting at the current line start. It reports
// false without consuming anything if fewer than n bytes are buffered.
func (b *ReadBuffer) Take(n int) ([]byte, bool) {
	if n < 0 || b.readIdx-b.startLine < n {
		return nil, false
	}
	out := b.buf[b.startLine : b.startLine+n]
	b.startLine += n
	b.checkedIdx = b.startLine
	return out, true
}

// Reset zeroes the buffer and rewinds every cursor
func (b *ReadBuffer) Reset() {
	clear(b.buf)
	b.readIdx = 0
	b.checkedIdx = 0
	b.startLine = 0
}
