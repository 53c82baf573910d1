package http

import (
	"bytes"
	"errors"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
)

var (
	ErrInvalidRequestLine  = errors.New("invalid request line")
	ErrUnknownMethod       = errors.New("unknown method")
	ErrMethodNotSupported  = errors.New("method not supported")
	ErrVersionNotSupported = errors.New("protocol version not supported")
	ErrInvalidURL          = errors.New("invalid request target")
	ErrInvalidHeader       = errors.New("invalid header line")
	ErrInvalidLength       = errors.New("invalid Content-Length")
	ErrBodyTooLarge        = errors.New("request body does not fit the read buffer")
	ErrRequestTooLarge     = errors.New("request head does not fit the read buffer")
	ErrMalformedLine       = errors.New("malformed line terminator")
)

const supportedVersion = "HTTP/1.1"

// Parser is the request macro state machine. It pulls lines from a
// ReadBuffer and advances RequestLine -> Headers -> [Body] until the request
// is complete, malformed, or more bytes are needed.
type Parser struct {
	state    CheckState
	result   Code
	err      error
	req      Request
	rewrites map[string]string
}

// NewParser creates a parser applying exact-match URL rewrites after the
// request line is parsed
func NewParser(rewrites map[string]string) *Parser {
	return &Parser{rewrites: rewrites}
}

// State returns the current macro state
func (p *Parser) State() CheckState {
	return p.state
}

// Request returns the fields parsed so far
func (p *Parser) Request() *Request {
	return &p.req
}

// Err returns the reason for the last BadRequest
func (p *Parser) Err() error {
	return p.err
}

// Reset rewinds the parser to StateRequestLine
func (p *Parser) Reset() {
	p.state = StateRequestLine
	p.result = NoRequest
	p.err = nil
	p.req.Reset()
}

// Parse consumes buffered input and returns NoRequest, GetRequest or
// BadRequest. Once a terminal outcome is reached it is returned again until
// Reset is called.
func (p *Parser) Parse(b *ReadBuffer) Code {
	if p.result != NoRequest {
		return p.result
	}
	p.result = p.drive(b)
	return p.result
}

func (p *Parser) drive(b *ReadBuffer) Code {
	for {
		if p.state == StateBody {
			body, ok := b.Take(p.req.ContentLength)
			if !ok {
				return NoRequest
			}
			p.req.Body = append(p.req.Body[:0], body...)
			return GetRequest
		}

		line, status := b.NextLine()
		switch status {
		case LineOpen:
			// the buffer never compacts, so a full one cannot complete the line
			if b.Full() {
				p.err = ErrRequestTooLarge
				return BadRequest
			}
			return NoRequest
		case LineBad:
			p.err = ErrMalformedLine
			return BadRequest
		}

		switch p.state {
		case StateRequestLine:
			if err := p.parseRequestLine(line); err != nil {
				p.err = err
				return BadRequest
			}
			p.state = StateHeaders
		case StateHeaders:
			if len(line) == 0 {
				if p.req.ContentLength == 0 {
					return GetRequest
				}
				if p.req.ContentLength > b.Remaining() {
					p.err = ErrBodyTooLarge
					return BadRequest
				}
				p.state = StateBody
				continue
			}
			if err := p.parseHeader(line); err != nil {
				p.err = err
				return BadRequest
			}
		}
	}
}

func (p *Parser) parseRequestLine(line []byte) error {
	sp := bytes.IndexAny(line, " \t")
	if sp <= 0 {
		return ErrInvalidRequestLine
	}
	method, ok := ParseMethod(line[:sp])
	if !ok {
		return ErrUnknownMethod
	}
	p.req.Method = method
	if method != MethodGet {
		return ErrMethodNotSupported
	}

	rest := bytes.TrimLeft(line[sp+1:], " \t")
	sp = bytes.IndexAny(rest, " \t")
	if sp <= 0 {
		return ErrInvalidRequestLine
	}
	url := rest[:sp]
	version := bytes.TrimLeft(rest[sp+1:], " \t")
	if !strings.EqualFold(string(version), supportedVersion) {
		return ErrVersionNotSupported
	}
	p.req.Version = supportedVersion

	// absolute-form targets keep only their path
	for _, scheme := range []string{"http://", "https://"} {
		if len(url) >= len(scheme) && strings.EqualFold(string(url[:len(scheme)]), scheme) {
			url = url[len(scheme):]
			slash := bytes.IndexByte(url, '/')
			if slash < 0 {
				return ErrInvalidURL
			}
			url = url[slash:]
			break
		}
	}
	if len(url) == 0 || url[0] != '/' {
		return ErrInvalidURL
	}

	p.req.URL = string(url)
	if to, ok := p.rewrites[p.req.URL]; ok {
		p.req.URL = to
	}
	return nil
}

func (p *Parser) parseHeader(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return ErrInvalidHeader
	}
	name := string(line[:colon])
	if !httpguts.ValidHeaderFieldName(name) {
		return ErrInvalidHeader
	}
	value := strings.Trim(string(line[colon+1:]), " \t")
	if !httpguts.ValidHeaderFieldValue(value) {
		return ErrInvalidHeader
	}

	switch {
	case strings.EqualFold(name, HeaderConnection):
		values := []string{value}
		if httpguts.HeaderValuesContainsToken(values, "keep-alive") {
			p.req.KeepAlive = true
		}
		if httpguts.HeaderValuesContainsToken(values, "close") {
			p.req.KeepAlive = false
		}
	case strings.EqualFold(name, HeaderContentLength):
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return ErrInvalidLength
		}
		p.req.ContentLength = n
	case strings.EqualFold(name, HeaderHost):
		p.req.Host = value
	}
	return nil
}
