package http

import "strings"

// Method is an HTTP request method
type Method uint8

// Recognized request methods. Only MethodGet is served.
const (
	MethodGet Method = iota
	MethodPost
	MethodHead
	MethodPut
	MethodDelete
	MethodTrace
	MethodOptions
	MethodConnect
)

var methodNames = [...]string{
	MethodGet:     "GET",
	MethodPost:    "POST",
	MethodHead:    "HEAD",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodTrace:   "TRACE",
	MethodOptions: "OPTIONS",
	MethodConnect: "CONNECT",
}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return "UNKNOWN"
}

// ParseMethod matches a method token case-insensitively
func ParseMethod(token []byte) (Method, bool) {
	for m, name := range methodNames {
		if len(token) == len(name) && strings.EqualFold(string(token), name) {
			return Method(m), true
		}
	}
	return 0, false
}

// CheckState is the macro state of the request parser
type CheckState uint8

const (
	StateRequestLine CheckState = iota
	StateHeaders
	StateBody
)

func (s CheckState) String() string {
	switch s {
	case StateRequestLine:
		return "RequestLine"
	case StateHeaders:
		return "Headers"
	case StateBody:
		return "Body"
	default:
		return "Unknown"
	}
}

// Code is the outcome of parsing and dispatching a request
type Code uint8

const (
	// NoRequest means the request is incomplete and more bytes are needed
	NoRequest Code = iota
	// GetRequest means a complete request was parsed
	GetRequest
	// BadRequest means the request is malformed
	BadRequest
	// NoResource means the target does not exist
	NoResource
	// ForbiddenRequest means the target is a directory or not readable
	ForbiddenRequest
	// FileRequest means the target file is ready to be sent
	FileRequest
	// InternalError means the server failed to serve the target
	InternalError
	// ClosedConnection means the peer went away
	ClosedConnection
)

func (c Code) String() string {
	switch c {
	case NoRequest:
		return "NoRequest"
	case GetRequest:
		return "GetRequest"
	case BadRequest:
		return "BadRequest"
	case NoResource:
		return "NoResource"
	case ForbiddenRequest:
		return "ForbiddenRequest"
	case FileRequest:
		return "FileRequest"
	case InternalError:
		return "InternalError"
	case ClosedConnection:
		return "ClosedConnection"
	default:
		return "Unknown"
	}
}

// Request holds the parsed fields of one request.
// Strings are copies; they stay valid after the read buffer is reset.
type Request struct {
	Method        Method
	URL           string
	Version       string
	Host          string
	ContentLength int
	KeepAlive     bool
	Body          []byte
}

// Reset clears the request for reuse
func (r *Request) Reset() {
	r.Method = MethodGet
	r.URL = ""
	r.Version = ""
	r.Host = ""
	r.ContentLength = 0
	r.KeepAlive = false
	r.Body = r.Body[:0]
}
