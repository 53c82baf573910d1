package core

import (
	"errors"
	"time"
)

// Defaults for Options fields left at their zero value
const (
	DefaultThreads         = 8
	DefaultQueueCapacity   = 10000
	DefaultMaxConnections  = 65536
	DefaultReadBufferSize  = 2048
	DefaultWriteBufferSize = 1024
	DefaultMaxPathLength   = 200
	DefaultMaxEvents       = 10000
	DefaultPollTimeout     = 100 * time.Millisecond
)

// listenerToken is the poller token of the listening socket. Slot IDs are
// never 0, so it cannot collide with a connection.
const listenerToken uint64 = 0

// Error definitions
var (
	ErrNoDocumentRoot = errors.New("document root is not set")
	ErrEngineClosed   = errors.New("engine is closed")
	ErrAlreadyServing = errors.New("engine is already serving")
)
