// Package poller wraps the kernel readiness notification facility used by
// the reactor. Connection descriptors are registered edge-triggered and
// one-shot: after an event fires the descriptor stays silent until it is
// explicitly re-armed.
package poller

// Interest selects which readiness a re-armed descriptor waits for
type Interest uint8

const (
	Readable Interest = iota
	Writable
)

func (i Interest) String() string {
	if i == Writable {
		return "writable"
	}
	return "readable"
}

// Event is one readiness notification. Token is the value the descriptor
// was registered with.
type Event struct {
	Token    uint64
	Readable bool
	Writable bool
	Hangup   bool
}

// Poller is the I/O multiplexing interface
type Poller interface {
	// AddListener registers a listening socket, level-triggered, readable
	AddListener(fd int, token uint64) error
	// Add registers a connection socket for one-shot edge-triggered reads
	Add(fd int, token uint64) error
	// Rearm re-enables a one-shot descriptor for the given interest
	Rearm(fd int, token uint64, interest Interest) error
	// Remove deregisters a descriptor
	Remove(fd int) error
	// Wait blocks up to timeout milliseconds (-1 forever) for events
	Wait(timeout int) ([]Event, error)
	Close() error
}
