package core

import "time"

// Options configures an Engine
type Options struct {
	// Threads is the number of worker threads
	Threads int
	// QueueCapacity bounds pending tasks; 0 means unbounded
	QueueCapacity int
	// MaxConnections is the size of the connection slot table
	MaxConnections int
	// AcceptRate limits new connections per second; 0 means unlimited
	AcceptRate float64
	// AcceptBurst is the number of connections accepted at once above
	// AcceptRate. It defaults to 1 when AcceptRate is set.
	AcceptBurst int

	ReadBufferSize  int
	WriteBufferSize int
	// MaxPathLength bounds len(DocumentRoot)+len(URL)
	MaxPathLength int

	// MaxEvents is the number of readiness events fetched per wait
	MaxEvents int
	// PollTimeout bounds each readiness wait so shutdown is noticed
	PollTimeout time.Duration

	// DocumentRoot is the absolute directory files are served from
	DocumentRoot string
	// DetectContentType picks Content-Type by extension instead of text/html
	DetectContentType bool
	// Rewrites maps request URLs to other URLs, exact match
	Rewrites map[string]string
}

// DefaultOptions returns the stock configuration without a document root
func DefaultOptions() Options {
	return Options{
		Threads:         DefaultThreads,
		QueueCapacity:   DefaultQueueCapacity,
		MaxConnections:  DefaultMaxConnections,
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		MaxPathLength:   DefaultMaxPathLength,
		MaxEvents:       DefaultMaxEvents,
		PollTimeout:     DefaultPollTimeout,
		Rewrites:        map[string]string{"/": "/judge.html"},
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Threads <= 0 {
		o.Threads = def.Threads
	}
	if o.QueueCapacity < 0 {
		o.QueueCapacity = 0
	}
	if o.MaxConnections <= 0 {
		o.MaxConnections = def.MaxConnections
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = def.ReadBufferSize
	}
	if o.WriteBufferSize <= 0 {
		o.WriteBufferSize = def.WriteBufferSize
	}
	if o.MaxPathLength <= 0 {
		o.MaxPathLength = def.MaxPathLength
	}
	if o.MaxEvents <= 0 {
		o.MaxEvents = def.MaxEvents
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = def.PollTimeout
	}
	if o.AcceptRate < 0 {
		o.AcceptRate = 0
	}
	if o.AcceptRate > 0 && o.AcceptBurst <= 0 {
		o.AcceptBurst = 1
	}
	return o
}
