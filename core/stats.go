package core

import (
	"encoding/json"
	"fmt"

	"github.com/searchktools/fast-httpd/core/pools"
)

// Stats is a snapshot of engine counters
type Stats struct {
	ActiveConnections int64                 `json:"active_connections"`
	Connections       pools.SlotTableStats  `json:"connections"`
	Workers           pools.WorkerPoolStats `json:"workers"`
	GC                pools.GCStats         `json:"gc"`
}

// Stats returns a snapshot of the engine counters
func (e *Engine) Stats() Stats {
	return Stats{
		ActiveConnections: e.srv.active.Load(),
		Connections:       e.srv.conns.Stats(),
		Workers:           e.workers.Stats(),
		GC:                pools.GetGCStats(),
	}
}

// StatsJSON returns engine statistics as JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns engine statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()
	return fmt.Sprintf(`Engine Statistics
=================

Connections:
  Active:   %d
  Slots:    %d/%d
  Accepted: %d
  Closed:   %d
  Rejected: %d

Workers (%d, queue capacity %d):
  Submitted: %d
  Completed: %d
  Rejected:  %d
  Pending:   %d
  Max depth: %d

GC:
  Cycles:      %d
  Pause total: %s
  Heap alloc:  %d bytes
  Goroutines:  %d
`,
		s.ActiveConnections, s.Connections.InUse, s.Connections.Capacity,
		s.Connections.Acquired, s.Connections.Released, s.Connections.Rejected,
		s.Workers.NumWorkers, s.Workers.Capacity,
		s.Workers.TasksSubmitted, s.Workers.TasksCompleted, s.Workers.TasksRejected,
		s.Workers.TasksPending, s.Workers.MaxQueueDepth,
		s.GC.NumGC, s.GC.PauseTotal, s.GC.AllocBytes, s.GC.NumGoroutine,
	)
}
