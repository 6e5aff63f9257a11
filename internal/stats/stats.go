// Package stats counts API interactions and reports process statistics for
// the /api/stats endpoint.
package stats

import (
	"runtime"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Endpoint identifies a tracked API endpoint.
type Endpoint string

const (
	EndpointData   Endpoint = "data"
	EndpointStatus Endpoint = "status"
	EndpointStats  Endpoint = "stats"
)

// Counters holds the interaction totals. Values only grow during the
// process lifetime.
type Counters struct {
	Total          uint64 `json:"total"`
	StatusRequests uint64 `json:"statusRequests"`
	DataRequests   uint64 `json:"dataRequests"`
	StatsRequests  uint64 `json:"statsRequests"`
}

// MemoryUsage is the subset of [runtime.MemStats] reported by the service.
type MemoryUsage struct {
	HeapAlloc uint64 `json:"heapAlloc"`
	HeapSys   uint64 `json:"heapSys"`
	Sys       uint64 `json:"sys"`
	NumGC     uint32 `json:"numGC"`
}

// Snapshot is a point-in-time view of the accounting state.
type Snapshot struct {
	Uptime               time.Duration
	Counters             Counters
	LastInteraction      time.Time
	SinceLastInteraction time.Duration
	Memory               MemoryUsage
}

// ///////////////////////////////////////////////
// Accounting
// ///////////////////////////////////////////////

// Accounting tracks API usage and recency.
type Accounting struct {
	// mu guards counters and last.
	mu sync.Mutex
	// counters holds the per-endpoint totals.
	counters Counters
	// last is the time of the most recent [Accounting.RecordHit], or the
	// start time when nothing has been recorded yet.
	last time.Time

	// start is the process start time used for uptime.
	start time.Time
	// now returns the current time; replaced in tests.
	now func() time.Time
	// memory queries current memory usage; replaced in tests.
	memory func() MemoryUsage
	// metrics receives a copy of every hit; may be nil.
	metrics *Metrics
}

// New creates an Accounting whose uptime starts now. metrics may be nil.
func New(metrics *Metrics) *Accounting {
	now := time.Now()
	return &Accounting{
		last:    now,
		start:   now,
		now:     time.Now,
		memory:  readMemory,
		metrics: metrics,
	}
}

// RecordHit counts one request to kind and marks the interaction time.
func (a *Accounting) RecordHit(kind Endpoint) {
	a.mu.Lock()
	a.counters.Total++
	switch kind {
	case EndpointData:
		a.counters.DataRequests++
	case EndpointStatus:
		a.counters.StatusRequests++
	case EndpointStats:
		a.counters.StatsRequests++
	}
	a.last = a.now()
	a.mu.Unlock()

	a.metrics.RequestServed(kind)
}

// Snapshot returns the current counters along with uptime and memory usage.
func (a *Accounting) Snapshot() Snapshot {
	a.mu.Lock()
	counters := a.counters
	last := a.last
	a.mu.Unlock()

	now := a.now()
	return Snapshot{
		Uptime:               now.Sub(a.start),
		Counters:             counters,
		LastInteraction:      last,
		SinceLastInteraction: now.Sub(last),
		Memory:               a.memory(),
	}
}

// readMemory reads the Go runtime memory statistics.
func readMemory() MemoryUsage {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryUsage{
		HeapAlloc: ms.HeapAlloc,
		HeapSys:   ms.HeapSys,
		Sys:       ms.Sys,
		NumGC:     ms.NumGC,
	}
}
