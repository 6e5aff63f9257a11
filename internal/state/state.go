// Package state owns the mutable state shared by the gateway session, the
// refresh scheduler, and the HTTP API.
//
// Every component receives the same [*App] at construction and mutates it
// only through its methods. There are no package-level variables.
package state

import (
	"sync"
	"time"

	"tools.zach/dev/oracle/internal/presence"
	"tools.zach/dev/oracle/internal/stats"
)

// ///////////////////////////////////////////////
// App
// ///////////////////////////////////////////////

// App bundles the process-wide state.
type App struct {
	// Presence holds the tracked user's snapshot.
	Presence *presence.Cache
	// Connection holds the gateway connection state.
	Connection *Connection
	// Stats counts API interactions.
	Stats *stats.Accounting
	// Metrics mirrors counters into Prometheus; may be nil.
	Metrics *stats.Metrics
}

// Options configures [New].
type Options struct {
	// UserID is the tracked user.
	UserID string
	// Presence configures the snapshot overrides.
	Presence presence.Options
	// Metrics is optional.
	Metrics *stats.Metrics
}

// New creates the state for one process with offline defaults.
func New(opts Options) *App {
	return &App{
		Presence:   presence.NewCache(opts.UserID, opts.Presence),
		Connection: NewConnection(opts.Metrics),
		Stats:      stats.New(opts.Metrics),
		Metrics:    opts.Metrics,
	}
}

// ///////////////////////////////////////////////
// Connection
// ///////////////////////////////////////////////

// ConnectionStatus is a read-only copy of the connection state.
type ConnectionStatus struct {
	Connected bool
	// Err is the last recorded failure; nil while connected.
	Err error
	// Since is when the state last changed.
	Since time.Time
}

// Connection tracks whether the gateway session is connected and the last
// error it reported. A successful connection always clears the error.
type Connection struct {
	mu        sync.RWMutex
	connected bool
	lastErr   error
	since     time.Time
	metrics   *stats.Metrics
}

// NewConnection returns a disconnected Connection with no error.
func NewConnection(metrics *stats.Metrics) *Connection {
	metrics.SetConnected(false)
	return &Connection{since: time.Now(), metrics: metrics}
}

// MarkConnected records a successful connection and clears the last error.
func (c *Connection) MarkConnected() {
	c.mu.Lock()
	c.connected = true
	c.lastErr = nil
	c.since = time.Now()
	c.mu.Unlock()
	c.metrics.SetConnected(true)
}

// MarkFailed records a connection failure or mid-session error.
func (c *Connection) MarkFailed(err error) {
	c.mu.Lock()
	c.connected = false
	c.lastErr = err
	c.since = time.Now()
	c.mu.Unlock()
	c.metrics.SetConnected(false)
}

// MarkClosed records an orderly shutdown: disconnected, error unchanged.
func (c *Connection) MarkClosed() {
	c.mu.Lock()
	c.connected = false
	c.since = time.Now()
	c.mu.Unlock()
	c.metrics.SetConnected(false)
}

// Status returns the current connection state.
func (c *Connection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConnectionStatus{Connected: c.connected, Err: c.lastErr, Since: c.since}
}

// Connected reports whether the session is currently connected.
func (c *Connection) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}
