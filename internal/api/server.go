// Package api serves the read-only HTTP surface: the presence snapshot, the
// gateway connection status and interaction statistics.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"tools.zach/dev/oracle/internal/state"
	"tools.zach/dev/oracle/internal/stats"
)

// ///////////////////////////////////////////////
// Server
// ///////////////////////////////////////////////

// Options configures a [Server].
type Options struct {
	DataPath   string
	StatusPath string
	StatsPath  string
	// MetricsPath serves Metrics when both are set.
	MetricsPath string
	Metrics     http.Handler
	// AllowedOrigins is the initial CORS allow-list; see [Server.SetAllowedOrigins].
	AllowedOrigins []string
}

// Server routes API requests against the shared application state.
type Server struct {
	app *state.App
	mux *http.ServeMux
	// origins holds the current CORS allow-list.
	origins atomic.Pointer[[]string]
}

// New builds a Server over app.
func New(app *state.App, opts Options) *Server {
	s := &Server{app: app, mux: http.NewServeMux()}
	s.SetAllowedOrigins(opts.AllowedOrigins)

	s.mux.HandleFunc("GET "+opts.DataPath, s.handleData)
	s.mux.HandleFunc("GET "+opts.StatusPath, s.handleStatus)
	s.mux.HandleFunc("GET "+opts.StatsPath, s.handleStats)
	if opts.MetricsPath != "" && opts.Metrics != nil {
		s.mux.Handle("GET "+opts.MetricsPath, opts.Metrics)
	}
	return s
}

// Handler returns the routes wrapped in request logging and CORS.
func (s *Server) Handler() http.Handler {
	return logRequests(s.cors(s.mux))
}

// SetAllowedOrigins replaces the CORS allow-list. Safe for concurrent use.
func (s *Server) SetAllowedOrigins(origins []string) {
	list := append([]string(nil), origins...)
	s.origins.Store(&list)
}

// ///////////////////////////////////////////////
// Handlers
// ///////////////////////////////////////////////

// statusBody is the /status response.
type statusBody struct {
	IsConnected bool `json:"isConnected"`
	// Error is null when no failure is recorded.
	Error *string `json:"error"`
}

// statsBody is the /stats response. Times are epoch milliseconds and
// durations are milliseconds, except Uptime which is in seconds.
type statsBody struct {
	Uptime                   float64           `json:"uptime"`
	InteractionCount         stats.Counters    `json:"interactionCount"`
	LastInteractionTime      int64             `json:"lastInteractionTime"`
	TimeSinceLastInteraction int64             `json:"timeSinceLastInteraction"`
	IsConnected              bool              `json:"isConnected"`
	MemoryUsage              stats.MemoryUsage `json:"memoryUsage"`
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	s.app.Stats.RecordHit(stats.EndpointData)
	writeJSON(w, http.StatusOK, s.app.Presence.Get())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.app.Stats.RecordHit(stats.EndpointStatus)

	conn := s.app.Connection.Status()
	body := statusBody{IsConnected: conn.Connected}
	if conn.Err != nil {
		msg := conn.Err.Error()
		body.Error = &msg
	}
	code := http.StatusOK
	if !conn.Connected {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.app.Stats.RecordHit(stats.EndpointStats)

	snap := s.app.Stats.Snapshot()
	writeJSON(w, http.StatusOK, statsBody{
		Uptime:                   snap.Uptime.Seconds(),
		InteractionCount:         snap.Counters,
		LastInteractionTime:      snap.LastInteraction.UnixMilli(),
		TimeSinceLastInteraction: snap.SinceLastInteraction.Milliseconds(),
		IsConnected:              s.app.Connection.Connected(),
		MemoryUsage:              snap.Memory,
	})
}

// writeJSON writes v as a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
