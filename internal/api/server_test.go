package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"tools.zach/dev/oracle/internal/gateway"
	"tools.zach/dev/oracle/internal/logger"
	"tools.zach/dev/oracle/internal/presence"
	"tools.zach/dev/oracle/internal/state"
	"tools.zach/dev/oracle/internal/stats"
)

const testUserID = "1046834138583412856"

// testOptions mirrors the default route layout.
func testOptions() Options {
	return Options{
		DataPath:       "/api/discord/discord-data",
		StatusPath:     "/api/discord/status",
		StatsPath:      "/api/stats",
		AllowedOrigins: []string{"http://localhost:3001", "https://*.vercel.app"},
	}
}

// newTestServer returns a server over fresh state.
func newTestServer(t *testing.T, opts Options) (*Server, *state.App) {
	t.Helper()
	app := state.New(state.Options{UserID: testUserID})
	return New(app, opts), app
}

// do sends a request through the full handler chain.
func do(t *testing.T, h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// decode unmarshals the recorder body into a generic map.
func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

// captureLogs routes the default slog logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(logger.NewHandler(logger.Sinks{File: &buf}, logger.LevelDebug)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

// ///////////////////////////////////////////////
// Data
// ///////////////////////////////////////////////

func TestData_DefaultSnapshot(t *testing.T) {
	s, app := newTestServer(t, testOptions())

	rec := do(t, s.Handler(), http.MethodGet, "/api/discord/discord-data", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	body := decode(t, rec)
	if body["id"] != testUserID {
		t.Errorf("id = %v, want %s", body["id"], testUserID)
	}
	if body["status"] != "offline" {
		t.Errorf("status = %v, want offline", body["status"])
	}
	if acts, ok := body["activities"].([]any); !ok || len(acts) != 0 {
		t.Errorf("activities = %v, want empty array", body["activities"])
	}
	if got := app.Stats.Snapshot().Counters; got.DataRequests != 1 || got.Total != 1 {
		t.Errorf("counters = %+v, want one data request", got)
	}
}

func TestData_ReflectsCache(t *testing.T) {
	s, app := newTestServer(t, testOptions())
	app.Presence.ApplyFromEvent(presence.StatusDND, []presence.Activity{{Name: "Code", Type: presence.ActivityPlaying}})

	body := decode(t, do(t, s.Handler(), http.MethodGet, "/api/discord/discord-data", nil))
	if body["status"] != "dnd" {
		t.Errorf("status = %v, want dnd", body["status"])
	}
	acts := body["activities"].([]any)
	if len(acts) != 1 || acts[0].(map[string]any)["name"] != "Code" {
		t.Errorf("activities = %v", acts)
	}
}

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

func TestStatus(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(c *state.Connection)
		wantCode  int
		wantConn  bool
		wantError any
	}{
		{"never connected", func(*state.Connection) {}, http.StatusServiceUnavailable, false, nil},
		{"connected", func(c *state.Connection) { c.MarkConnected() }, http.StatusOK, true, nil},
		{"failed", func(c *state.Connection) { c.MarkFailed(errors.New("login failed")) }, http.StatusServiceUnavailable, false, "login failed"},
		{"reconnected clears error", func(c *state.Connection) {
			c.MarkFailed(errors.New("gone"))
			c.MarkConnected()
		}, http.StatusOK, true, nil},
		{"closed keeps error", func(c *state.Connection) {
			c.MarkFailed(errors.New("gone"))
			c.MarkClosed()
		}, http.StatusServiceUnavailable, false, "gone"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, app := newTestServer(t, testOptions())
			tt.setup(app.Connection)

			rec := do(t, s.Handler(), http.MethodGet, "/api/discord/status", nil)
			if rec.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rec.Code, tt.wantCode)
			}
			body := decode(t, rec)
			if body["isConnected"] != tt.wantConn {
				t.Errorf("isConnected = %v, want %v", body["isConnected"], tt.wantConn)
			}
			if errVal, present := body["error"]; !present || errVal != tt.wantError {
				t.Errorf("error = %v (present %v), want %v", errVal, present, tt.wantError)
			}
			if got := app.Stats.Snapshot().Counters.StatusRequests; got != 1 {
				t.Errorf("StatusRequests = %d, want 1", got)
			}
		})
	}
}

func TestStatus_NoTokenServesUnavailable(t *testing.T) {
	s, app := newTestServer(t, testOptions())
	sess := gateway.NewSession(testUserID, app, nil)
	if err := sess.Start(context.Background()); !errors.Is(err, gateway.ErrNoToken) {
		t.Fatalf("Start error = %v, want ErrNoToken", err)
	}

	rec := do(t, s.Handler(), http.MethodGet, "/api/discord/status", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("code = %d, want 503", rec.Code)
	}
	if body := decode(t, rec); body["isConnected"] != false || body["error"] != nil {
		t.Errorf("body = %v, want disconnected without error", body)
	}
}

// ///////////////////////////////////////////////
// Stats
// ///////////////////////////////////////////////

func TestStats_CountsIncludeCurrentRequest(t *testing.T) {
	s, app := newTestServer(t, testOptions())
	h := s.Handler()
	do(t, h, http.MethodGet, "/api/discord/discord-data", nil)
	do(t, h, http.MethodGet, "/api/discord/discord-data", nil)
	do(t, h, http.MethodGet, "/api/discord/status", nil)
	app.Connection.MarkConnected()

	rec := do(t, h, http.MethodGet, "/api/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	var body struct {
		Uptime           float64        `json:"uptime"`
		InteractionCount stats.Counters `json:"interactionCount"`
		LastInteraction  int64          `json:"lastInteractionTime"`
		SinceLast        *int64         `json:"timeSinceLastInteraction"`
		IsConnected      bool           `json:"isConnected"`
		MemoryUsage      map[string]any `json:"memoryUsage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := stats.Counters{Total: 4, DataRequests: 2, StatusRequests: 1, StatsRequests: 1}
	if body.InteractionCount != want {
		t.Errorf("interactionCount = %+v, want %+v", body.InteractionCount, want)
	}
	if !body.IsConnected {
		t.Error("isConnected = false, want true")
	}
	if body.LastInteraction <= 0 || body.SinceLast == nil || *body.SinceLast < 0 {
		t.Errorf("interaction times = %d / %v", body.LastInteraction, body.SinceLast)
	}
	if body.Uptime < 0 {
		t.Errorf("uptime = %f", body.Uptime)
	}
	for _, k := range []string{"heapAlloc", "heapSys", "sys", "numGC"} {
		if _, ok := body.MemoryUsage[k]; !ok {
			t.Errorf("memoryUsage missing %q", k)
		}
	}
}

// ///////////////////////////////////////////////
// Routing
// ///////////////////////////////////////////////

func TestRouting_RejectsOtherMethods(t *testing.T) {
	s, app := newTestServer(t, testOptions())

	rec := do(t, s.Handler(), http.MethodPost, "/api/discord/discord-data", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("code = %d, want 405", rec.Code)
	}
	if got := app.Stats.Snapshot().Counters.Total; got != 0 {
		t.Errorf("Total = %d, want 0", got)
	}
}

func TestRouting_UnknownPath(t *testing.T) {
	s, _ := newTestServer(t, testOptions())
	if rec := do(t, s.Handler(), http.MethodGet, "/api/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", rec.Code)
	}
}

func TestRouting_Metrics(t *testing.T) {
	m := stats.NewMetrics()
	opts := testOptions()
	opts.MetricsPath = "/metrics"
	opts.Metrics = m.Handler()
	app := state.New(state.Options{UserID: testUserID, Metrics: m})
	h := New(app, opts).Handler()

	do(t, h, http.MethodGet, "/api/discord/discord-data", nil)
	rec := do(t, h, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `oracle_api_requests_total{endpoint="data"} 1`) {
		t.Errorf("metrics body missing data counter:\n%s", rec.Body.String())
	}
	if got := app.Stats.Snapshot().Counters.Total; got != 1 {
		t.Errorf("metrics scrape counted as interaction: Total = %d", got)
	}
}

// ///////////////////////////////////////////////
// CORS
// ///////////////////////////////////////////////

func TestCORS(t *testing.T) {
	tests := []struct {
		name      string
		origins   []string
		origin    string
		wantAllow string
		wantCreds bool
	}{
		{"listed origin", nil, "http://localhost:3001", "http://localhost:3001", true},
		{"glob origin", nil, "https://preview-1.vercel.app", "https://preview-1.vercel.app", true},
		{"unlisted origin", nil, "https://evil.example", "", false},
		{"no origin header", nil, "", "", false},
		{"wildcard", []string{"*"}, "https://any.example", "https://any.example", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := testOptions()
			if tt.origins != nil {
				opts.AllowedOrigins = tt.origins
			}
			s, _ := newTestServer(t, opts)
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}

			rec := do(t, s.Handler(), http.MethodGet, "/api/discord/discord-data", header)
			if rec.Code != http.StatusOK {
				t.Fatalf("code = %d, want 200", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantAllow {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.wantAllow)
			}
			if got := rec.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.wantCreds {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.wantCreds)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	s, app := newTestServer(t, testOptions())
	header := http.Header{}
	header.Set("Origin", "http://localhost:3001")
	header.Set("Access-Control-Request-Method", "GET")
	header.Set("Access-Control-Request-Headers", "content-type")

	rec := do(t, s.Handler(), http.MethodOptions, "/api/discord/status", header)
	if rec.Code != http.StatusNoContent {
		t.Errorf("code = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "content-type" {
		t.Errorf("Allow-Headers = %q", got)
	}
	if got := app.Stats.Snapshot().Counters.Total; got != 0 {
		t.Errorf("preflight counted as interaction: Total = %d", got)
	}
}

func TestCORS_SetAllowedOrigins(t *testing.T) {
	s, _ := newTestServer(t, testOptions())
	header := http.Header{}
	header.Set("Origin", "https://new.example")

	if got := do(t, s.Handler(), http.MethodGet, "/api/stats", header).Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("origin allowed before update: %q", got)
	}
	s.SetAllowedOrigins([]string{"https://new.example"})
	if got := do(t, s.Handler(), http.MethodGet, "/api/stats", header).Header().Get("Access-Control-Allow-Origin"); got != "https://new.example" {
		t.Errorf("Allow-Origin after update = %q", got)
	}
}

// ///////////////////////////////////////////////
// Request Logging
// ///////////////////////////////////////////////

func TestLogRequests(t *testing.T) {
	logs := captureLogs(t)
	s, _ := newTestServer(t, testOptions())

	header := http.Header{}
	header.Set("User-Agent", "probe/1.0")
	rec := do(t, s.Handler(), http.MethodGet, "/api/discord/status", header)

	id := rec.Header().Get("X-Request-Id")
	if len(id) != 36 {
		t.Errorf("X-Request-Id = %q, want a UUID", id)
	}
	out := logs.String()
	if !strings.Contains(out, "[INFO] request received") {
		t.Errorf("missing received record:\n%s", out)
	}
	if !strings.Contains(out, "[WARN] request finished") {
		t.Errorf("503 completion should log at WARN:\n%s", out)
	}
	for _, want := range []string{`"requestId": "` + id + `"`, `"status": 503`, `"userAgent": "probe/1.0"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %s", want)
		}
	}
}

func TestLogRequests_SuccessAtInfo(t *testing.T) {
	logs := captureLogs(t)
	s, _ := newTestServer(t, testOptions())

	do(t, s.Handler(), http.MethodGet, "/api/stats", nil)
	if !strings.Contains(logs.String(), "[INFO] request finished") {
		t.Errorf("200 completion should log at INFO:\n%s", logs.String())
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		remote string
		fwd    string
		want   string
	}{
		{"remote addr", "10.0.0.1:5555", "", "10.0.0.1"},
		{"forwarded", "10.0.0.1:5555", "203.0.113.9, 10.0.0.1", "203.0.113.9"},
		{"no port", "pipe", "", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			if tt.fwd != "" {
				r.Header.Set("X-Forwarded-For", tt.fwd)
			}
			if got := clientIP(r); got != tt.want {
				t.Errorf("clientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
