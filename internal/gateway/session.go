// Package gateway supervises the single Discord gateway connection and keeps
// the presence snapshot in sync with it.
//
// Push path: [Session] handles PresenceUpdate events for the tracked user and
// overwrites status and activities. Pull path: [Refresher] re-fetches the user
// and their guild presence on connect and on every scheduler tick. Both paths
// write through [state.App], and the last completed write wins.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"tools.zach/dev/oracle/internal/logger"
	"tools.zach/dev/oracle/internal/presence"
	"tools.zach/dev/oracle/internal/state"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

var (
	// ErrNoToken is returned by [Session.Start] when no bot token is configured.
	ErrNoToken = errors.New("discord bot token not configured")
	// ErrAlreadyStarted is returned when [Session.Start] is called twice.
	ErrAlreadyStarted = errors.New("gateway session already started")
	// ErrDisconnected is recorded when the gateway drops mid-session.
	ErrDisconnected = errors.New("gateway disconnected")
	// ErrClosed is returned by [Session.Start] once the session is closed.
	ErrClosed = errors.New("gateway session closed")
)

// ///////////////////////////////////////////////
// Session
// ///////////////////////////////////////////////

// Session owns the gateway connection for one tracked user.
type Session struct {
	// userID is the tracked user; presence events for other users are ignored.
	userID string
	// app receives every state mutation.
	app *state.App
	// platform is the Discord client, or nil when no token is configured.
	platform Platform
	// refresher performs pull refreshes.
	refresher *Refresher

	// mu guards started, closed and removers, and orders connection state
	// changes made by Start, Close and the lifecycle handlers.
	mu sync.Mutex
	// started is set once a connection attempt has been made.
	started bool
	// closed is set by [Session.Close]; no state change is recorded after it.
	closed bool
	// removers unregister the event handlers on [Session.Close].
	removers []func()
	// ready is true between a Ready (or Resumed) event and the next Disconnect.
	ready atomic.Bool

	// dispatch runs refresh work off the event loop; replaced in tests.
	dispatch func(func())
}

// NewSession creates a session for userID. A nil platform means no token is
// configured: the session stays disconnected and never connects.
func NewSession(userID string, app *state.App, platform Platform) *Session {
	s := &Session{
		userID:   userID,
		app:      app,
		platform: platform,
		dispatch: func(f func()) { go f() },
	}
	if platform != nil {
		s.refresher = NewRefresher(userID, platform, app)
	}
	return s
}

// Start registers the event handlers and opens the gateway connection.
// Failures are recorded in the connection state and returned for logging;
// they are never fatal to the process. When [Session.Close] runs while Open
// is in flight, the new connection is torn down and ErrClosed is returned.
func (s *Session) Start(ctx context.Context) error {
	if s.platform == nil {
		return ErrNoToken
	}

	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case s.started:
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.removers = append(s.removers,
		s.platform.AddHandler(s.handleReady),
		s.platform.AddHandler(s.handleResumed),
		s.platform.AddHandler(s.handlePresenceUpdate),
		s.platform.AddHandler(s.handleDisconnect),
	)
	s.mu.Unlock()

	slog.Info("connecting to discord gateway")
	openErr := s.platform.Open()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		if openErr == nil {
			if err := s.platform.Close(); err != nil {
				slog.Warn("closing gateway opened after shutdown", "error", err)
			}
		}
		return ErrClosed
	}
	if openErr != nil {
		err := fmt.Errorf("open gateway: %w", openErr)
		s.app.Connection.MarkFailed(err)
		s.mu.Unlock()
		return err
	}
	s.app.Connection.MarkConnected()
	s.mu.Unlock()

	slog.Info("discord gateway connection established")
	s.triggerRefresh(ctx)
	return nil
}

// Close disconnects from the gateway. It is a no-op without a platform and
// on every call after the first.
func (s *Session) Close() error {
	if s.platform == nil {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	removers := s.removers
	s.removers = nil
	s.ready.Store(false)
	s.app.Connection.MarkClosed()
	s.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
	if err := s.platform.Close(); err != nil {
		return fmt.Errorf("close gateway: %w", err)
	}
	return nil
}

// Live reports whether the session is connected and has received Ready.
func (s *Session) Live() bool {
	return s.platform != nil && s.ready.Load() && s.app.Connection.Connected()
}

// Tick runs one scheduled refresh when the session is live.
func (s *Session) Tick(ctx context.Context) {
	if !s.Live() {
		slog.Debug("refresh tick skipped, gateway not ready")
		s.app.Metrics.RefreshSkipped("not_ready")
		return
	}
	slog.Debug("keep-alive refresh tick")
	s.refresh(ctx)
}

// refresh runs the pull refresh and logs a soft failure.
func (s *Session) refresh(ctx context.Context) {
	snap, err := s.refresher.Refresh(ctx)
	if err != nil {
		slog.Warn("presence refresh skipped", "user_id", s.userID, "error", err)
		s.app.Metrics.RefreshSkipped(skipReason(err))
		return
	}
	slog.Info("presence refreshed",
		"user_id", s.userID,
		"status", string(snap.Status),
		"activities", len(snap.Activities),
	)
}

// triggerRefresh schedules a refresh without blocking the caller.
func (s *Session) triggerRefresh(ctx context.Context) {
	s.dispatch(func() { s.refresh(ctx) })
}

// ///////////////////////////////////////////////
// Event Handlers
// ///////////////////////////////////////////////

func (s *Session) handleReady(_ *discordgo.Session, r *discordgo.Ready) {
	args := []any{}
	if r != nil && r.User != nil {
		args = append(args, "bot", r.User.Username, "bot_id", r.User.ID, "guilds", len(r.Guilds))
	}
	slog.Info("discord gateway ready", args...)

	if !s.markLive() {
		return
	}
	s.triggerRefresh(context.Background())
}

func (s *Session) handleResumed(_ *discordgo.Session, _ *discordgo.Resumed) {
	slog.Info("discord gateway session resumed")
	s.markLive()
}

func (s *Session) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	slog.Error("discord gateway error", "error", ErrDisconnected)
	s.ready.Store(false)
	s.app.Connection.MarkFailed(ErrDisconnected)
}

// markLive records a Ready or Resumed event. It reports false once the
// session is closed.
func (s *Session) markLive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ready.Store(true)
	s.app.Connection.MarkConnected()
	return true
}

func (s *Session) handlePresenceUpdate(_ *discordgo.Session, p *discordgo.PresenceUpdate) {
	if p == nil || p.User == nil {
		return
	}
	if p.User.ID != s.userID {
		logger.Trace(slog.Default(), "presence event ignored", "user_id", p.User.ID)
		return
	}

	status := presence.ParseStatus(string(p.Status))
	activities := toActivities(p.Activities)
	prev, changed := s.app.Presence.ApplyFromEvent(status, activities)
	s.app.Metrics.PresenceApplied("event")

	if !changed {
		return
	}
	slog.Info("user presence updated",
		"user_id", s.userID,
		"old_status", string(prev.Status),
		"new_status", string(status),
		"activities_updated", !presence.ActivitiesEqual(prev.Activities, activities),
		"activity_names", presence.Names(activities),
	)
}
