package gateway

import (
	"context"
	"errors"
	"fmt"

	"tools.zach/dev/oracle/internal/presence"
	"tools.zach/dev/oracle/internal/state"
)

// ///////////////////////////////////////////////
// Sentinel Errors
// ///////////////////////////////////////////////

// Refresh failures. Each one leaves the snapshot untouched.
var (
	ErrUserNotFound      = errors.New("tracked user not found")
	ErrNoGuildMembership = errors.New("tracked user is not a member of any guild")
	ErrNoPresence        = errors.New("no presence record for tracked user")
)

// skipReason returns the metric label for a refresh failure.
func skipReason(err error) string {
	switch {
	case errors.Is(err, ErrNoGuildMembership):
		return "guild"
	case errors.Is(err, ErrNoPresence):
		return "presence"
	default:
		return "user"
	}
}

// ///////////////////////////////////////////////
// Refresher
// ///////////////////////////////////////////////

// Refresher re-derives the snapshot by pulling the user profile and the
// guild presence, correcting for presence events the gateway never delivered.
type Refresher struct {
	userID   string
	platform Platform
	app      *state.App
}

// NewRefresher creates a Refresher for userID.
func NewRefresher(userID string, platform Platform, app *state.App) *Refresher {
	return &Refresher{userID: userID, platform: platform, app: app}
}

// Refresh fetches the tracked user, locates the first guild (in state order)
// where they are a member, resolves their presence there, and overwrites the
// snapshot. Any failure returns an error and leaves the snapshot unchanged.
func (r *Refresher) Refresh(ctx context.Context) (presence.Snapshot, error) {
	user, err := r.platform.FetchUser(ctx, r.userID)
	if err != nil {
		return presence.Snapshot{}, fmt.Errorf("%w: %w", ErrUserNotFound, err)
	}
	if user == nil {
		return presence.Snapshot{}, ErrUserNotFound
	}

	guildID, ok := r.findGuild()
	if !ok {
		return presence.Snapshot{}, ErrNoGuildMembership
	}

	p, err := r.platform.Presence(guildID, r.userID)
	if err != nil {
		return presence.Snapshot{}, fmt.Errorf("%w in guild %s: %w", ErrNoPresence, guildID, err)
	}
	if p == nil {
		return presence.Snapshot{}, fmt.Errorf("%w in guild %s", ErrNoPresence, guildID)
	}

	profile := presence.Profile{ID: user.ID, Username: user.Username, AvatarHash: user.Avatar}
	snap := r.app.Presence.ApplyFromRefresh(profile, presence.ParseStatus(string(p.Status)), toActivities(p.Activities))
	r.app.Metrics.PresenceApplied("refresh")
	return snap, nil
}

// findGuild returns the first guild containing the tracked user.
func (r *Refresher) findGuild() (string, bool) {
	for _, id := range r.platform.GuildIDs() {
		if r.platform.HasMember(id, r.userID) {
			return id, true
		}
	}
	return "", false
}
