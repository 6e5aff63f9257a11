package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// ///////////////////////////////////////////////
// Platform
// ///////////////////////////////////////////////

// Platform is the part of the Discord client the session depends on. It is
// satisfied by the discordgo adapter returned from [NewPlatform] and by
// fakes in tests.
type Platform interface {
	// AddHandler registers an event handler with the client's dispatch loop.
	AddHandler(handler any) func()
	// Open connects to the gateway.
	Open() error
	// Close disconnects from the gateway.
	Close() error
	// FetchUser loads a user profile over REST.
	FetchUser(ctx context.Context, userID string) (*discordgo.User, error)
	// GuildIDs lists the guilds the session belongs to, in state order.
	GuildIDs() []string
	// HasMember reports whether userID is a cached member of guildID.
	HasMember(guildID, userID string) bool
	// Presence returns the cached presence of userID in guildID.
	Presence(guildID, userID string) (*discordgo.Presence, error)
}

// Intents requested on identify: guild list, member cache, and presences.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers | discordgo.IntentsGuildPresences

// discordPlatform adapts a [*discordgo.Session] to [Platform].
type discordPlatform struct {
	s *discordgo.Session
}

// NewPlatform creates a discordgo session for a bot token. REST calls go
// through httpClient when it is non-nil.
func NewPlatform(token string, httpClient *http.Client) (Platform, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	s.State.TrackMembers = true
	s.State.TrackPresences = true
	if httpClient != nil {
		s.Client = httpClient
	}
	return &discordPlatform{s: s}, nil
}

func (p *discordPlatform) AddHandler(handler any) func() { return p.s.AddHandler(handler) }

func (p *discordPlatform) Open() error { return p.s.Open() }

func (p *discordPlatform) Close() error { return p.s.Close() }

func (p *discordPlatform) FetchUser(ctx context.Context, userID string) (*discordgo.User, error) {
	return p.s.User(userID, discordgo.WithContext(ctx))
}

func (p *discordPlatform) GuildIDs() []string {
	p.s.State.RLock()
	defer p.s.State.RUnlock()

	ids := make([]string, 0, len(p.s.State.Guilds))
	for _, g := range p.s.State.Guilds {
		ids = append(ids, g.ID)
	}
	return ids
}

func (p *discordPlatform) HasMember(guildID, userID string) bool {
	m, err := p.s.State.Member(guildID, userID)
	return err == nil && m != nil
}

func (p *discordPlatform) Presence(guildID, userID string) (*discordgo.Presence, error) {
	return p.s.State.Presence(guildID, userID)
}

// ///////////////////////////////////////////////
// Library Logging
// ///////////////////////////////////////////////

// RouteLibraryLogs sends discordgo's internal log output to slog.
func RouteLibraryLogs() {
	discordgo.Logger = func(msgL, _ int, format string, a ...any) {
		msg := strings.TrimSpace(fmt.Sprintf(format, a...))
		switch msgL {
		case discordgo.LogError:
			slog.Error("discordgo", "detail", msg)
		case discordgo.LogWarning:
			slog.Warn("discordgo", "detail", msg)
		case discordgo.LogInformational:
			slog.Info("discordgo", "detail", msg)
		default:
			slog.Debug("discordgo", "detail", msg)
		}
	}
}
