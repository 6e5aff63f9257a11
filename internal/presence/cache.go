package presence

import (
	"fmt"
	"sync"
)

// DefaultAvatarURL is the avatar shown when the user has no custom avatar.
const DefaultAvatarURL = "https://cdn.discordapp.com/embed/avatars/0.png"

// avatarURLFormat is the CDN template for a custom avatar: user ID, then hash.
const avatarURLFormat = "https://cdn.discordapp.com/avatars/%s/%s.png"

// AvatarURL returns the CDN URL for a user's avatar, or fallback when the
// avatar hash is empty.
func AvatarURL(userID, avatarHash, fallback string) string {
	if avatarHash == "" {
		return fallback
	}
	return fmt.Sprintf(avatarURLFormat, userID, avatarHash)
}

// ///////////////////////////////////////////////
// Snapshot
// ///////////////////////////////////////////////

// Snapshot is the latest known presence of the tracked user.
type Snapshot struct {
	UserID     string     `json:"id"`
	Username   string     `json:"username"`
	AvatarURL  string     `json:"avatar"`
	Status     Status     `json:"status"`
	Activities []Activity `json:"activities"`
}

// clone returns a copy whose activity slice is not shared with s.
func (s Snapshot) clone() Snapshot {
	out := s
	out.Activities = make([]Activity, len(s.Activities))
	copy(out.Activities, s.Activities)
	return out
}

// Profile is the identity part of a pull refresh.
type Profile struct {
	ID         string
	Username   string
	AvatarHash string
}

// ///////////////////////////////////////////////
// Cache
// ///////////////////////////////////////////////

// Options configures a [Cache].
type Options struct {
	// DisplayName overrides the platform username when non-empty.
	DisplayName string
	// DefaultAvatar is used when the user has no avatar hash. Empty means
	// [DefaultAvatarURL].
	DefaultAvatar string
}

// Cache owns the single [Snapshot] of the process. Both mutation paths and
// reads are serialized by mu, so a reader never observes status and
// activities from two different sources.
type Cache struct {
	// mu guards every field below.
	mu sync.RWMutex
	// snap is the current snapshot.
	snap Snapshot
	// displayName is the configured username override.
	displayName string
	// defaultAvatar is the fallback avatar URL.
	defaultAvatar string
}

// NewCache creates a cache for userID holding the offline default snapshot.
func NewCache(userID string, opts Options) *Cache {
	if opts.DefaultAvatar == "" {
		opts.DefaultAvatar = DefaultAvatarURL
	}
	return &Cache{
		snap: Snapshot{
			UserID:     userID,
			Username:   opts.DisplayName,
			AvatarURL:  opts.DefaultAvatar,
			Status:     StatusOffline,
			Activities: []Activity{},
		},
		displayName:   opts.DisplayName,
		defaultAvatar: opts.DefaultAvatar,
	}
}

// Get returns a copy of the current snapshot.
func (c *Cache) Get() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap.clone()
}

// ApplyFromEvent overwrites status and activities from a gateway push event.
// It returns the snapshot as it was before the update and whether status or
// activities changed.
func (c *Cache) ApplyFromEvent(status Status, activities []Activity) (prev Snapshot, changed bool) {
	acts := normalize(activities)

	c.mu.Lock()
	defer c.mu.Unlock()

	prev = c.snap.clone()
	c.snap.Status = status
	c.snap.Activities = acts
	changed = prev.Status != status || !ActivitiesEqual(prev.Activities, acts)
	return prev, changed
}

// ApplyFromRefresh overwrites identity, status, and activities from a pull
// refresh. The username is the configured display name when one is set.
func (c *Cache) ApplyFromRefresh(profile Profile, status Status, activities []Activity) Snapshot {
	acts := normalize(activities)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.snap.Username = profile.Username
	if c.displayName != "" {
		c.snap.Username = c.displayName
	}
	c.snap.AvatarURL = AvatarURL(c.snap.UserID, profile.AvatarHash, c.defaultAvatar)
	c.snap.Status = status
	c.snap.Activities = acts
	return c.snap.clone()
}

// SetDisplayName replaces the username override. A non-empty name takes
// effect immediately; an empty one takes effect on the next refresh.
func (c *Cache) SetDisplayName(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.displayName = name
	if name != "" {
		c.snap.Username = name
	}
}

// SetDefaultAvatar replaces the fallback avatar URL, updating the snapshot
// when it currently shows the old fallback.
func (c *Cache) SetDefaultAvatar(url string) {
	if url == "" {
		url = DefaultAvatarURL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.snap.AvatarURL == c.defaultAvatar {
		c.snap.AvatarURL = url
	}
	c.defaultAvatar = url
}

// normalize copies activities into a non-nil slice so that the snapshot
// never aliases caller memory and always encodes as a JSON array.
func normalize(activities []Activity) []Activity {
	out := make([]Activity, len(activities))
	copy(out, activities)
	return out
}
