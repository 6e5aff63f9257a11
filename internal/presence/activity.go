// Package presence holds the mirrored presence of the tracked Discord user.
//
// A [Snapshot] is the single source of truth served by the HTTP API. It is
// owned by a [Cache] and overwritten wholesale, either from a gateway push
// event ([Cache.ApplyFromEvent]) or from a pull-based refresh
// ([Cache.ApplyFromRefresh]).
package presence

import "fmt"

// ///////////////////////////////////////////////
// Status
// ///////////////////////////////////////////////

// Status is the online status reported by Discord.
type Status string

const (
	StatusOnline  Status = "online"
	StatusIdle    Status = "idle"
	StatusDND     Status = "dnd"
	StatusOffline Status = "offline"
)

// ParseStatus maps a raw platform status to a [Status]. Invisible users are
// reported to other users as offline, and unknown values fall back to offline.
func ParseStatus(s string) Status {
	switch Status(s) {
	case StatusOnline, StatusIdle, StatusDND:
		return Status(s)
	default:
		return StatusOffline
	}
}

// ///////////////////////////////////////////////
// Activity
// ///////////////////////////////////////////////

// ActivityType is the platform-defined kind of an activity.
type ActivityType int

const (
	ActivityPlaying   ActivityType = 0
	ActivityStreaming ActivityType = 1
	ActivityListening ActivityType = 2
	ActivityWatching  ActivityType = 3
	ActivityCustom    ActivityType = 4
	ActivityCompeting ActivityType = 5
)

// String returns the lowercase name of the activity type.
func (t ActivityType) String() string {
	switch t {
	case ActivityPlaying:
		return "playing"
	case ActivityStreaming:
		return "streaming"
	case ActivityListening:
		return "listening"
	case ActivityWatching:
		return "watching"
	case ActivityCustom:
		return "custom"
	case ActivityCompeting:
		return "competing"
	default:
		return fmt.Sprintf("type(%d)", int(t))
	}
}

// Activity is one "doing X" entry of a presence. Activities are values:
// they are replaced as a whole and never edited in place. Optional fields
// are nil when the platform did not report them, which renders as JSON null.
type Activity struct {
	Name           string            `json:"name"`
	Type           ActivityType      `json:"type"`
	State          *string           `json:"state"`
	Details        *string           `json:"details"`
	Assets         map[string]string `json:"assets"`
	ApplicationID  *string           `json:"application_id"`
	StartTimestamp *int64            `json:"start_timestamp"`
}

// Equal reports whether a and b carry the same values.
func (a Activity) Equal(b Activity) bool {
	if a.Name != b.Name || a.Type != b.Type {
		return false
	}
	if !equalPtr(a.State, b.State) || !equalPtr(a.Details, b.Details) ||
		!equalPtr(a.ApplicationID, b.ApplicationID) || !equalPtr(a.StartTimestamp, b.StartTimestamp) {
		return false
	}
	if len(a.Assets) != len(b.Assets) || (a.Assets == nil) != (b.Assets == nil) {
		return false
	}
	for k, v := range a.Assets {
		if bv, ok := b.Assets[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

// ActivitiesEqual reports whether two activity lists are equal element-wise.
func ActivitiesEqual(a, b []Activity) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Names returns the activity names in order.
func Names(activities []Activity) []string {
	names := make([]string, len(activities))
	for i, a := range activities {
		names[i] = a.Name
	}
	return names
}

// OptionalString returns nil for an empty string and a pointer to s otherwise.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func equalPtr[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
