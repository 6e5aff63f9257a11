package gateway

import (
	"github.com/bwmarrin/discordgo"

	"tools.zach/dev/oracle/internal/presence"
)

// toActivities maps raw platform activities to [presence.Activity] values,
// keeping the platform's order. Empty optional fields become nil.
func toActivities(raw []*discordgo.Activity) []presence.Activity {
	out := make([]presence.Activity, 0, len(raw))
	for _, a := range raw {
		if a == nil {
			continue
		}
		out = append(out, toActivity(a))
	}
	return out
}

func toActivity(a *discordgo.Activity) presence.Activity {
	act := presence.Activity{
		Name:          a.Name,
		Type:          presence.ActivityType(a.Type),
		State:         presence.OptionalString(a.State),
		Details:       presence.OptionalString(a.Details),
		Assets:        toAssets(a.Assets),
		ApplicationID: presence.OptionalString(a.ApplicationID),
	}
	if start := a.Timestamps.StartTimestamp; start != 0 {
		act.StartTimestamp = &start
	}
	return act
}

// toAssets returns the non-empty asset references, or nil when there are none.
func toAssets(a discordgo.Assets) map[string]string {
	assets := make(map[string]string, 4)
	if a.LargeImageID != "" {
		assets["largeImage"] = a.LargeImageID
	}
	if a.LargeText != "" {
		assets["largeText"] = a.LargeText
	}
	if a.SmallImageID != "" {
		assets["smallImage"] = a.SmallImageID
	}
	if a.SmallText != "" {
		assets["smallText"] = a.SmallText
	}
	if len(assets) == 0 {
		return nil
	}
	return assets
}
