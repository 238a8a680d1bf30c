package models

import "time"

// ActivityKind classifies a single presence activity entry. Only "playing"
// activities feed game detection; the rest ride along for completeness.
type ActivityKind string

const (
	ActivityPlaying   ActivityKind = "playing"
	ActivityStreaming ActivityKind = "streaming"
	ActivityListening ActivityKind = "listening"
	ActivityWatching  ActivityKind = "watching"
	ActivityCustom    ActivityKind = "custom"
)

// Activity is one entry of a member's presence activity list.
type Activity struct {
	Kind ActivityKind
	Name string
}

// MemberHint carries the display metadata attached to a presence event.
type MemberHint struct {
	DisplayName string
	AvatarHash  string
	Activities  []Activity
}

// PrimaryGameActivityName returns the name of the first "playing" activity,
// or "" if the member reports none.
func (m MemberHint) PrimaryGameActivityName() string {
	for _, a := range m.Activities {
		if a.Kind == ActivityPlaying && a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// VoiceStateEvent is a raw join/leave/move notification for one user.
type VoiceStateEvent struct {
	UserID        string
	OldChannelID  string // empty means "was not in a voice channel"
	NewChannelID  string // empty means "left voice entirely"
	Timestamp     time.Time
	MemberHint    MemberHint
}

// PresenceUpdateEvent is a raw activity-change notification, used only for
// in-channel game-switch detection. It never drives join/leave.
type PresenceUpdateEvent struct {
	UserID     string
	Timestamp  time.Time
	MemberHint MemberHint
}

// GuildMemberAddEvent announces a newly-joined guild member.
type GuildMemberAddEvent struct {
	UserID     string
	Username   string
	AvatarHash string
	Timestamp  time.Time
}
